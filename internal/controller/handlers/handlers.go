// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"flowplane/internal/engine"
	"flowplane/internal/logger"
	"flowplane/internal/reporting"
	"flowplane/internal/store"
	"flowplane/pkg/api"

	json "github.com/goccy/go-json"
)

// EngineResolver picks the engine variant named by a request's type field.
// *engine.Registry implements it. Get requires a registered tag; Resolve
// also maps the empty tag to the default variant.
type EngineResolver interface {
	Get(tag string) (*engine.Engine, error)
	Resolve(tag string) (*engine.Engine, error)
}

// TaskEngineTag is the variant used to start a task's assigned workflow when
// it is registered.
const TaskEngineTag = "task"

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store   store.WorkflowStore
	engines EngineResolver
	reports *reporting.Service
	logger  *slog.Logger
}

// New creates a new Handlers instance.
func New(s store.WorkflowStore, engines EngineResolver, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		store:   s,
		engines: engines,
		reports: reporting.New(s),
		logger:  log,
	}
}

func (h *Handlers) log(r *http.Request) *slog.Logger {
	return logger.FromContext(r.Context(), h.logger)
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
