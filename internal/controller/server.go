// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"flowplane/internal/controller/handlers"
	"flowplane/internal/controller/middleware"
	"flowplane/internal/store"
)

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// Options tune the server. The zero value serves without metrics or rate
// limiting and logs to slog.Default.
type Options struct {
	Logger         *slog.Logger
	MetricsHandler http.Handler
	RateLimit      float64
	RateLimitBurst int
}

// New creates a new controller server.
func New(addr string, st store.WorkflowStore, engines handlers.EngineResolver, opts Options) *Server {
	h := handlers.New(st, engines, opts.Logger)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      Routes(h, opts),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Routes builds the API handler tree.
func Routes(h *handlers.Handlers, opts Options) http.Handler {
	api := http.NewServeMux()

	// Workflow instances
	api.HandleFunc("GET /api/workflow-executors/services/{serviceId}", h.GetExecutorsByService)
	api.HandleFunc("GET /api/workflow-executors/details-by-service/{serviceId}", h.GetInstanceDetails)
	api.HandleFunc("POST /api/workflow-executors/{executorId}/approve", h.ApproveExecutor)
	api.HandleFunc("POST /api/workflow-executors/{executorId}/reject", h.RejectExecutor)
	api.HandleFunc("GET /api/workflow-executors/pending-approvals", h.GetPendingApprovals)
	api.HandleFunc("GET /api/workflow-executors/workflow-summary", h.GetWorkflowSummary)

	// Definitions
	api.HandleFunc("POST /api/workflows", h.CreateWorkflow)
	api.HandleFunc("GET /api/workflows", h.ListWorkflows)
	api.HandleFunc("GET /api/workflows/{id}", h.GetWorkflow)
	api.HandleFunc("DELETE /api/workflows/{id}", h.DeleteWorkflow)
	api.HandleFunc("POST /api/workflows/{id}/initiate", h.InitiateWorkflow)

	api.HandleFunc("POST /api/workflow-mappings", h.CreateMapping)
	api.HandleFunc("GET /api/workflow-mappings", h.ListMappings)

	api.HandleFunc("POST /api/tasks", h.CreateTask)
	api.HandleFunc("GET /api/tasks", h.ListTasks)
	api.HandleFunc("GET /api/tasks/{id}", h.GetTask)

	limited := middleware.NewRateLimiter(opts.RateLimit, opts.RateLimitBurst).Middleware()(api)

	// Probes and metrics bypass the rate limiter.
	mux := http.NewServeMux()
	mux.Handle("/api/", limited)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	return middleware.RequestID(opts.Logger)(mux)
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
