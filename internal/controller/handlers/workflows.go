package handlers

import (
	"errors"
	"net/http"

	"flowplane/internal/store"
	"flowplane/pkg/api"

	"github.com/google/uuid"
)

// CreateWorkflow handles POST /api/workflows.
// It saves a workflow definition with its nodes and edges.
func (h *Handlers) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.Workflow
	if err := decode(r, &req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		h.httpError(w, "Name is required", http.StatusBadRequest)
		return
	}
	if msg := validateGraph(req); msg != "" {
		h.httpError(w, msg, http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	wf := workflowFromAPI(req)

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	if err := h.store.CreateWorkflow(ctx, tx, wf); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			h.httpError(w, "Workflow already exists", http.StatusConflict)
			return
		}
		h.log(r).Error("create workflow", "workflow_id", wf.ID, "error", err)
		h.httpError(w, "Failed to create workflow", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(); err != nil {
		h.httpError(w, "Failed to commit transaction", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusCreated, workflowToAPI(wf))
}

// validateGraph rejects definitions whose ids are missing or duplicated.
// Dangling edges are accepted; the engine fails the instance that reaches one.
func validateGraph(wf api.Workflow) string {
	seen := make(map[string]struct{}, len(wf.Nodes)+len(wf.Edges))
	for _, n := range wf.Nodes {
		if n.ID == "" {
			return "Node id is required"
		}
		if _, dup := seen[n.ID]; dup {
			return "Duplicate id " + n.ID
		}
		seen[n.ID] = struct{}{}
	}
	for _, e := range wf.Edges {
		if e.ID == "" || e.Source == "" || e.Target == "" {
			return "Edge id, source and target are required"
		}
		if _, dup := seen[e.ID]; dup {
			return "Duplicate id " + e.ID
		}
		seen[e.ID] = struct{}{}
	}
	return ""
}

// ListWorkflows handles GET /api/workflows.
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.store.ListWorkflows(r.Context(), nil)
	if err != nil {
		h.httpError(w, "Failed to list workflows", http.StatusInternalServerError)
		return
	}

	resp := make([]api.Workflow, len(workflows))
	for i := range workflows {
		resp[i] = workflowToAPI(&workflows[i])
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetWorkflow handles GET /api/workflows/{id}.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.store.GetWorkflow(r.Context(), nil, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Workflow not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.httpError(w, "Failed to load workflow", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, workflowToAPI(wf))
}

// DeleteWorkflow handles DELETE /api/workflows/{id}.
// Executors and execution logs of past instances are kept.
func (h *Handlers) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteWorkflow(r.Context(), nil, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Workflow not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.httpError(w, "Failed to delete workflow", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InitiateWorkflow handles POST /api/workflows/{id}/initiate.
func (h *Handlers) InitiateWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")

	var req api.InitiateRequest
	if err := decode(r, &req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ServiceID == "" {
		h.httpError(w, "serviceId is required", http.StatusBadRequest)
		return
	}

	if status, msg := h.initiate(r, req.Type, workflowID, req.ServiceID, req.Name); msg != "" {
		h.httpError(w, msg, status)
		return
	}
	h.respondJson(w, http.StatusAccepted, api.MessageResponse{
		Message: "Workflow " + workflowID + " initiated for service " + req.ServiceID + ".",
	})
}
