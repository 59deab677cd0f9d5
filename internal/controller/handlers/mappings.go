package handlers

import (
	"net/http"

	"flowplane/internal/store"
	"flowplane/pkg/api"
)

// CreateMapping handles POST /api/workflow-mappings.
func (h *Handlers) CreateMapping(w http.ResponseWriter, r *http.Request) {
	var req api.WorkflowMapping
	if err := decode(r, &req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.WorkflowID == "" || req.FunctionalityName == "" {
		h.httpError(w, "workflowId and functionalityName are required", http.StatusBadRequest)
		return
	}

	m := store.WorkflowMapping(req)
	if err := h.store.CreateMapping(r.Context(), nil, &m); err != nil {
		h.log(r).Error("create mapping", "workflow_id", m.WorkflowID, "error", err)
		h.httpError(w, "Failed to create mapping", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusCreated, mappingToAPI(m))
}

// ListMappings handles GET /api/workflow-mappings.
func (h *Handlers) ListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.store.ListMappings(r.Context(), nil)
	if err != nil {
		h.httpError(w, "Failed to list mappings", http.StatusInternalServerError)
		return
	}

	resp := make([]api.WorkflowMapping, len(mappings))
	for i, m := range mappings {
		resp[i] = mappingToAPI(m)
	}
	h.respondJson(w, http.StatusOK, resp)
}
