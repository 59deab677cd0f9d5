package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"flowplane/internal/engine"
	"flowplane/internal/store"
	"flowplane/pkg/api"
)

// GetExecutorsByService handles GET /api/workflow-executors/services/{serviceId}.
func (h *Handlers) GetExecutorsByService(w http.ResponseWriter, r *http.Request) {
	serviceID := r.PathValue("serviceId")

	execs, err := h.reports.ExecutorsByService(r.Context(), serviceID)
	if err != nil {
		h.log(r).Error("list executors", "service_id", serviceID, "error", err)
		h.httpError(w, "Failed to list executors", http.StatusInternalServerError)
		return
	}
	if len(execs) == 0 {
		h.httpError(w, "No executors found for service "+serviceID, http.StatusNotFound)
		return
	}

	resp := make([]api.Executor, len(execs))
	for i, x := range execs {
		resp[i] = executorToAPI(x)
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetInstanceDetails handles GET /api/workflow-executors/details-by-service/{serviceId}.
func (h *Handlers) GetInstanceDetails(w http.ResponseWriter, r *http.Request) {
	serviceID := r.PathValue("serviceId")

	details, err := h.reports.InstanceDetails(r.Context(), serviceID)
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Workflow instance not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log(r).Error("instance details", "service_id", serviceID, "error", err)
		h.httpError(w, "Failed to load workflow instance", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, detailsToAPI(details))
}

// ApproveExecutor handles POST /api/workflow-executors/{executorId}/approve.
// The request's type picks the engine variant that runs the approval; it has
// no default, so a missing type is rejected like an unknown one.
func (h *Handlers) ApproveExecutor(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// RejectExecutor handles POST /api/workflow-executors/{executorId}/reject.
func (h *Handlers) RejectExecutor(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *Handlers) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	ctx := r.Context()
	executorID := r.PathValue("executorId")

	var req api.ApprovalRequest
	if err := decode(r, &req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	eng, err := h.engines.Get(req.Type)
	if err != nil {
		h.httpError(w, fmt.Sprintf("Unknown dispatcher type: %s", req.Type), http.StatusBadRequest)
		return
	}

	verb := "rejected"
	if approve {
		verb = "approved"
		err = eng.Approve(ctx, executorID, req.ApprovedBy, req.Comments)
	} else {
		err = eng.Reject(ctx, executorID, req.ApprovedBy, req.Comments)
	}
	if err != nil {
		h.log(r).Error("approval decision failed", "executor_id", executorID, "approve", approve, "error", err)
		h.httpError(w, "Failed to record decision", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.MessageResponse{
		Message: fmt.Sprintf("Executor %s %s successfully.", executorID, verb),
	})
}

// GetPendingApprovals handles GET /api/workflow-executors/pending-approvals.
func (h *Handlers) GetPendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := h.reports.PendingApprovals(r.Context())
	if err != nil {
		h.log(r).Error("pending approvals", "error", err)
		h.httpError(w, "Failed to list pending approvals", http.StatusInternalServerError)
		return
	}

	resp := make([]api.PendingApprovalDetails, len(pending))
	for i, p := range pending {
		resp[i] = pendingToAPI(p)
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetWorkflowSummary handles GET /api/workflow-executors/workflow-summary.
func (h *Handlers) GetWorkflowSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.reports.Summary(r.Context())
	if err != nil {
		h.log(r).Error("workflow summary", "error", err)
		h.httpError(w, "Failed to compute summary", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, api.WorkflowInstanceSummary{
		Total:           sum.Total,
		Running:         sum.Running,
		Completed:       sum.Completed,
		PendingApproval: sum.PendingApproval,
	})
}

// initiate starts workflowID on the variant named by tag. On failure it
// returns the status code and message for the client.
func (h *Handlers) initiate(r *http.Request, tag, workflowID, serviceID, name string) (int, string) {
	eng, err := h.engines.Resolve(tag)
	if err != nil {
		return http.StatusBadRequest, "Unknown dispatcher type: " + tag
	}
	err = eng.Initiate(r.Context(), serviceID, workflowID, name)
	switch {
	case errors.Is(err, engine.ErrWorkflowNotFound):
		return http.StatusNotFound, "Workflow not found: " + workflowID
	case err != nil:
		h.log(r).Error("initiate workflow", "workflow_id", workflowID, "service_id", serviceID, "error", err)
		return http.StatusInternalServerError, "Failed to initiate workflow"
	}
	return http.StatusAccepted, ""
}
