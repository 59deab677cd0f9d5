package engine

import (
	"context"
	"log/slog"

	"flowplane/internal/logger"
	"flowplane/internal/store"
)

// Hooks are lifecycle callbacks. OnApprovalRequest, OnWorkflowCompleted and
// OnWorkflowFailed run after the transaction that caused them has committed.
type Hooks interface {
	BeforeNodeExecution(ctx context.Context, node *store.Node, exec *store.Executor)
	AfterNodeExecution(ctx context.Context, node *store.Node, exec *store.Executor, success bool)
	OnApprovalRequest(ctx context.Context, edge *store.Edge, exec *store.Executor)
	OnWorkflowCompleted(ctx context.Context, workflowID, serviceID string)
	OnWorkflowFailed(ctx context.Context, workflowID, serviceID, reason string)
}

// NopHooks ignores every event. Embed it to override a subset.
type NopHooks struct{}

func (NopHooks) BeforeNodeExecution(context.Context, *store.Node, *store.Executor)      {}
func (NopHooks) AfterNodeExecution(context.Context, *store.Node, *store.Executor, bool) {}
func (NopHooks) OnApprovalRequest(context.Context, *store.Edge, *store.Executor)        {}
func (NopHooks) OnWorkflowCompleted(context.Context, string, string)                    {}
func (NopHooks) OnWorkflowFailed(context.Context, string, string, string)               {}

// LogHooks writes every event to a logger. It is the default.
type LogHooks struct {
	Logger *slog.Logger
}

func (h LogHooks) log(ctx context.Context) *slog.Logger {
	base := h.Logger
	if base == nil {
		base = slog.Default()
	}
	return logger.FromContext(ctx, base)
}

func (h LogHooks) BeforeNodeExecution(ctx context.Context, node *store.Node, exec *store.Executor) {
	h.log(ctx).Debug("before node execution", "node_id", node.ID, "executor_id", exec.ID)
}

func (h LogHooks) AfterNodeExecution(ctx context.Context, node *store.Node, exec *store.Executor, success bool) {
	h.log(ctx).Debug("after node execution", "node_id", node.ID, "executor_id", exec.ID, "success", success)
}

func (h LogHooks) OnApprovalRequest(ctx context.Context, edge *store.Edge, exec *store.Executor) {
	h.log(ctx).Info("approval requested", "edge_id", edge.ID, "executor_id", exec.ID, "approver", exec.AssignedApprover)
}

func (h LogHooks) OnWorkflowCompleted(ctx context.Context, workflowID, serviceID string) {
	h.log(ctx).Info("workflow completed", "workflow_id", workflowID, "service_id", serviceID)
}

func (h LogHooks) OnWorkflowFailed(ctx context.Context, workflowID, serviceID, reason string) {
	h.log(ctx).Error("workflow failed", "workflow_id", workflowID, "service_id", serviceID, "reason", reason)
}
