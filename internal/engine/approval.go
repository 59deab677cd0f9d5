package engine

import (
	"context"
	"errors"

	"flowplane/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Approve completes an edge executor waiting for approval and triggers the
// edge's target node. Executors that are not waiting are left untouched.
func (e *Engine) Approve(ctx context.Context, executorID, user, comments string) error {
	return e.decide(ctx, executorID, user, comments, true)
}

// Reject ends an edge executor waiting for approval. The target node is not
// triggered.
func (e *Engine) Reject(ctx context.Context, executorID, user, comments string) error {
	return e.decide(ctx, executorID, user, comments, false)
}

func (e *Engine) decide(ctx context.Context, executorID, user, comments string, approve bool) error {
	ctx, span := e.startSpan(ctx, "engine.Decide",
		attribute.String("executor.id", executorID),
		attribute.Bool("approve", approve),
	)
	defer span.End()

	err := e.inTx(ctx, func(tx store.Tx) error {
		exec, err := e.store.GetExecutor(ctx, tx, executorID)
		if errors.Is(err, store.ErrNotFound) {
			e.log(ctx).Warn("executor not found", "executor_id", executorID)
			return nil
		}
		if err != nil {
			return err
		}

		ctx := withExecutor(ctx, exec)
		if exec.Type != store.ExecutorTypeEdge || exec.Status != store.StatusWaitingForApproval {
			e.log(ctx).Info("executor is not awaiting approval",
				"executor_id", exec.ID, "type", exec.Type, "status", exec.Status)
			return nil
		}

		exec.Status = store.StatusRejected
		if approve {
			exec.Status = store.StatusCompleted
		}
		exec.ApprovedBy = user
		exec.ApprovalComments = comments
		if err := e.store.SaveExecutor(ctx, tx, exec); err != nil {
			return err
		}
		if err := e.audit(ctx, tx, approvalEntry(exec, user)); err != nil {
			return err
		}
		e.countFinished(ctx, tx, exec)

		if approve {
			wf, err := e.store.GetWorkflow(ctx, tx, exec.WorkflowID)
			if errors.Is(err, store.ErrNotFound) {
				return fatal(CodeWorkflowNotFound, "Workflow definition not found: %s", exec.WorkflowID)
			}
			if err != nil {
				return err
			}
			edge, ok := wf.Edge(exec.ChildrenID)
			if !ok {
				return fatal(CodeEdgeNotFound, "Edge definition not found: %s", exec.ChildrenID)
			}
			if err := e.triggerNode(ctx, tx, wf, edge.Target, exec); err != nil {
				return err
			}
		}
		return e.checkCompletion(ctx, tx, exec)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.fail(ctx, executorID, err)
	}
	return nil
}
