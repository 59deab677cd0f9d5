package engine

import (
	"context"
	"errors"
	"fmt"

	"flowplane/internal/observability"
	"flowplane/internal/store"
)

func recordError(exec *store.Executor, se *StepError) {
	exec.ErrorCode = se.Code
	exec.ErrorMessage = se.Message
	exec.ErrorStackTrace = se.Stack
}

// fail applies the error policy to a step that returned cause. The step's
// transaction has already rolled back; the failure is recorded in a new one.
func (e *Engine) fail(ctx context.Context, executorID string, cause error) error {
	if errors.Is(cause, errBeginTx) || ctx.Err() != nil {
		// Nothing was written. A later advance or boot recovery retries.
		return cause
	}

	se := asStepError(cause)
	err := e.inTx(ctx, func(tx store.Tx) error {
		exec, err := e.store.GetExecutor(ctx, tx, executorID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if exec.Status.Terminal() {
			return nil
		}

		ctx := withExecutor(ctx, exec)
		recordError(exec, se)
		exec.Status = store.StatusFailed
		if err := e.store.SaveExecutor(ctx, tx, exec); err != nil {
			return err
		}
		if err := e.audit(ctx, tx, failureEntry(exec)); err != nil {
			return err
		}
		e.countFinished(ctx, tx, exec)

		if !se.Fatal {
			return e.checkCompletion(ctx, tx, exec)
		}

		if err := e.abortSiblings(ctx, tx, exec); err != nil {
			return err
		}
		workflowID, serviceID, reason := exec.WorkflowID, exec.ServiceID, se.Message
		tx.AfterCommit(func() {
			if e.metrics != nil {
				e.metrics.WorkflowsFailed.Add(ctx, 1, observability.EngineAttrs(e.name))
			}
			e.hooks.OnWorkflowFailed(ctx, workflowID, serviceID, reason)
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("record failure of executor %s (%v): %w", executorID, se, err)
	}
	return nil
}

// abortSiblings fails every other non-terminal executor of the instance.
func (e *Engine) abortSiblings(ctx context.Context, tx store.Tx, failed *store.Executor) error {
	all, err := e.store.ListExecutorsByWorkflow(ctx, tx, failed.WorkflowID)
	if err != nil {
		return err
	}

	for i := range all {
		x := &all[i]
		if x.ID == failed.ID || x.ServiceID != failed.ServiceID || x.Status.Terminal() {
			continue
		}
		x.Status = store.StatusFailed
		x.ErrorCode = CodeWorkflowAborted
		x.ErrorMessage = fmt.Sprintf("Workflow aborted: executor %s failed with %s", failed.ID, failed.ErrorCode)
		if err := e.store.SaveExecutor(ctx, tx, x); err != nil {
			return err
		}
		if err := e.audit(ctx, tx, abortedEntry(x, failed)); err != nil {
			return err
		}
		e.countFinished(ctx, tx, x)
	}
	return nil
}
