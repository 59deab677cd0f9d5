package engine

import (
	"context"

	"flowplane/internal/observability"
	"flowplane/internal/store"
)

// instanceLock is the LockChild key that serialises completion checks of one
// instance, so two steps finishing together cannot both miss completion.
const instanceLock = "*"

// checkCompletion reports the instance complete when every one of its
// executors is terminal. The callback fires at most once per instance.
func (e *Engine) checkCompletion(ctx context.Context, tx store.Tx, exec *store.Executor) error {
	if err := e.store.LockChild(ctx, tx, exec.WorkflowID, exec.ServiceID, instanceLock); err != nil {
		return err
	}

	all, err := e.store.ListExecutorsByWorkflow(ctx, tx, exec.WorkflowID)
	if err != nil {
		return err
	}
	if !allTerminal(all, exec.ServiceID) {
		return e.audit(ctx, tx, completionEntry(exec.ServiceID, false))
	}

	key := instanceKey(exec.WorkflowID, exec.ServiceID)
	if _, done := e.completed.Load(key); done {
		return nil
	}
	first, err := e.store.MarkInstanceCompleted(ctx, tx, exec.WorkflowID, exec.ServiceID)
	if err != nil {
		return err
	}
	if !first {
		e.completed.Store(key, struct{}{})
		return nil
	}
	if err := e.audit(ctx, tx, completionEntry(exec.ServiceID, true)); err != nil {
		return err
	}

	workflowID, serviceID := exec.WorkflowID, exec.ServiceID
	tx.AfterCommit(func() {
		if _, loaded := e.completed.LoadOrStore(key, struct{}{}); loaded {
			return
		}
		if e.metrics != nil {
			e.metrics.WorkflowsCompleted.Add(ctx, 1, observability.EngineAttrs(e.name))
		}
		e.hooks.OnWorkflowCompleted(ctx, workflowID, serviceID)
	})
	return nil
}

// allTerminal reports whether the executors of serviceID are all terminal.
// An instance without executors is not complete.
func allTerminal(executors []store.Executor, serviceID string) bool {
	found := false
	for _, x := range executors {
		if x.ServiceID != serviceID {
			continue
		}
		found = true
		if !x.Status.Terminal() {
			return false
		}
	}
	return found
}
