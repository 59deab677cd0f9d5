package engine

import (
	"context"
	"errors"
	"time"

	"flowplane/internal/observability"
	"flowplane/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// nodeRun is a node executor claimed for dispatch.
type nodeRun struct {
	exec *store.Executor
	node store.Node
	wf   *store.Workflow
}

// Advance runs one state step of an executor. It is idempotent: unknown and
// terminal executors are left alone. Failures are recorded on the executor;
// the returned error only reports that recording itself failed.
func (e *Engine) Advance(ctx context.Context, executorID string) error {
	return e.advance(ctx, executorID, false)
}

// AdvanceSync is Advance for callers that run the step inline rather than on
// the worker pool.
func (e *Engine) AdvanceSync(ctx context.Context, executorID string) error {
	return e.advance(ctx, executorID, true)
}

func (e *Engine) advance(ctx context.Context, executorID string, sync bool) error {
	ctx, span := e.startSpan(ctx, "engine.Advance",
		attribute.String("executor.id", executorID),
		attribute.Bool("sync", sync),
	)
	defer span.End()

	var run *nodeRun
	err := e.inTx(ctx, func(tx store.Tx) error {
		exec, err := e.store.GetExecutor(ctx, tx, executorID)
		if errors.Is(err, store.ErrNotFound) {
			e.log(ctx).Warn("executor not found", "executor_id", executorID)
			return nil
		}
		if err != nil {
			return err
		}
		if exec.Status.Terminal() {
			return nil
		}

		ctx := withExecutor(ctx, exec)
		if exec.Status == store.StatusPending {
			// Claimed or waiting executors are owned elsewhere; a duplicate
			// advance on them logs nothing.
			if err := e.audit(ctx, tx, executorStartEntry(exec, sync)); err != nil {
				return err
			}
		}

		wf, err := e.store.GetWorkflow(ctx, tx, exec.WorkflowID)
		if errors.Is(err, store.ErrNotFound) {
			return fatal(CodeWorkflowNotFound, "Workflow definition not found: %s", exec.WorkflowID)
		}
		if err != nil {
			return err
		}

		switch exec.Type {
		case store.ExecutorTypeNode:
			run, err = e.claimNode(ctx, tx, wf, exec)
			return err
		case store.ExecutorTypeEdge:
			if err := e.runEdge(ctx, tx, wf, exec); err != nil {
				return err
			}
			return e.checkCompletion(ctx, tx, exec)
		default:
			return fatal(CodeInvalidExecutorType, "Invalid executor type %q", exec.Type)
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.fail(ctx, executorID, err)
	}
	if run == nil {
		return nil
	}
	return e.runNode(withExecutor(ctx, run.exec), run)
}

// claimNode moves a PENDING node executor to RUNNING. The dispatch happens
// outside of any transaction once the claim has committed.
func (e *Engine) claimNode(ctx context.Context, tx store.Tx, wf *store.Workflow, exec *store.Executor) (*nodeRun, error) {
	node, ok := wf.Node(exec.ChildrenID)
	if !ok {
		return nil, fatal(CodeNodeNotFound, "Node definition not found: %s", exec.ChildrenID)
	}
	if exec.Status != store.StatusPending {
		// Another advance owns it.
		e.log(ctx).Debug("node executor already claimed", "executor_id", exec.ID, "status", exec.Status)
		return nil, nil
	}

	exec.Status = store.StatusRunning
	if err := e.store.SaveExecutor(ctx, tx, exec); err != nil {
		return nil, err
	}
	if err := e.audit(ctx, tx, nodeStartedEntry(exec)); err != nil {
		return nil, err
	}
	return &nodeRun{exec: exec, node: *node, wf: wf}, nil
}

func (e *Engine) runNode(ctx context.Context, run *nodeRun) error {
	e.hooks.BeforeNodeExecution(ctx, &run.node, run.exec)
	success, dispatchErr := e.dispatch(ctx, run)
	e.hooks.AfterNodeExecution(ctx, &run.node, run.exec, success)

	if ctx.Err() != nil {
		e.log(ctx).Warn("dispatch interrupted, executor is left for recovery", "executor_id", run.exec.ID)
		return ctx.Err()
	}

	err := e.inTx(ctx, func(tx store.Tx) error {
		return e.finishNode(ctx, tx, run, success, dispatchErr)
	})
	if err != nil {
		return e.fail(ctx, run.exec.ID, err)
	}
	return nil
}

// dispatch calls the business task. A panic is an executor-local failure.
func (e *Engine) dispatch(ctx context.Context, run *nodeRun) (success bool, err error) {
	ctx, span := e.startSpan(ctx, "engine.Dispatch",
		attribute.String("node.id", run.node.ID),
		attribute.String("service.id", run.exec.ServiceID),
	)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			success, err = false, panicError(CodeServiceExecution, r, false)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("success", success))
		span.End()
		if e.metrics != nil {
			e.metrics.DispatchDuration.Record(ctx, time.Since(start).Seconds(), observability.EngineAttrs(e.name))
		}
	}()

	return e.dispatcher.Execute(ctx, run.exec.ServiceID, run.node.Data.Parameters)
}

func (e *Engine) finishNode(ctx context.Context, tx store.Tx, run *nodeRun, success bool, dispatchErr error) error {
	exec, err := e.store.GetExecutor(ctx, tx, run.exec.ID)
	if errors.Is(err, store.ErrNotFound) {
		e.log(ctx).Warn("executor disappeared while dispatching", "executor_id", run.exec.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if exec.Status != store.StatusRunning {
		e.log(ctx).Info("discarding dispatch result, executor changed meanwhile",
			"executor_id", exec.ID, "status", exec.Status)
		return nil
	}

	if dispatchErr != nil {
		success = false
		se := &StepError{
			Code:    CodeServiceExecution,
			Message: "Business task failed: " + dispatchErr.Error(),
			Cause:   dispatchErr,
			Stack:   errorChain(dispatchErr),
		}
		var pe *StepError
		if errors.As(dispatchErr, &pe) {
			se = pe
		}
		recordError(exec, se)
		e.log(ctx).Error("business task failed", "executor_id", exec.ID, "node_id", exec.ChildrenID, "error", dispatchErr)
	}

	exec.Status = store.StatusFailed
	if success {
		exec.Status = store.StatusCompleted
	}
	if err := e.store.SaveExecutor(ctx, tx, exec); err != nil {
		return err
	}
	if err := e.audit(ctx, tx, nodeResultEntry(exec, success)); err != nil {
		return err
	}
	e.countFinished(ctx, tx, exec)

	if success {
		if err := e.fanOut(ctx, tx, run.wf, exec); err != nil {
			return err
		}
	}
	return e.checkCompletion(ctx, tx, exec)
}

// fanOut creates a PENDING edge executor for every edge leaving the node.
func (e *Engine) fanOut(ctx context.Context, tx store.Tx, wf *store.Workflow, exec *store.Executor) error {
	edges := wf.OutgoingEdges(exec.ChildrenID)
	if len(edges) == 0 {
		return nil
	}

	execs := make([]*store.Executor, 0, len(edges))
	for _, edge := range edges {
		execs = append(execs, e.newExecutor(exec.WorkflowID, exec.ServiceID, exec.Name, store.ExecutorTypeEdge, edge.ID))
	}
	if err := e.store.SaveExecutors(ctx, tx, execs); err != nil {
		return err
	}
	if err := e.audit(ctx, tx, outgoingEdgesEntry(exec, len(execs))); err != nil {
		return err
	}
	e.enqueueAfterCommit(ctx, tx, execs...)
	return nil
}

func (e *Engine) runEdge(ctx context.Context, tx store.Tx, wf *store.Workflow, exec *store.Executor) error {
	edge, ok := wf.Edge(exec.ChildrenID)
	if !ok {
		return fatal(CodeEdgeNotFound, "Edge definition not found: %s", exec.ChildrenID)
	}
	if exec.Status != store.StatusPending {
		return nil
	}

	if edge.Data.AutoApprove {
		exec.Status = store.StatusCompleted
		if err := e.store.SaveExecutor(ctx, tx, exec); err != nil {
			return err
		}
		if err := e.audit(ctx, tx, edgeStatusEntry(exec)); err != nil {
			return err
		}
		e.countFinished(ctx, tx, exec)
		return e.triggerNode(ctx, tx, wf, edge.Target, exec)
	}

	exec.Status = store.StatusWaitingForApproval
	exec.AssignedApprover = edge.Data.ApproverRole
	if err := e.store.SaveExecutor(ctx, tx, exec); err != nil {
		return err
	}
	if err := e.audit(ctx, tx, edgeStatusEntry(exec)); err != nil {
		return err
	}

	edgeCopy, execCopy := *edge, *exec
	tx.AfterCommit(func() {
		e.hooks.OnApprovalRequest(ctx, &edgeCopy, &execCopy)
	})
	return nil
}

// triggerNode creates the target node's executor unless one is already
// active for the same instance.
func (e *Engine) triggerNode(ctx context.Context, tx store.Tx, wf *store.Workflow, targetID string, parent *store.Executor) error {
	if _, ok := wf.Node(targetID); !ok {
		return fatal(CodeNodeNotFound, "Node definition not found: %s", targetID)
	}

	if err := e.store.LockChild(ctx, tx, parent.WorkflowID, parent.ServiceID, targetID); err != nil {
		return err
	}
	existing, err := e.store.ListExecutorsByWorkflowAndChild(ctx, tx, parent.WorkflowID, targetID)
	if err != nil {
		return err
	}
	for _, x := range existing {
		if x.ServiceID == parent.ServiceID && x.Type == store.ExecutorTypeNode && !x.Status.Terminal() {
			e.log(ctx).Debug("join point already active", "node_id", targetID, "executor_id", x.ID)
			return nil
		}
	}

	next := e.newExecutor(parent.WorkflowID, parent.ServiceID, parent.Name, store.ExecutorTypeNode, targetID)
	if err := e.store.SaveExecutor(ctx, tx, next); err != nil {
		return err
	}
	e.enqueueAfterCommit(ctx, tx, next)
	return nil
}
