package engine

import (
	"context"
	"fmt"
	"log/slog"

	"flowplane/internal/store"
)

const (
	systemStep  = "system"
	workflowTag = "Workflow"
	systemUser  = "system"
)

// audit appends entry to the execution log within tx and mirrors it to the
// process log.
func (e *Engine) audit(ctx context.Context, tx store.Tx, entry store.ExecutionLog) error {
	if err := e.store.AppendLog(ctx, tx, &entry); err != nil {
		return fmt.Errorf("append execution log: %w", err)
	}
	e.log(ctx).Log(ctx, slogLevel(entry.Level), entry.Message,
		"details", entry.Details,
		"step_id", entry.StepID,
		"executor_id", entry.ExecutorID,
	)
	return nil
}

func slogLevel(l store.LogLevel) slog.Level {
	switch l {
	case store.LogLevelWarning:
		return slog.LevelWarn
	case store.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func workflowEntry(level store.LogLevel, message, details, serviceID, executorID string) store.ExecutionLog {
	return store.ExecutionLog{
		StepID:      systemStep,
		StepName:    workflowTag,
		Level:       level,
		Message:     message,
		Details:     details,
		PerformedBy: systemUser,
		ExecutorID:  executorID,
		ServiceID:   serviceID,
	}
}

func initiatedEntry(serviceID string) store.ExecutionLog {
	return workflowEntry(store.LogLevelInfo, "Workflow initiated", "Starting new workflow instance.", serviceID, "")
}

func noStartNodesEntry(serviceID, workflowID string) store.ExecutionLog {
	return workflowEntry(store.LogLevelWarning, "No start nodes",
		fmt.Sprintf("Workflow %s has no start nodes. Nothing to execute.", workflowID), serviceID, "")
}

func startNodesSavedEntry(serviceID string, count int) store.ExecutionLog {
	return workflowEntry(store.LogLevelInfo, "Start nodes saved",
		fmt.Sprintf("Initiated workflow with %d start nodes. Executors saved to DB.", count), serviceID, "")
}

func executorStartEntry(exec *store.Executor, sync bool) store.ExecutionLog {
	if sync {
		return workflowEntry(store.LogLevelInfo, "Sync executor started",
			"Starting synchronous execution for executorId: "+exec.ID, exec.ServiceID, exec.ID)
	}
	return workflowEntry(store.LogLevelInfo, "Async executor started",
		"Starting async execution for executorId: "+exec.ID, exec.ServiceID, exec.ID)
}

func nodeStartedEntry(exec *store.Executor) store.ExecutionLog {
	return store.ExecutionLog{
		StepID:      exec.ChildrenID,
		StepName:    exec.Name,
		Level:       store.LogLevelInfo,
		Message:     "Node execution started",
		Details:     fmt.Sprintf("Node executor %s started execution.", exec.ID),
		PerformedBy: systemUser,
		ExecutorID:  exec.ID,
		ServiceID:   exec.ServiceID,
	}
}

func nodeResultEntry(exec *store.Executor, success bool) store.ExecutionLog {
	level, message := store.LogLevelSuccess, "Node execution succeeded"
	if !success {
		level, message = store.LogLevelError, "Node execution failed"
	}
	return store.ExecutionLog{
		StepID:   exec.ChildrenID,
		StepName: exec.Name,
		Level:    level,
		Message:  message,
		Details: fmt.Sprintf("Node executor %s (Node ID: %s) status updated to %s.",
			exec.ID, exec.ChildrenID, exec.Status),
		PerformedBy: systemUser,
		ExecutorID:  exec.ID,
		ServiceID:   exec.ServiceID,
	}
}

func outgoingEdgesEntry(parent *store.Executor, count int) store.ExecutionLog {
	return store.ExecutionLog{
		StepID:   parent.ChildrenID,
		StepName: workflowTag,
		Level:    store.LogLevelInfo,
		Message:  "Outgoing edges triggered",
		Details: fmt.Sprintf("Created %d edge executors for outgoing edges from node %s",
			count, parent.ChildrenID),
		PerformedBy: systemUser,
		ExecutorID:  parent.ID,
		ServiceID:   parent.ServiceID,
	}
}

func approvalStepName(exec *store.Executor) string {
	approver := exec.AssignedApprover
	if approver == "" {
		approver = "auto"
	}
	return "Approval (" + approver + ")"
}

func edgeStatusEntry(exec *store.Executor) store.ExecutionLog {
	return store.ExecutionLog{
		StepID:      exec.ChildrenID,
		StepName:    approvalStepName(exec),
		Level:       store.LogLevelInfo,
		Message:     "Edge executor status updated",
		Details:     fmt.Sprintf("Edge executor %s (Edge ID: %s) is %s.", exec.ID, exec.ChildrenID, exec.Status),
		PerformedBy: systemUser,
		ExecutorID:  exec.ID,
		ServiceID:   exec.ServiceID,
	}
}

func completionEntry(serviceID string, completed bool) store.ExecutionLog {
	if completed {
		return workflowEntry(store.LogLevelSuccess, "Workflow completed", "All executors are in a terminal state.", serviceID, "")
	}
	return workflowEntry(store.LogLevelInfo, "Workflow check", "Workflow is not yet completed. Active executors found.", serviceID, "")
}

func approvalEntry(exec *store.Executor, user string) store.ExecutionLog {
	return store.ExecutionLog{
		StepID:      systemStep,
		StepName:    exec.Name,
		Level:       store.LogLevelInfo,
		Message:     "Approval status updated",
		Details:     fmt.Sprintf("Executor %s set to status %s by %s.", exec.ID, exec.Status, user),
		PerformedBy: user,
		ExecutorID:  exec.ID,
		ServiceID:   exec.ServiceID,
	}
}

func failureEntry(exec *store.Executor) store.ExecutionLog {
	return store.ExecutionLog{
		StepID:      exec.ChildrenID,
		StepName:    exec.Name,
		Level:       store.LogLevelError,
		Message:     "Executor failed",
		Details:     fmt.Sprintf("Error [%s]: %s", exec.ErrorCode, exec.ErrorMessage),
		PerformedBy: systemUser,
		ExecutorID:  exec.ID,
		ServiceID:   exec.ServiceID,
	}
}

func abortedEntry(exec *store.Executor, cause *store.Executor) store.ExecutionLog {
	return store.ExecutionLog{
		StepID:      exec.ChildrenID,
		StepName:    exec.Name,
		Level:       store.LogLevelWarning,
		Message:     "Executor aborted",
		Details:     fmt.Sprintf("Executor %s aborted after executor %s failed with %s.", exec.ID, cause.ID, cause.ErrorCode),
		PerformedBy: systemUser,
		ExecutorID:  exec.ID,
		ServiceID:   exec.ServiceID,
	}
}

func recoveredEntry(exec *store.Executor) store.ExecutionLog {
	return store.ExecutionLog{
		StepID:      exec.ChildrenID,
		StepName:    exec.Name,
		Level:       store.LogLevelWarning,
		Message:     "Executor recovered",
		Details:     fmt.Sprintf("Node executor %s was RUNNING at startup and is scheduled again.", exec.ID),
		PerformedBy: systemUser,
		ExecutorID:  exec.ID,
		ServiceID:   exec.ServiceID,
	}
}
