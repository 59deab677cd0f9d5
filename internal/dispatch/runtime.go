package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"flowplane/internal/logger"
)

// Runtime starts a containerised or local process for a task.
type Runtime interface {
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting a task.
type StartOptions struct {
	ServiceID string
	Image     string
	Command   []string
	Env       map[string]string
	// Workdir is relative to the runtime's per-service directory. Only the
	// exec runtime honours it.
	Workdir string
}

// ExitResult is the outcome of a finished task.
type ExitResult struct {
	ExitCode int
	Error    error
}

// Handle represents a running task.
type Handle interface {
	// Wait blocks until the task completes.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop forcefully terminates the task.
	Stop(ctx context.Context) error

	// StreamLogs follows the task's combined output.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)
}

const (
	stopTimeout     = 10 * time.Second
	logDrainTimeout = 5 * time.Second
)

// RuntimeDispatcher runs a node as a process on a Runtime. The task succeeds
// iff it exits with code 0.
type RuntimeDispatcher struct {
	runtime Runtime
	timeout time.Duration
	logger  *slog.Logger
}

// NewRuntimeDispatcher wraps rt. timeout bounds each task unless the node
// sets its own "timeout" parameter; zero means unbounded.
func NewRuntimeDispatcher(rt Runtime, timeout time.Duration, log *slog.Logger) *RuntimeDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &RuntimeDispatcher{runtime: rt, timeout: timeout, logger: log}
}

func (d *RuntimeDispatcher) Execute(ctx context.Context, serviceID string, params map[string]string) (bool, error) {
	log := logger.FromContext(ctx, d.logger)

	opts := StartOptions{
		ServiceID: serviceID,
		Image:     params[ParamImage],
		Command:   strings.Fields(params[ParamCommand]),
		Env:       TaskEnv(serviceID, params),
		Workdir:   params[ParamWorkdir],
	}

	execCtx := ctx
	timeout := timeoutFor(params, d.timeout)
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	handle, err := d.runtime.Start(execCtx, opts)
	if err != nil {
		return false, fmt.Errorf("start task: %w", err)
	}

	logCtx, cancelLogs := context.WithCancel(execCtx)
	defer cancelLogs()
	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		d.streamLogs(logCtx, log, handle)
	}()

	result, err := handle.Wait(execCtx)

	select {
	case <-logsDone:
	case <-time.After(logDrainTimeout):
		cancelLogs()
		<-logsDone
	}

	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			if stopErr := handle.Stop(stopCtx); stopErr != nil {
				log.Warn("failed to stop timed out task", "error", stopErr)
			}
			return false, fmt.Errorf("task timed out after %v", timeout)
		}
		return false, fmt.Errorf("wait for task: %w", err)
	}

	if result.ExitCode != 0 {
		attrs := []any{"exit_code", result.ExitCode}
		if result.Error != nil {
			attrs = append(attrs, "error", result.Error)
		}
		log.Info("task exited with failure", attrs...)
		return false, nil
	}
	return true, nil
}

func (d *RuntimeDispatcher) streamLogs(ctx context.Context, log *slog.Logger, handle Handle) {
	rc, err := handle.StreamLogs(ctx)
	if err != nil {
		log.Debug("task output unavailable", "error", err)
		return
	}
	defer rc.Close()

	go func() {
		<-ctx.Done()
		rc.Close()
	}()

	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		log.Debug("task output", "line", scanner.Text())
	}
}
