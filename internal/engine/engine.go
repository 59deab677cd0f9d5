// Package engine drives workflow instances through their graph: it creates
// and advances node and edge executors, suspends at approval edges, and
// detects when an instance has finished.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"flowplane/internal/dispatch"
	"flowplane/internal/logger"
	"flowplane/internal/observability"
	"flowplane/internal/store"
	"flowplane/internal/worker"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Runner executes follow-up work asynchronously. *worker.Pool implements it.
type Runner interface {
	Submit(ctx context.Context, name string, fn worker.Task) error
}

// Engine is one engine variant: the shared state machine bound to a
// dispatcher. All methods are safe for concurrent use.
type Engine struct {
	name       string
	store      store.WorkflowStore
	dispatcher dispatch.Dispatcher
	runner     Runner

	hooks   Hooks
	logger  *slog.Logger
	metrics *observability.EngineMetrics
	tracer  trace.Tracer

	// completed holds "workflowId:serviceId" keys whose completion has
	// been reported by this process.
	completed sync.Map
}

// Option configures an Engine.
type Option func(*Engine)

// WithHooks replaces the default LogHooks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *observability.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer("flowplane/engine") }
}

// New creates an engine variant called name.
func New(name string, st store.WorkflowStore, d dispatch.Dispatcher, r Runner, opts ...Option) *Engine {
	e := &Engine{
		name:       name,
		store:      st,
		dispatcher: d,
		runner:     r,
		logger:     slog.Default(),
		tracer:     otel.Tracer("flowplane/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("engine", name)
	if e.hooks == nil {
		e.hooks = LogHooks{Logger: e.logger}
	}
	return e
}

// Name returns the registry tag of the variant.
func (e *Engine) Name() string { return e.name }

func (e *Engine) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx, e.logger)
}

// Initiate starts an instance of workflowID for serviceID. It creates one
// PENDING executor per start node and schedules them once committed.
func (e *Engine) Initiate(ctx context.Context, serviceID, workflowID, name string) error {
	ctx = logger.WithCorrelation(ctx, logger.NewCorrelation(workflowID, serviceID))
	ctx, span := e.startSpan(ctx, "engine.Initiate",
		attribute.String("workflow.id", workflowID),
		attribute.String("service.id", serviceID),
	)
	defer span.End()

	err := e.inTx(ctx, func(tx store.Tx) error {
		wf, err := e.store.GetWorkflow(ctx, tx, workflowID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		if err != nil {
			return err
		}

		if err := e.audit(ctx, tx, initiatedEntry(serviceID)); err != nil {
			return err
		}

		start := wf.StartNodes()
		if len(start) == 0 {
			return e.audit(ctx, tx, noStartNodesEntry(serviceID, workflowID))
		}

		execs := make([]*store.Executor, 0, len(start))
		for _, n := range start {
			execs = append(execs, e.newExecutor(workflowID, serviceID, name, store.ExecutorTypeNode, n.ID))
		}
		if err := e.store.SaveExecutors(ctx, tx, execs); err != nil {
			return err
		}
		if err := e.audit(ctx, tx, startNodesSavedEntry(serviceID, len(execs))); err != nil {
			return err
		}
		e.enqueueAfterCommit(ctx, tx, execs...)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (e *Engine) newExecutor(workflowID, serviceID, name string, typ store.ExecutorType, childID string) *store.Executor {
	return &store.Executor{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		ServiceID:  serviceID,
		Name:       name,
		Engine:     e.name,
		Type:       typ,
		ChildrenID: childID,
		Status:     store.StatusPending,
	}
}

// inTx runs fn in a fresh transaction and commits when it returns nil. A
// panic in fn rolls back and is returned as an unhandled StepError.
func (e *Engine) inTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", errBeginTx, err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = panicError(CodeUnhandled, r, true)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// enqueueAfterCommit schedules an advance for each executor once tx commits.
func (e *Engine) enqueueAfterCommit(ctx context.Context, tx store.Tx, execs ...*store.Executor) {
	ids := make([]string, len(execs))
	for i, x := range execs {
		ids[i] = x.ID
	}
	tx.AfterCommit(func() {
		for _, id := range ids {
			e.enqueue(ctx, id)
		}
	})
}

func (e *Engine) enqueue(ctx context.Context, executorID string) {
	err := e.runner.Submit(ctx, "advance "+executorID, func(ctx context.Context) {
		if err := e.Advance(ctx, executorID); err != nil {
			e.log(ctx).Error("advance failed", "executor_id", executorID, "error", err)
		}
	})
	if err != nil {
		e.log(ctx).Warn("could not schedule advance, executor is left for recovery",
			"executor_id", executorID, "error", err)
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("engine", e.name))
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// countFinished records a terminal transition once tx commits.
func (e *Engine) countFinished(ctx context.Context, tx store.Tx, exec *store.Executor) {
	if e.metrics == nil {
		return
	}
	typ, status := string(exec.Type), string(exec.Status)
	tx.AfterCommit(func() {
		e.metrics.ExecutorsFinished.Add(ctx, 1, observability.ExecutorAttrs(e.name, typ, status))
	})
}

func withExecutor(ctx context.Context, exec *store.Executor) context.Context {
	return logger.WithCorrelation(ctx, logger.NewCorrelation(exec.WorkflowID, exec.ServiceID))
}

func instanceKey(workflowID, serviceID string) string {
	return workflowID + ":" + serviceID
}
