// Package worker runs engine follow-up work on a bounded goroutine pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"flowplane/internal/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ErrClosed is returned by Submit once Close has been called.
var ErrClosed = errors.New("worker: pool is closed")

// Task is a unit of work. The context carries the submitter's correlation
// and trace but not its cancellation.
type Task func(ctx context.Context)

// Pool executes tasks with bounded concurrency.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.Mutex
	closed bool

	base   context.Context
	cancel context.CancelFunc

	inFlight metric.Int64UpDownCounter
}

// Option configures a Pool.
type Option func(*Pool)

// WithInFlightCounter records submitted-but-unfinished tasks on c.
func WithInFlightCounter(c metric.Int64UpDownCounter) Option {
	return func(p *Pool) { p.inFlight = c }
}

// New creates a pool running at most concurrency tasks at a time.
func New(concurrency int, log *slog.Logger, opts ...Option) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}

	base, cancel := context.WithCancel(context.Background())
	p := &Pool{
		sem:    make(chan struct{}, concurrency),
		logger: log,
		base:   base,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit schedules fn and returns immediately. The correlation and trace
// context of ctx are re-installed on the worker goroutine for the duration
// of the task.
func (p *Pool) Submit(ctx context.Context, name string, fn Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	corr, hasCorr := logger.CorrelationFromContext(ctx)
	requestID := logger.RequestIDFromContext(ctx)
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	if p.inFlight != nil {
		p.inFlight.Add(ctx, 1)
	}

	go func() {
		defer p.wg.Done()

		// Acquire semaphore slot
		select {
		case p.sem <- struct{}{}:
		case <-p.base.Done():
			p.logger.Warn("worker task abandoned on shutdown", "task", name)
			p.finished()
			return
		}
		defer func() { <-p.sem }()

		taskCtx := otel.GetTextMapPropagator().Extract(p.base, carrier)
		if hasCorr {
			taskCtx = logger.WithCorrelation(taskCtx, corr)
		}
		if requestID != "" {
			taskCtx = logger.WithRequestID(taskCtx, requestID)
		}

		p.run(taskCtx, name, fn)
	}()

	return nil
}

func (p *Pool) run(ctx context.Context, name string, fn Task) {
	defer p.finished()

	ctx, span := otel.Tracer("flowplane/worker").Start(ctx, name,
		trace.WithAttributes(attribute.String("worker.task", name)),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			span.RecordError(err)
			logger.FromContext(ctx, p.logger).Error("worker task panicked",
				"task", name,
				"error", err,
				"stack", string(debug.Stack()),
			)
		}
	}()

	fn(ctx)
}

func (p *Pool) finished() {
	if p.inFlight != nil {
		p.inFlight.Add(context.Background(), -1)
	}
}

// Wait blocks until every submitted task, including tasks submitted by
// running tasks, has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops accepting tasks and waits for in-flight ones. If ctx expires
// first, queued tasks are abandoned and running tasks see their context
// cancelled.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
