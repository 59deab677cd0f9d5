package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "flowplane"

// EngineMetrics are the instruments recorded by the execution engine and the
// worker pool.
type EngineMetrics struct {
	ExecutorsFinished  metric.Int64Counter
	WorkflowsCompleted metric.Int64Counter
	WorkflowsFailed    metric.Int64Counter
	DispatchDuration   metric.Float64Histogram
	TasksInFlight      metric.Int64UpDownCounter
}

// NewEngineMetrics creates the engine instruments on mp.
func NewEngineMetrics(mp metric.MeterProvider) (*EngineMetrics, error) {
	meter := mp.Meter(meterName)

	var (
		m   EngineMetrics
		err error
	)
	if m.ExecutorsFinished, err = meter.Int64Counter(
		"flowplane_executors_finished_total",
		metric.WithDescription("Executors that reached a terminal status"),
	); err != nil {
		return nil, err
	}
	if m.WorkflowsCompleted, err = meter.Int64Counter(
		"flowplane_workflows_completed_total",
		metric.WithDescription("Workflow instances whose executors are all terminal"),
	); err != nil {
		return nil, err
	}
	if m.WorkflowsFailed, err = meter.Int64Counter(
		"flowplane_workflows_failed_total",
		metric.WithDescription("Workflow instances that hit a fatal error"),
	); err != nil {
		return nil, err
	}
	if m.DispatchDuration, err = meter.Float64Histogram(
		"flowplane_dispatch_duration_seconds",
		metric.WithDescription("Time spent in the task dispatcher"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.TasksInFlight, err = meter.Int64UpDownCounter(
		"flowplane_worker_tasks_in_flight",
		metric.WithDescription("Advance tasks submitted and not yet finished"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// RegisterPendingApprovals exposes the number of edges waiting for approval as
// an observable gauge. count is called on every collection.
func RegisterPendingApprovals(mp metric.MeterProvider, count func(context.Context) (int64, error)) (metric.Registration, error) {
	meter := mp.Meter(meterName)

	gauge, err := meter.Int64ObservableGauge(
		"flowplane_pending_approvals",
		metric.WithDescription("Edge executors waiting for approval"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := count(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(gauge, n)
		return nil
	}, gauge)
}

// ExecutorAttrs labels an executor outcome.
func ExecutorAttrs(engine, executorType, status string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("type", executorType),
		attribute.String("status", status),
	)
}

// EngineAttrs labels a per-engine measurement.
func EngineAttrs(engine string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("engine", engine))
}
