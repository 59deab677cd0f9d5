// Package logger provides structured logging setup using slog.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// requestIDKey is the context key for request IDs.
type requestIDKey struct{}

// correlationKey is the context key for the workflow correlation.
type correlationKey struct{}

// Correlation identifies the workflow instance a unit of work belongs to.
type Correlation struct {
	CorrelationID string
	WorkflowID    string
	ServiceID     string
}

// NewCorrelation builds the correlation for one (workflow, service) instance.
func NewCorrelation(workflowID, serviceID string) Correlation {
	return Correlation{
		CorrelationID: workflowID + ":" + serviceID,
		WorkflowID:    workflowID,
		ServiceID:     serviceID,
	}
}

// IsZero reports whether no correlation is set.
func (c Correlation) IsZero() bool {
	return c == Correlation{}
}

// New creates a new structured JSON logger at the given level
// ("debug", "info", "warn", "error"; anything else means info).
func New(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequestID returns a new context with the given request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithCorrelation returns a new context carrying c.
func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	return context.WithValue(ctx, correlationKey{}, c)
}

// CorrelationFromContext extracts the correlation from the context.
func CorrelationFromContext(ctx context.Context) (Correlation, bool) {
	c, ok := ctx.Value(correlationKey{}).(Correlation)
	return c, ok && !c.IsZero()
}

// FromContext returns a logger with context fields (request ID, correlation) attached.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	var attrs []any
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		attrs = append(attrs, "request_id", reqID)
	}
	if c, ok := CorrelationFromContext(ctx); ok {
		attrs = append(attrs,
			"correlation_id", c.CorrelationID,
			"workflow_id", c.WorkflowID,
			"service_id", c.ServiceID,
		)
	}
	if len(attrs) == 0 {
		return base
	}
	return base.With(attrs...)
}
