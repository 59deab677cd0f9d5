package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestWithRequestID_And_RequestIDFromContext(t *testing.T) {
	ctx := context.Background()
	requestID := "req-12345"

	// Initially empty
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("RequestIDFromContext() on empty ctx = %v, want empty", got)
	}

	ctx = WithRequestID(ctx, requestID)
	if got := RequestIDFromContext(ctx); got != requestID {
		t.Errorf("RequestIDFromContext() = %v, want %v", got, requestID)
	}
}

func TestCorrelation_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if _, ok := CorrelationFromContext(ctx); ok {
		t.Error("CorrelationFromContext() on empty ctx should report false")
	}

	c := NewCorrelation("wf-1", "svc-1")
	if c.CorrelationID != "wf-1:svc-1" {
		t.Errorf("CorrelationID = %q, want wf-1:svc-1", c.CorrelationID)
	}

	got, ok := CorrelationFromContext(WithCorrelation(ctx, c))
	if !ok || got != c {
		t.Errorf("CorrelationFromContext() = %+v, %v; want %+v, true", got, ok, c)
	}

	// A cleared correlation is reported as absent.
	if _, ok := CorrelationFromContext(WithCorrelation(ctx, Correlation{})); ok {
		t.Error("zero correlation should report false")
	}
}

func TestFromContext_AttachesFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithRequestID(context.Background(), "req-67890")
	ctx = WithCorrelation(ctx, NewCorrelation("wf-1", "svc-1"))

	FromContext(ctx, base).Info("hello")

	out := buf.String()
	for _, want := range []string{`"request_id":"req-67890"`, `"correlation_id":"wf-1:svc-1"`, `"workflow_id":"wf-1"`, `"service_id":"svc-1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %s missing %s", out, want)
		}
	}
}

func TestFromContext_NoFieldsReturnsBase(t *testing.T) {
	base := New("info")
	if got := FromContext(context.Background(), base); got != base {
		t.Error("FromContext() without fields should return the base logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
