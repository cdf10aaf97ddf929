package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// installTracer swaps the global tracer provider for one that records into
// memory and restores the previous provider on cleanup.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog routes the default logger into a buffer for the test.
func captureLog(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func isHex(s string) bool {
	return strings.Trim(s, "0123456789abcdef") == ""
}

func TestCorrelationID(t *testing.T) {
	exp := installTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	seen := map[string]bool{}
	for range 50 {
		ctx, span := StartSpan(context.Background(), "relay.deliver")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || !isHex(cid) {
			t.Fatalf("CorrelationID = %q, want 32 hex chars", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}

	if got := len(exp.GetSpans()); got != 50 {
		t.Errorf("recorded spans = %d, want 50", got)
	}
}

func TestFailSpan(t *testing.T) {
	exp := installTracer(t)

	_, span := StartSpan(context.Background(), "relay.deliver")
	FailSpan(span, errors.New("broken pipe"), "send failed")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	got := spans[0]
	if got.Status.Code != codes.Error || got.Status.Description != "send failed" {
		t.Errorf("status = %+v, want Error/send failed", got.Status)
	}
	if len(got.Events) != 1 || got.Events[0].Name != "exception" {
		t.Errorf("events = %+v, want one exception event", got.Events)
	}
}

func TestLogger(t *testing.T) {
	installTracer(t)

	tests := []struct {
		name     string
		withSpan bool
		want     bool
	}{
		{name: "span attaches ids", withSpan: true, want: true},
		{name: "no span", withSpan: false, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t, slog.LevelInfo)
			ctx := context.Background()
			if tt.withSpan {
				var span trace.Span
				ctx, span = StartSpan(ctx, "capture.segment")
				defer span.End()
			}
			Logger(ctx).Info("segment relayed")

			out := buf.String()
			for _, key := range []string{"trace_id=", "span_id="} {
				if got := strings.Contains(out, key); got != tt.want {
					t.Errorf("log contains %s = %v, want %v; log: %s", key, got, tt.want, out)
				}
			}
		})
	}
}
