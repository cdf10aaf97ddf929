package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader carries the trace ID of the request back to the caller.
const CorrelationHeader = "X-Correlation-ID"

// Scrapes and probes hit the status listener every few seconds. Successful
// ones are logged at debug.
func isQuiet(path string, status int) bool {
	if status >= http.StatusBadRequest {
		return false
	}
	switch path {
	case "/metrics", "/healthz", "/readyz":
		return true
	}
	return false
}

// statusWriter remembers the status code the handler wrote.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Middleware instruments the status listener. Each request joins the caller's
// W3C trace (or starts one), gets a server span and a duration sample, and is
// logged once on completion with its correlation ID.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	var prop propagation.TraceContext

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			path := r.URL.Path

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method), semconv.URLPath(path)),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set(CorrelationHeader, cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(ctx))

			elapsed := time.Since(began)
			span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", path),
			))

			level := slog.LevelInfo
			if isQuiet(path, sw.status) {
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "status request",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", path),
				slog.Int("status", sw.status),
				slog.Duration("elapsed", elapsed),
			)
		})
	}
}
