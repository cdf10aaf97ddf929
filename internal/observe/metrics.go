// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing helpers, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// Prometheus scraping via [InitProvider]. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/nypyp/metahuman-stream"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture ---

	// KeywordDetections counts wake-keyword hits. Attribute: keyword.
	KeywordDetections metric.Int64Counter

	// Utterances counts endpoints reached while transcribing. Attribute:
	//   outcome = "published" | "empty"
	Utterances metric.Int64Counter

	// UtteranceDuration tracks the audio length of each transcribed utterance.
	UtteranceDuration metric.Float64Histogram

	// HandoffWait tracks how long the capture loop blocked publishing a result
	// because the previous one was still unconsumed.
	HandoffWait metric.Float64Histogram

	// --- Relay ---

	// RelaySends counts outbound transcript messages. Attribute: status.
	RelaySends metric.Int64Counter

	// RelayReplies counts inbound messages received from the endpoint.
	RelayReplies metric.Int64Counter

	// RelayDials counts connection attempts. Attribute: status.
	RelayDials metric.Int64Counter

	// RelayConnected is 1 while the relay holds an open connection.
	RelayConnected metric.Int64UpDownCounter

	// DeliveryLatency tracks time from publish to successful send.
	DeliveryLatency metric.Float64Histogram

	// --- Supporting services ---

	// ArchiveWrites counts transcript archive inserts. Attribute: status.
	ArchiveWrites metric.Int64Counter

	// LLMDuration tracks chat completion latency.
	LLMDuration metric.Float64Histogram

	// GreeterConnections counts connections served by the greeting listener.
	GreeterConnections metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds).
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// utteranceBuckets covers spoken utterances from a word to several minutes.
var utteranceBuckets = []float64{
	0.5, 1, 2, 4, 8, 15, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.KeywordDetections, err = m.Int64Counter("wakerelay.keyword.detections",
		metric.WithDescription("Wake keyword detections by keyword."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("wakerelay.utterances",
		metric.WithDescription("Utterance endpoints by outcome."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("wakerelay.utterance.duration",
		metric.WithDescription("Audio length of transcribed utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HandoffWait, err = m.Float64Histogram("wakerelay.handoff.wait",
		metric.WithDescription("Time the capture loop waited for the relay to consume the previous transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.RelaySends, err = m.Int64Counter("wakerelay.relay.sends",
		metric.WithDescription("Transcript messages sent by status."),
	); err != nil {
		return nil, err
	}
	if met.RelayReplies, err = m.Int64Counter("wakerelay.relay.replies",
		metric.WithDescription("Messages received from the relay endpoint."),
	); err != nil {
		return nil, err
	}
	if met.RelayDials, err = m.Int64Counter("wakerelay.relay.dials",
		metric.WithDescription("Relay connection attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.RelayConnected, err = m.Int64UpDownCounter("wakerelay.relay.connected",
		metric.WithDescription("1 while the relay holds an open connection."),
	); err != nil {
		return nil, err
	}
	if met.DeliveryLatency, err = m.Float64Histogram("wakerelay.relay.delivery_latency",
		metric.WithDescription("Time from transcript publish to successful send."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ArchiveWrites, err = m.Int64Counter("wakerelay.archive.writes",
		metric.WithDescription("Transcript archive writes by status."),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("wakerelay.llm.duration",
		metric.WithDescription("Latency of chat completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GreeterConnections, err = m.Int64Counter("wakerelay.greeter.connections",
		metric.WithDescription("Connections served by the greeting listener."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("wakerelay.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordKeyword counts one keyword detection.
func (m *Metrics) RecordKeyword(ctx context.Context, keyword string) {
	m.KeywordDetections.Add(ctx, 1, metric.WithAttributes(attribute.String("keyword", keyword)))
}

// RecordUtterance counts one endpoint with the given outcome and records the
// utterance length in seconds.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string, seconds float64) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.UtteranceDuration.Record(ctx, seconds)
}

// RecordRelaySend counts one send attempt.
func (m *Metrics) RecordRelaySend(ctx context.Context, status string) {
	m.RelaySends.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordRelayDial counts one connection attempt.
func (m *Metrics) RecordRelayDial(ctx context.Context, status string) {
	m.RelayDials.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordArchiveWrite counts one archive insert.
func (m *Metrics) RecordArchiveWrite(ctx context.Context, status string) {
	m.ArchiveWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
