package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// DefaultServiceName is reported when [ProviderConfig.ServiceName] is empty.
const DefaultServiceName = "wakerelay"

// ProviderConfig selects how the relay process reports telemetry.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string

	// TraceExporter receives finished relay and capture spans. Nil keeps spans
	// in-process only, which is what the CLI does unless an exporter is wired.
	TraceExporter sdktrace.SpanExporter
}

// shutdownChain collects SDK shutdown hooks and runs all of them, in
// registration order, even after one fails.
type shutdownChain []func(context.Context) error

func (c shutdownChain) run(ctx context.Context) error {
	errs := make([]error, 0, len(c))
	for _, fn := range c {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// InitProvider installs the global meter and tracer providers. Metrics are
// bridged to Prometheus and served by [MetricsHandler]. The returned function
// flushes both providers and must be called before the process exits.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	res, err := serviceResource(cfg)
	if err != nil {
		return nil, err
	}

	var chain shutdownChain

	reader, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	meters := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	otel.SetMeterProvider(meters)
	chain = append(chain, meters.Shutdown)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tracers := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracers)
	chain = append(chain, tracers.Shutdown)

	return chain.run, nil
}

func serviceResource(cfg ProviderConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
}

// MetricsHandler exposes the Prometheus registry fed by [InitProvider].
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
