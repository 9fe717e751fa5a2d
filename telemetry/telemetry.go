// Package telemetry wires OpenTelemetry tracing for the engine. Tracing is
// off unless explicitly initialized; every tracer obtained before Init (or
// without it) is the global no-op and costs nothing on the dispatch path.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/colorfulnotion/hybridvm/log"
)

// Config selects the OTLP endpoint and sampling.
type Config struct {
	// Endpoint is the OTLP/HTTP collector host:port. Empty disables tracing.
	Endpoint string `json:"endpoint"`
	// ServiceName tags exported spans; defaults to "hybridvm".
	ServiceName string `json:"service_name"`
	// SampleRatio in (0,1); 0 or 1 samples everything.
	SampleRatio float64 `json:"sample_ratio"`
	// Insecure uses plain HTTP to the collector.
	Insecure bool `json:"insecure"`
}

// Shutdown flushes and stops the provider installed by Init.
type Shutdown func(ctx context.Context) error

// Init installs a tracer provider exporting to the configured OTLP endpoint
// and returns its shutdown hook. With an empty endpoint it is a no-op and
// the global no-op tracer stays in place.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "hybridvm"
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(provider)
	log.Info(log.DispatchMonitoring, "telemetry exporting", "endpoint", cfg.Endpoint, "service", cfg.ServiceName)
	return provider.Shutdown, nil
}
