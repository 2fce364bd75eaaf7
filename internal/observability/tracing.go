// Package observability wires OpenTelemetry trace export.
//
// Traces go to an OTLP/HTTP collector, typically a local otel-collector or
// vendor agent. Agent mode keeps credentials out of the process and gives
// spans local buffering; the agent forwards them to the backend.
//
// Export is opt-in: with no endpoint configured Setup installs nothing and
// the pipeline's spans stay no-ops. A collector that is down or an exporter
// that cannot be built must never keep the service from starting.
package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultServiceName tags spans when no service name is configured.
const DefaultServiceName = "ragchat"

// Config for OTLP trace export.
type Config struct {
	// Endpoint is the OTLP/HTTP collector endpoint (host:port).
	// Empty disables tracing.
	Endpoint string
	// ServiceName is the service.name resource attribute (default: ragchat).
	ServiceName string
	// Environment is the deployment environment tag (dev, staging, prod).
	Environment string
}

// Setup installs a global TracerProvider exporting to cfg.Endpoint over
// OTLP/HTTP. The returned shutdown function flushes pending spans and is
// never nil.
//
// With an empty endpoint, or when the exporter cannot be built, the global
// provider is left untouched and the returned shutdown is a no-op.
func Setup(ctx context.Context, cfg Config) func(context.Context) error {
	noop := func(context.Context) error { return nil }

	if cfg.Endpoint == "" {
		slog.Debug("tracing disabled, no endpoint configured")
		return noop
	}

	// The collector is assumed local, so plain HTTP without TLS.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		slog.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return noop
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	attrs := []attribute.KeyValue{
		attribute.String("service.name", serviceName),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
	)
	otel.SetTracerProvider(tp)

	slog.Debug("tracing enabled",
		"endpoint", cfg.Endpoint,
		"service", serviceName,
		"environment", cfg.Environment,
	)

	return tp.Shutdown
}
