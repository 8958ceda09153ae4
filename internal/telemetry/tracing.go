package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of corpusprep spans.
const TracerName = "github.com/shinji-kodama/corpusprep"

// Provider owns the trace pipeline set up by InitTracing.
type Provider struct {
	shutdown func(context.Context) error
}

// InitTracing installs a global TracerProvider exporting over OTLP/gRPC to
// endpoint. With an empty endpoint nothing is installed and the global no-op
// tracer stays in place. The exporter dials lazily, so an unreachable
// collector does not fail startup.
func InitTracing(ctx context.Context, endpoint, serviceName string, useInsecure bool) (*Provider, error) {
	if endpoint == "" {
		return &Provider{shutdown: func(context.Context) error { return nil }}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceNamespace("corpusprep"),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	// Detectors that cannot read host or process details yield a partial
	// resource, which is still usable.
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return nil, fmt.Errorf("building OTEL resource: %w", err)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if useInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		slog.Warn("otel export error", "err", err)
	}))

	return &Provider{shutdown: tp.Shutdown}, nil
}

// Shutdown flushes pending spans. ctx should carry a deadline.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

// Tracer returns the corpusprep tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
