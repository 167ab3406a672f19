// Package telemetry wires Prometheus metrics and OpenTelemetry tracing
// for the decision pipeline.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName identifies this service in traces.
const ServiceName = "wardclaw"

// Tracer returns the tracer the decision pipeline records spans on.
func Tracer() trace.Tracer {
	return otel.Tracer(ServiceName)
}

// noopShutdown stands in when tracing is disabled so callers can defer
// the shutdown unconditionally.
func noopShutdown(context.Context) error { return nil }

// Setup installs the global tracer provider and returns its shutdown
// function. Spans are pretty-printed to writer; nil means io.Discard,
// which keeps tracing wired without polluting the approval TUI.
func Setup(ctx context.Context, version string, enabled bool, writer io.Writer) (func(context.Context) error, error) {
	if !enabled {
		return noopShutdown, nil
	}
	if writer == nil {
		writer = io.Discard
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("stdout trace exporter: %w", err)
	}
	res, err := serviceResource(version)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res), sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// serviceResource merges the service identity into the default
// resource set.
func serviceResource(version string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build otel resource: %w", err)
	}
	return res, nil
}
