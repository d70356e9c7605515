// Package telemetry installs the global OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
)

type Exporter string

const (
	ExporterNone   Exporter = "none"
	ExporterStdout Exporter = "stdout"
)

// Config selects the span exporter.
type Config struct {
	Exporter    Exporter
	ServiceName string
	Pretty      bool
	// SampleRatio is the fraction of root spans kept; 0 or above 1 keeps all.
	SampleRatio float64
}

// Provider owns the installed tracer provider. A nil tp means tracing is disabled.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Setup installs a tracer provider writing to w (stdout when nil).
// With no exporter the global no-op provider stays in place.
func Setup(cfg Config, w io.Writer) (*Provider, error) {
	switch cfg.Exporter {
	case "", ExporterNone:
		return &Provider{}, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}

	if w == nil {
		w = os.Stdout
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.Pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exp, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("stdout exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "txwatch"
	}
	rsrc, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceNameKey.String(name),
			attribute.String("otel.exporter", string(cfg.Exporter)),
		))
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(rsrc),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))

	return &Provider{tp: tp}, nil
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p.tp != nil
}

// Stop flushes pending spans and shuts the provider down.
func (p *Provider) Stop(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(ctx)
}
