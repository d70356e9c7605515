package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestSetup_None(t *testing.T) {
	p, err := Setup(Config{}, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if p.Enabled() {
		t.Error("expected tracing disabled")
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("stop: %v", err)
	}
}

func TestSetup_UnknownExporter(t *testing.T) {
	if _, err := Setup(Config{Exporter: "jaeger"}, nil); err == nil {
		t.Error("expected error for unknown exporter")
	}
}

func TestSetup_StdoutExportsSpans(t *testing.T) {
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	var buf bytes.Buffer
	p, err := Setup(Config{Exporter: ExporterStdout, ServiceName: "txwatch-test"}, &buf)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "tracker.monitor")
	span.End()

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !strings.Contains(buf.String(), "tracker.monitor") {
		t.Errorf("span not exported, output: %q", buf.String())
	}
}
