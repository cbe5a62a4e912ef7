package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func resetTracing(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(trace.NewNoopTracerProvider()) })
}

func TestInitTracingStdoutWritesSpans(t *testing.T) {
	resetTracing(t)
	var buf bytes.Buffer
	ctx := context.Background()

	shutdown, err := InitTracing(ctx, TracingConfig{
		Enabled:     true,
		ServiceName: "sitl-under-test",
		Exporter:    "STDOUT",
		SampleRatio: 1,
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := otel.Tracer("scheduler").Start(ctx, "scheduler.tick")
	if !span.IsRecording() {
		t.Fatalf("span not recording with ratio 1")
	}
	span.End()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "scheduler.tick") || !strings.Contains(out, "sitl-under-test") {
		t.Fatalf("exported spans = %q, want span name and service name", out)
	}
}

func TestInitTracingDisabledInstallsNoop(t *testing.T) {
	resetTracing(t)
	shutdown, err := InitTracing(context.Background(), TracingConfig{Exporter: "bogus"}, nil)
	if err != nil {
		t.Fatalf("InitTracing disabled: %v", err)
	}
	_, span := otel.Tracer("scheduler").Start(context.Background(), "ignored")
	if span.IsRecording() {
		t.Fatalf("span recording with tracing disabled")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown = %v, want nil", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	resetTracing(t)
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	if err == nil || !strings.Contains(err.Error(), "zipkin") {
		t.Fatalf("InitTracing err = %v, want unsupported exporter", err)
	}
}

func TestKnownExporter(t *testing.T) {
	for name, want := range map[string]bool{"stdout": true, "OTLP": true, "otlpgrpc": true, "jaeger": false, "": false} {
		if got := KnownExporter(name); got != want {
			t.Fatalf("KnownExporter(%q) = %v, want %v", name, got, want)
		}
	}
}
