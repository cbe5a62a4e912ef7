package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONLoggerCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "debug", Format: "json"}, &buf).
		With(String("component", "scheduler"))

	log.Debug(context.Background(), "tick", Uint64("seq", 42), Bool("armed", true))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if rec["msg"] != "tick" || rec["component"] != "scheduler" || rec["seq"] != float64(42) || rec["armed"] != true {
		t.Fatalf("record = %v", rec)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "warn"}, &buf)
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("output = %q", out)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if got := parseLevel("verbose").Level().String(); got != "INFO" {
		t.Fatalf("parseLevel(verbose) = %s, want INFO", got)
	}
	if got := parseLevel("WARNING").Level().String(); got != "WARN" {
		t.Fatalf("parseLevel(WARNING) = %s, want WARN", got)
	}
}

func TestEnsureRequestIDKeepsExisting(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx, id := EnsureRequestID(ctx)
	if id != "req-1" || RequestIDFromContext(ctx) != "req-1" {
		t.Fatalf("request id = %q, want req-1", id)
	}

	_, fresh := EnsureRequestID(context.Background())
	if fresh == "" || fresh == "req-1" {
		t.Fatalf("fresh request id = %q", fresh)
	}
}

func TestSessionIDRoundTrip(t *testing.T) {
	id := NewSessionID()
	ctx := ContextWithSessionID(context.Background(), id)
	if got := SessionIDFromContext(ctx); got != id {
		t.Fatalf("SessionIDFromContext = %q, want %q", got, id)
	}
	if got := SessionIDFromContext(context.Background()); got != "" {
		t.Fatalf("empty context session id = %q", got)
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected nil logger on bare context")
	}
	ctx := ContextWithLogger(context.Background(), nil)
	if _, ok := LoggerFromContext(ctx).(noopLogger); !ok {
		t.Fatalf("nil logger should be stored as Noop")
	}

	var buf bytes.Buffer
	ctx, log := WithRequestLogger(context.Background(), NewWithWriter(Config{Format: "json"}, &buf))
	log.Info(ctx, "handled")
	if !strings.Contains(buf.String(), RequestIDFromContext(ctx)) {
		t.Fatalf("log %q missing request id", buf.String())
	}
}
