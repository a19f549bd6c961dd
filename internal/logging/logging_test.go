package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWriter_JSONDefault(t *testing.T) {
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	log := NewWriter(&buf)
	log.Info("dropped")
	log.Warn("kept", slog.Int("doc_id", 7))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["doc_id"] != float64(7) {
		t.Errorf("record = %v", rec)
	}
}

func TestNewWriter_Text(t *testing.T) {
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("LOG_LEVEL", "")

	var buf bytes.Buffer
	NewWriter(&buf).Info("hello", slog.String("stage", "ingest"))
	if !strings.Contains(buf.String(), "msg=hello stage=ingest") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	if FromContext(context.Background()) != slog.Default() {
		t.Error("FromContext() without logger should return slog.Default()")
	}
	l := Discard()
	if got := FromContext(WithLogger(context.Background(), l)); got != l {
		t.Error("FromContext() did not return the stored logger")
	}
	if got := FromContext(WithLogger(context.Background(), nil)); got != slog.Default() {
		t.Error("nil logger should fall back to slog.Default()")
	}
}
