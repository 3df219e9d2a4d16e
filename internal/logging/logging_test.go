package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer

	logger, err := New("auto", "info", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("tracker_started", "period", "15m")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("non-terminal output should be JSON, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "tracker_started" {
		t.Errorf("unexpected msg %v", record["msg"])
	}

	buf.Reset()
	logger, err = New("text", "info", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("tracker_started")
	if !strings.Contains(buf.String(), "msg=tracker_started") {
		t.Errorf("expected text output, got %q", buf.String())
	}

	if _, err := New("xml", "info", &buf); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNewLevel(t *testing.T) {
	var buf bytes.Buffer

	logger, err := New("json", "warn", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info record should be filtered at warn level, got %q", buf.String())
	}

	if _, err := New("json", "loud", &buf); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for name, want := range tests {
		got, err := ParseLevel(name)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
}
