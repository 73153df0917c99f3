package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
	}{
		{"json to stdout", LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"text to stderr", LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
		{"defaults", LoggingConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if NewLogger(tt.config) == nil {
				t.Fatal("NewLogger returned nil")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerTo_JSONDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingConfig{Level: "info"})

	logger.With("component", "buffer").Info("buffer flushed", "count", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "buffer flushed" || entry["component"] != "buffer" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["count"] != float64(3) {
		t.Errorf("count = %v, want 3", entry["count"])
	}
}

func TestNewLoggerTo_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingConfig{Level: "warn", Format: "text"})

	logger.Info("hidden")
	logger.Debug("hidden too")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info/debug should be filtered: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn should be logged: %s", out)
	}
}
