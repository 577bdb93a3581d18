package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		enable   slog.Level
		disabled slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug, slog.Level(-8)},
		{"warn level", "WARN", slog.LevelWarn, slog.LevelInfo},
		{"error level", "error", slog.LevelError, slog.LevelWarn},
		{"default info", "", slog.LevelInfo, slog.LevelDebug},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			if !logger.Enabled(ctx, tt.enable) {
				t.Fatalf("expected level %s to be enabled", tt.enable)
			}
			if logger.Enabled(ctx, tt.disabled) {
				t.Fatalf("expected level %s to be disabled", tt.disabled)
			}
		})
	}
}

func TestWithSessionTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf).WithSession("sess-1")
	logger.Info("turn processed", "tool", "list_available_slots")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if record["session_id"] != "sess-1" {
		t.Fatalf("expected session_id attribute, got %v", record["session_id"])
	}
	if record["tool"] != "list_available_slots" {
		t.Fatalf("expected tool attribute, got %v", record["tool"])
	}
}

func TestNilLoggerHelpers(t *testing.T) {
	var logger *Logger
	if logger.Slog() == nil {
		t.Fatal("expected slog default for nil logger")
	}
	if logger.WithSession("x") == nil {
		t.Fatal("expected a usable logger from nil receiver")
	}
}
