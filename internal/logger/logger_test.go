package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}
	return entry
}

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelInfo)

	if l == nil {
		t.Fatal("expected non-nil logger")
	}

	l.Info("test message", slog.String("key", "value"))

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %q, want %q", entry["key"], "value")
	}
	if entry["service"] != "speechcoach" {
		t.Errorf("service = %q, want %q", entry["service"], "speechcoach")
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
}

func TestSetup_IncludesLevelField(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelInfo)

	l.Warn("warning test")

	entry := decodeEntry(t, &buf)
	if entry["level"] != "WARN" {
		t.Errorf("level = %q, want %q", entry["level"], "WARN")
	}
}

func TestSetup_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelWarn)

	l.Info("should be dropped")
	if buf.Len() != 0 {
		t.Errorf("expected no output for info at warn level, got %q", buf.String())
	}
}

func TestSetup_MultipleAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelInfo)

	l.Info("session reanalyzed",
		slog.String("user_id", "u-123"),
		slog.String("session_id", "s-456"),
		slog.Int("filler_count", 7),
	)

	entry := decodeEntry(t, &buf)
	if entry["user_id"] != "u-123" {
		t.Errorf("user_id = %q, want %q", entry["user_id"], "u-123")
	}
	if entry["session_id"] != "s-456" {
		t.Errorf("session_id = %q, want %q", entry["session_id"], "s-456")
	}
	if entry["filler_count"] != float64(7) {
		t.Errorf("filler_count = %v, want %v", entry["filler_count"], 7)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupDefault(&buf, "info")

	slog.Default().Info("global test", slog.String("test_key", "test_val"))

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "global test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "global test")
	}
	if entry["test_key"] != "test_val" {
		t.Errorf("test_key = %q, want %q", entry["test_key"], "test_val")
	}
}
