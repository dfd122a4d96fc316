package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger_FormatsAndDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})
	if slog.Default() != logger {
		t.Fatal("NewLogger did not install the default logger")
	}
	logger.Debug("hidden")
	logger.Info("turn finished", "session_id", "s1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %q", buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if record["msg"] != "turn finished" || record["session_id"] != "s1" {
		t.Fatalf("record = %v", record)
	}

	buf.Reset()
	NewLogger(LogConfig{Level: "debug", Format: "text", Output: &buf}).Debug("visible")
	if !strings.Contains(buf.String(), "msg=visible") {
		t.Fatalf("text output = %q", buf.String())
	}
}

func TestNewLogger_Redacts(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := NewLogger(LogConfig{
		Output:         &buf,
		RedactPatterns: []string{`internal-\d+`},
	})
	logger.Info("provider request",
		"api_key", "plain-value",
		"header", "Bearer abcdefghijklmnopqrstuvwxyz",
		"error", errors.New("rejected key sk-ant-REDACTED"),
		"ref", "internal-42",
		"count", 3,
	)

	out := buf.String()
	for _, secret := range []string{"plain-value", "abcdefghijklmnopqrstuvwxyz", "internal-42"} {
		if strings.Contains(out, secret) {
			t.Errorf("secret %q leaked: %s", secret, out)
		}
	}
	if !strings.Contains(out, `"count":3`) {
		t.Fatalf("non-string attr altered: %s", out)
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LogLevelFromString(tt.in); got != tt.want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
