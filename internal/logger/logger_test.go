package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	if l == nil {
		t.Fatal("expected non-nil logger")
	}

	l.Info("test message", slog.String("key", "value"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}

	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %q, want %q", entry["key"], "value")
	}
}

func TestSetup_LevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("expected Info to be suppressed at warn level, got %s", buf.String())
	}

	l.Warn("emitted")
	if buf.Len() == 0 {
		t.Error("expected Warn to be emitted at warn level")
	}
}

func TestSetup_InvalidLevelFallsBackToInfo(t *testing.T) {
	t.Setenv("LOG_LEVEL", "noisy")

	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("still logged")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %q, want %q", entry["level"], "INFO")
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	SetupDefault(&buf)

	slog.Default().Info("global test", slog.String("test_key", "test_val"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v\nraw: %s", err, buf.String())
	}

	if entry["msg"] != "global test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "global test")
	}
}
