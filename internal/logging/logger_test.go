package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"evalplane/internal/config"
	"evalplane/internal/logging"
	"evalplane/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("daemon started")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "evalplane.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "daemon started") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerLiftsRunIntoHeader(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithRunID(context.Background(), "0123456789abcdef")
	ctx = services.WithWorker(ctx, 2)
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "orchestrator")).Info("engine launched", logging.String("model", "gpt-x"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(content)
	for _, fragment := range []string{"[orchestrator]", "Worker 2 · Run 01234567", "engine launched", "- model: gpt-x"} {
		if !strings.Contains(text, fragment) {
			t.Fatalf("expected %q in %q", fragment, text)
		}
	}
}

func TestJSONLoggerCarriesContextFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithRunID(context.Background(), "run-1")
	ctx = services.WithRequestID(ctx, "req-xyz")
	logging.WithContext(ctx, logger).Info("contextual log")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(content, &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry[logging.FieldRunID] != "run-1" {
		t.Fatalf("expected run id field, got %v", entry)
	}
	if entry[logging.FieldCorrelationID] != "req-xyz" {
		t.Fatalf("expected correlation id field, got %v", entry)
	}
	if entry["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", entry["level"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "multiple results files", "ingest_ambiguous")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(content, &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry[logging.FieldEventType] != "ingest_ambiguous" {
		t.Fatalf("unexpected event type: %v", entry[logging.FieldEventType])
	}
	for _, key := range []string{logging.FieldErrorHint, logging.FieldImpact} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected %s to be injected", key)
		}
	}
}
