package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"intake/internal/config"
	"intake/internal/logging"
	"intake/internal/services"
)

func tempLogPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.log")
}

func fileOptions(level, format, path string) logging.Options {
	return logging.Options{
		Level:            level,
		Format:           format,
		OutputPaths:      []string{path},
		ErrorOutputPaths: []string{path},
	}
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Dir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from config")

	content := readLog(t, filepath.Join(cfg.Logging.Dir, "intake.log"))
	if !strings.Contains(content, "hello from config") {
		t.Fatalf("expected message in intake.log, got %q", content)
	}
}

func TestConsoleHeaderIncludesSubject(t *testing.T) {
	path := tempLogPath(t)
	logger, err := logging.New(fileOptions("info", "console", path))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger = logging.NewComponentLogger(logger, "pipeline")
	logger.Info("step started",
		logging.String(logging.FieldWatcher, "documents"),
		logging.String(logging.FieldFile, "Acme/Invoices/inv.pdf"),
		logging.String(logging.FieldStep, "ocr"),
		logging.String(logging.FieldEventType, "step_start"),
	)

	content := readLog(t, path)
	want := "INFO [pipeline] documents · Acme/Invoices/inv.pdf (ocr) – step started"
	if !strings.Contains(content, want) {
		t.Fatalf("expected header %q in %q", want, content)
	}
	if !strings.Contains(content, "    - Event: step_start") {
		t.Fatalf("expected event field in %q", content)
	}
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	path := tempLogPath(t)
	logger, err := logging.New(fileOptions("debug", "console", path))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message with caller")

	if content := readLog(t, path); !strings.Contains(content, ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestTraceLevelFiltering(t *testing.T) {
	infoPath := tempLogPath(t)
	infoLogger, err := logging.New(fileOptions("info", "console", infoPath))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.Trace(infoLogger, "skipped by global exclude")
	if content := readLog(t, infoPath); content != "" {
		t.Fatalf("expected trace to be filtered at info, got %q", content)
	}

	tracePath := tempLogPath(t)
	traceLogger, err := logging.New(fileOptions("trace", "console", tracePath))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.Trace(traceLogger, "skipped by global exclude")
	if content := readLog(t, tracePath); !strings.Contains(content, "TRACE") {
		t.Fatalf("expected TRACE label, got %q", content)
	}
}

func TestJSONLoggerFields(t *testing.T) {
	path := tempLogPath(t)
	logger, err := logging.New(fileOptions("trace", "json", path))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithWatcher(context.Background(), "documents")
	ctx = services.WithFile(ctx, "Acme/inv.pdf")
	ctx = services.WithAttempt(ctx, 2)
	ctx = services.WithRequestID(ctx, "req-xyz")
	logging.Trace(logging.WithContext(ctx, logger), "contextual log")

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, path))), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	checks := map[string]any{
		"level":                    "trace",
		"msg":                      "contextual log",
		logging.FieldWatcher:       "documents",
		logging.FieldFile:          "Acme/inv.pdf",
		logging.FieldAttempt:       float64(2),
		logging.FieldCorrelationID: "req-xyz",
	}
	for key, want := range checks {
		if entry[key] != want {
			t.Fatalf("field %s = %v, want %v", key, entry[key], want)
		}
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatal("expected ts key")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestParseLevelAliases(t *testing.T) {
	if got := logging.ParseLevel("warning"); got != logging.ParseLevel("warn") {
		t.Fatalf("warning should alias warn, got %v", got)
	}
	if got := logging.ParseLevel("critical"); got != logging.ParseLevel("error") {
		t.Fatalf("critical should alias error, got %v", got)
	}
	if got := logging.ParseLevel("bogus"); got != logging.ParseLevel("info") {
		t.Fatalf("unknown level should default to info, got %v", got)
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "intake-old.log")
	current := filepath.Join(dir, "intake-current.log")
	recent := filepath.Join(dir, "intake-recent.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, current, recent, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	stale := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{old, current, other} {
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 7,
		logging.RetentionTarget{Dir: dir, Pattern: "intake-*.log", Exclude: []string{current}})
	if removed != 1 {
		t.Fatalf("expected 1 file removed, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be removed", old)
	}
	for _, path := range []string{current, recent, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", path, err)
		}
	}
}
