package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSimulateShowsVerdicts(t *testing.T) {
	env := setupCLIEnv(t)

	out, _, err := runCLI(t, []string{"simulate", "BUSI101/Inbox/notes.pdf", "MATH200/Week1/notes.pdf"}, env.configPath)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	requireContains(t, out, "Watcher: documents")
	requireContains(t, out, "Global exclude: */Staging/*")
	requireContains(t, out, "BUSI101/Inbox/notes.pdf")
	requireContains(t, out, "MATH200/Week1/notes.pdf")
	requireContains(t, out, "SampleDB/Staging/test.pdf")
	requireContains(t, out, "Other Database/test.pdf")

	var busi, math, staging string
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.Contains(line, "BUSI101/Inbox/notes.pdf"):
			busi = line
		case strings.Contains(line, "MATH200/Week1/notes.pdf"):
			math = line
		case strings.Contains(line, "SampleDB/Staging/test.pdf"):
			staging = line
		}
	}
	if strings.Count(busi, "RUN") != 2 {
		t.Fatalf("expected import and tag to run for BUSI path, got %q", busi)
	}
	if !strings.Contains(busi, "BUSI101/Inbox") {
		t.Fatalf("expected inbox route for BUSI path, got %q", busi)
	}
	if !strings.Contains(math, "SKIPPED") || strings.Count(math, "RUN") != 1 {
		t.Fatalf("expected tag skipped for MATH path, got %q", math)
	}
	if strings.Count(staging, "GLOBAL") != 2 {
		t.Fatalf("expected global exclude for staging path, got %q", staging)
	}
}

func TestSimulateUnknownWatcher(t *testing.T) {
	env := setupCLIEnv(t)
	if _, _, err := runCLI(t, []string{"simulate", "--watcher", "missing"}, env.configPath); err == nil {
		t.Fatal("expected error for unknown watcher")
	}
}

func TestOnceHistoryAndStatus(t *testing.T) {
	env := setupCLIEnv(t)
	writeInboxFile(t, env, "Acme/Invoices/inv.pdf", "invoice")
	writeInboxFile(t, env, "loose.pdf", "no collection")
	writeInboxFile(t, env, "Acme/Staging/draft.pdf", "draft")

	out, _, err := runCLI(t, []string{"once"}, env.configPath)
	if err == nil {
		t.Fatal("expected once to report the failed file")
	}
	requireContains(t, err.Error(), "loose.pdf")
	requireContains(t, out, "1 imported")
	requireContains(t, out, "1 failed")
	requireContains(t, out, "failed: loose.pdf")

	archived := filepath.Join(env.root, "_Archived", "Acme", "Invoices", "inv.pdf")
	if _, err := os.Stat(archived); err != nil {
		t.Fatalf("expected archived source at %s: %v", archived, err)
	}
	if _, err := os.Stat(filepath.Join(env.root, "Acme", "Staging", "draft.pdf")); err != nil {
		t.Fatalf("expected globally excluded file to stay in place: %v", err)
	}

	out, _, err = runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "Acme/Invoices/inv.pdf")
	requireContains(t, out, "loose.pdf")
	if strings.Contains(out, "draft.pdf") {
		t.Fatalf("global excludes should not be recorded, got:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"history", "--outcome", "failed"}, env.configPath)
	if err != nil {
		t.Fatalf("history --outcome: %v", err)
	}
	requireContains(t, out, "loose.pdf")
	if strings.Contains(out, "inv.pdf") {
		t.Fatalf("expected only failed runs, got:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Daemon running: no")
	requireContains(t, out, "State directory")
	requireContains(t, out, "documents")

	out, _, err = runCLI(t, []string{"history", "prune", "--days", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("history prune: %v", err)
	}
	requireContains(t, out, "Pruned 0 run(s)")
}

func TestHistoryEmpty(t *testing.T) {
	env := setupCLIEnv(t)
	out, _, err := runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No runs recorded")
}

func TestTestNotifyWithoutTransports(t *testing.T) {
	env := setupCLIEnv(t)
	out, _, err := runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "nothing sent")
}

func TestLogsPrintsTail(t *testing.T) {
	env := setupCLIEnv(t)
	logDir := filepath.Join(env.base, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	runLog := filepath.Join(logDir, "intake-20260101T000000.000Z.log")
	if err := os.WriteFile(runLog, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if err := ensureCurrentLogPointer(logDir, runLog); err != nil {
		t.Fatalf("ensureCurrentLogPointer: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "-n", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Contains(out, "first") {
		t.Fatalf("expected only the last two lines, got %q", out)
	}
	requireContains(t, out, "second\nthird\n")
}
