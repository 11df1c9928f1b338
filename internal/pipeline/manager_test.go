package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"intake/internal/config"
	"intake/internal/notifications"
	"intake/internal/pipeline"
	"intake/internal/services"
	"intake/internal/testsupport"
)

func TestGlobalExcludeRunsNoSteps(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithSteps(commandStep("ocr", nil, nil)),
		testsupport.WithWatcher(func(w *config.Watcher) { w.GlobalExclude = []string{"*/Staging/*"} }),
	)
	root := testsupport.WatchRoot(cfg)
	path := testsupport.WriteRel(t, root, "Acme/Staging/draft.pdf", "draft")

	runner := &stubRunner{}
	hist := &recordingHistory{}
	m := newManager(t, cfg.Watchers[0], pipeline.Deps{Runner: runner, History: hist})

	res := m.ProcessFile(context.Background(), candidateFor(t, root, "Acme/Staging/draft.pdf"))
	if res.Outcome != pipeline.OutcomeSkipped {
		t.Fatalf("unexpected outcome: got %q want %q", res.Outcome, pipeline.OutcomeSkipped)
	}
	if calls := runner.Calls(); len(calls) != 0 {
		t.Fatalf("expected no steps, got %v", calls)
	}
	if !fileExists(path) {
		t.Fatal("expected file left in place")
	}
	if runs := hist.Runs(); len(runs) != 0 {
		t.Fatalf("expected no history for global exclude, got %d rows", len(runs))
	}
}

func TestStepFiltersSelectByPath(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithSteps(commandStep("busi", []string{"*/BUSI*/*"}, nil)),
	)
	root := testsupport.WatchRoot(cfg)
	testsupport.WriteRel(t, root, "Acme/BUSI101/notes.pdf", "busi")
	mathPath := testsupport.WriteRel(t, root, "Acme/MATH101/notes.pdf", "math")

	runner := &stubRunner{}
	hist := &recordingHistory{}
	m := newManager(t, cfg.Watchers[0], pipeline.Deps{Runner: runner, History: hist})
	ctx := context.Background()

	busi := m.ProcessFile(ctx, candidateFor(t, root, "Acme/BUSI101/notes.pdf"))
	if busi.Outcome != pipeline.OutcomeSuccess {
		t.Fatalf("unexpected outcome for BUSI: got %q (%v)", busi.Outcome, busi.Err)
	}
	archived := filepath.Join(root, "_Archived", "Acme", "BUSI101", "notes.pdf")
	if busi.ArchivedTo != archived || !fileExists(archived) {
		t.Fatalf("expected archive at %s, got %q", archived, busi.ArchivedTo)
	}

	math := m.ProcessFile(ctx, candidateFor(t, root, "Acme/MATH101/notes.pdf"))
	if math.Outcome != pipeline.OutcomeSkipped || math.Reason != "no_steps" {
		t.Fatalf("unexpected outcome for MATH: got %q reason %q", math.Outcome, math.Reason)
	}
	if !fileExists(mathPath) {
		t.Fatal("expected skipped file left in place")
	}

	calls := runner.Calls()
	if len(calls) != 1 || calls[0] != "busi:Acme/BUSI101/notes.pdf" {
		t.Fatalf("unexpected calls: %v", calls)
	}
	runs := hist.Runs()
	if len(runs) != 2 || runs[0].Outcome != "success" || runs[1].Outcome != "skipped" {
		t.Fatalf("unexpected history: %+v", runs)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSteps(commandStep("ocr", nil, nil)))
	root := testsupport.WatchRoot(cfg)
	testsupport.WriteRel(t, root, "Acme/Invoices/inv.pdf", "invoice")

	runner := &stubRunner{failures: map[string]int{"ocr": 2}}
	hist := &recordingHistory{}
	notifier := &recordingNotifier{}
	m := newManager(t, cfg.Watchers[0], pipeline.Deps{Runner: runner, History: hist, Notifier: notifier})

	if !m.Enqueue(candidateFor(t, root, "Acme/Invoices/inv.pdf")) {
		t.Fatal("expected candidate to be enqueued")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	summary := m.RunUntilIdle(ctx)

	if summary.Succeeded != 1 || summary.Retries != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if calls := runner.Calls(); len(calls) != 3 {
		t.Fatalf("expected 3 step runs, got %d: %v", len(calls), calls)
	}
	runs := hist.Runs()
	if len(runs) != 1 || runs[0].Attempts != 3 || runs[0].Outcome != "success" {
		t.Fatalf("unexpected history: %+v", runs)
	}
	if notifier.Count(notifications.EventFileFailed) != 0 {
		t.Fatal("expected no failure notification")
	}
	if notifier.Count(notifications.EventFileImported) != 1 {
		t.Fatal("expected one success notification")
	}
	if st := m.Status(); len(st.Failures) != 0 {
		t.Fatalf("expected failures cleared, got %v", st.Failures)
	}
}

func TestTerminalFailureBlocksUntilReset(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithSteps(commandStep("ocr", nil, nil)),
		testsupport.WithWatcher(func(w *config.Watcher) { w.Pipeline.RetryCount = 2 }),
	)
	root := testsupport.WatchRoot(cfg)
	path := testsupport.WriteRel(t, root, "Acme/Invoices/inv.pdf", "invoice")

	runner := &stubRunner{failures: map[string]int{"ocr": 100}}
	hist := &recordingHistory{}
	notifier := &recordingNotifier{}
	m := newManager(t, cfg.Watchers[0], pipeline.Deps{Runner: runner, History: hist, Notifier: notifier})

	c := candidateFor(t, root, "Acme/Invoices/inv.pdf")
	m.Enqueue(c)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	summary := m.RunUntilIdle(ctx)

	if summary.Failed != 1 || summary.Retries != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if !summary.HasFailures() || summary.FailedKeys[0] != "Acme/Invoices/inv.pdf" {
		t.Fatalf("expected failed key, got %+v", summary)
	}
	if calls := runner.Calls(); len(calls) != 2 {
		t.Fatalf("expected 2 step runs, got %v", calls)
	}
	if notifier.Count(notifications.EventFileFailed) != 1 {
		t.Fatal("expected one failure notification")
	}
	runs := hist.Runs()
	if len(runs) != 1 || runs[0].Outcome != "failed" || runs[0].ErrorKind != services.Kind(services.ErrStepExecution) {
		t.Fatalf("unexpected history: %+v", runs)
	}
	if !fileExists(path) {
		t.Fatal("expected failed file left in place")
	}

	if m.Enqueue(c) {
		t.Fatal("expected blocked file to be ignored")
	}
	if st := m.Status(); len(st.Blocked) != 1 || st.Blocked[0] != "Acme/Invoices/inv.pdf" {
		t.Fatalf("unexpected blocked list: %v", st.Blocked)
	}
	if n := m.ResetFailures(); n != 1 {
		t.Fatalf("expected 1 counter reset, got %d", n)
	}
	if !m.Enqueue(c) {
		t.Fatal("expected file eligible after reset")
	}
}

func TestInvalidPathFailsWithoutRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSteps(commandStep("ocr", nil, nil)))
	root := testsupport.WatchRoot(cfg)
	testsupport.WriteRel(t, root, "loose.pdf", "loose")

	runner := &stubRunner{}
	notifier := &recordingNotifier{}
	m := newManager(t, cfg.Watchers[0], pipeline.Deps{Runner: runner, Notifier: notifier})

	c := candidateFor(t, root, "loose.pdf")
	res := m.ProcessFile(context.Background(), c)
	if res.Outcome != pipeline.OutcomeFailed || !errors.Is(res.Err, services.ErrInvalidPath) {
		t.Fatalf("unexpected result: %q %v", res.Outcome, res.Err)
	}
	if st := m.Status(); st.Pending != 0 {
		t.Fatalf("expected no retry scheduled, pending=%d", st.Pending)
	}
	if m.Enqueue(c) {
		t.Fatal("expected invalid path to stay blocked")
	}
	if len(runner.Calls()) != 0 {
		t.Fatal("expected no steps for invalid path")
	}
	if notifier.Count(notifications.EventFileFailed) != 1 {
		t.Fatal("expected failure notification")
	}
}

func TestSettledFileIgnoredUntilChanged(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithSteps(commandStep("ocr", nil, nil)),
		testsupport.WithArchive(false),
	)
	root := testsupport.WatchRoot(cfg)
	path := testsupport.WriteRel(t, root, "Acme/Reports/q1.pdf", "first")

	runner := &stubRunner{}
	m := newManager(t, cfg.Watchers[0], pipeline.Deps{Runner: runner})

	res := m.ProcessFile(context.Background(), candidateFor(t, root, "Acme/Reports/q1.pdf"))
	if res.Outcome != pipeline.OutcomeSuccess || res.ArchivedTo != "" {
		t.Fatalf("unexpected result: %q archived=%q", res.Outcome, res.ArchivedTo)
	}
	if !fileExists(path) {
		t.Fatal("expected file left in place without archive")
	}
	if m.Enqueue(candidateFor(t, root, "Acme/Reports/q1.pdf")) {
		t.Fatal("expected unchanged settled file to be ignored")
	}

	testsupport.WriteContent(t, path, "second version")
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if !m.Enqueue(candidateFor(t, root, "Acme/Reports/q1.pdf")) {
		t.Fatal("expected changed file to be enqueued")
	}
	if m.Enqueue(candidateFor(t, root, "Acme/Reports/q1.pdf")) {
		t.Fatal("expected duplicate pending entry to be ignored")
	}
}

func TestCanceledAttemptIsAbandoned(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithSteps(commandStep("ocr", nil, nil)),
		testsupport.WithWatcher(func(w *config.Watcher) {
			w.Watch.StabilityCheckSeconds = 5
			w.Watch.StabilityTimeoutSeconds = 30
		}),
	)
	root := testsupport.WatchRoot(cfg)
	path := testsupport.WriteRel(t, root, "Acme/Reports/q1.pdf", "content")

	runner := &stubRunner{}
	hist := &recordingHistory{}
	m := newManager(t, cfg.Watchers[0], pipeline.Deps{Runner: runner, History: hist})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := candidateFor(t, root, "Acme/Reports/q1.pdf")
	res := m.ProcessFile(ctx, c)
	if res.Outcome != pipeline.OutcomeAbandoned {
		t.Fatalf("unexpected outcome: got %q want %q", res.Outcome, pipeline.OutcomeAbandoned)
	}
	if !fileExists(path) || len(runner.Calls()) != 0 || len(hist.Runs()) != 0 {
		t.Fatal("expected abandoned attempt to leave no trace")
	}
	if !m.Enqueue(c) {
		t.Fatal("expected abandoned file to remain eligible")
	}
}

func TestRunDrainsQueueUntilCanceled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSteps(commandStep("ocr", nil, nil)))
	root := testsupport.WatchRoot(cfg)
	testsupport.WriteRel(t, root, "Acme/Reports/q1.pdf", "one")
	testsupport.WriteRel(t, root, "Acme/Reports/q2.pdf", "two")

	hist := &recordingHistory{}
	m := newManager(t, cfg.Watchers[0], pipeline.Deps{Runner: &stubRunner{}, History: hist})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	m.Enqueue(candidateFor(t, root, "Acme/Reports/q1.pdf"))
	m.Enqueue(candidateFor(t, root, "Acme/Reports/q2.pdf"))

	deadline := time.Now().Add(5 * time.Second)
	for len(hist.Runs()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for runs, got %d", len(hist.Runs()))
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	for _, run := range hist.Runs() {
		if run.Outcome != "success" || !strings.HasPrefix(run.RelativePath, "Acme/Reports/") {
			t.Fatalf("unexpected run: %+v", run)
		}
	}
}

func TestNewManagerRejectsBadGlob(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSteps(commandStep("ocr", []string{"[unclosed"}, nil)))
	_, err := pipeline.NewManager(cfg.Watchers[0], pipeline.Deps{})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestArchivedFileIgnoresStaleRediscovery(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithSteps(commandStep("tag", nil, nil)),
		testsupport.WithWatcher(func(w *config.Watcher) { w.Pipeline.RetryCount = 3 }),
	)
	root := testsupport.WatchRoot(cfg)
	testsupport.WriteRel(t, root, "Acme/Invoices/inv.pdf", "invoice")

	runner := &stubRunner{}
	hist := &recordingHistory{}
	notifier := &recordingNotifier{}
	m := newManager(t, cfg.Watchers[0], pipeline.Deps{Runner: runner, History: hist, Notifier: notifier})
	ctx := context.Background()

	c := candidateFor(t, root, "Acme/Invoices/inv.pdf")
	if res := m.ProcessFile(ctx, c); res.Outcome != pipeline.OutcomeSuccess || res.ArchivedTo == "" {
		t.Fatalf("unexpected first result: %+v", res)
	}

	if m.Enqueue(c) {
		t.Fatal("expected candidate for archived file to be dropped")
	}
	if res := m.ProcessFile(ctx, c); res.Outcome != pipeline.OutcomeStale {
		t.Fatalf("unexpected outcome for stale candidate: %q (%v)", res.Outcome, res.Err)
	}
	if summary := m.RunUntilIdle(ctx); summary.Failed != 0 || summary.Retries != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if n := notifier.Count(notifications.EventFileFailed); n != 0 {
		t.Fatalf("expected no failure notifications, got %d", n)
	}
	if runs := hist.Runs(); len(runs) != 1 || runs[0].Outcome != "success" {
		t.Fatalf("expected only the success row, got %+v", runs)
	}
	if calls := runner.Calls(); len(calls) != 1 {
		t.Fatalf("expected one step call, got %v", calls)
	}

	testsupport.WriteRel(t, root, "Acme/Invoices/inv.pdf", "invoice v2")
	if !m.Enqueue(candidateFor(t, root, "Acme/Invoices/inv.pdf")) {
		t.Fatal("expected a new file at the archived path to be accepted")
	}
	if summary := m.RunUntilIdle(ctx); summary.Succeeded != 1 {
		t.Fatalf("unexpected summary for new file: %+v", summary)
	}
}
