package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"intake/internal/config"
	"intake/internal/executor"
	"intake/internal/history"
	"intake/internal/notifications"
	"intake/internal/pipeline"
	"intake/internal/services"
	"intake/internal/watcher"
)

// stubRunner records step invocations and fails a step a fixed number of
// times before succeeding.
type stubRunner struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]int
}

func (r *stubRunner) Run(_ context.Context, step config.Step, vars executor.Variables) (executor.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, step.Name+":"+vars[executor.VarRelativePath])
	if r.failures[step.Name] > 0 {
		r.failures[step.Name]--
		return executor.Result{ExitCode: 1, Stderr: "boom"},
			services.Wrap(services.ErrStepExecution, "executor", step.Name, "boom", nil)
	}
	return executor.Result{Stdout: "ok\n", Stderr: "TIMING: 1ms\n"}, nil
}

func (r *stubRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Count(event notifications.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.events {
		if e == event {
			count++
		}
	}
	return count
}

type recordingHistory struct {
	mu   sync.Mutex
	runs []history.Run
}

func (h *recordingHistory) Record(_ context.Context, run history.Run) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, run)
	return int64(len(h.runs)), nil
}

func (h *recordingHistory) Runs() []history.Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]history.Run(nil), h.runs...)
}

func commandStep(name string, include, exclude []string) config.Step {
	return config.Step{Name: name, Kind: config.StepCommand, Run: "true", Include: include, Exclude: exclude}
}

func newManager(t *testing.T, w config.Watcher, deps pipeline.Deps) *pipeline.Manager {
	t.Helper()
	m, err := pipeline.NewManager(w, deps)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func candidateFor(t *testing.T, root, rel string) watcher.Candidate {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return watcher.Candidate{Path: path, RelativePath: rel, Size: info.Size(), ModTime: info.ModTime()}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
