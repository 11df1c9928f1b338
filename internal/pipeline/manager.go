package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"intake/internal/config"
	"intake/internal/filter"
	"intake/internal/fingerprint"
	"intake/internal/logging"
	"intake/internal/metrics"
	"intake/internal/notifications"
	"intake/internal/services"
	"intake/internal/stability"
	"intake/internal/watcher"
)

// Deps are the collaborators a Manager shares with other watchers.
type Deps struct {
	Library  Library
	Runner   StepRunner
	History  HistoryRecorder
	Notifier notifications.Service
	Metrics  *metrics.Recorder
	Logger   *slog.Logger

	// AutoCreateCollections lets import steps create missing collections.
	AutoCreateCollections bool
	// LogLevel is exposed to steps as the {log_level} variable.
	LogLevel string
}

type compiledStep struct {
	step config.Step
	rule *filter.Compiled
}

// Manager processes files discovered under one watch root.
type Manager struct {
	watcher  config.Watcher
	root     string
	deps     Deps
	logger   *slog.Logger
	notifier notifications.Service

	globalExclude []filter.Pattern
	steps         []compiledStep
	detector      *stability.Detector
	resolver      *fingerprint.Resolver

	inProgress *InProgressSet
	queue      *workQueue
	settled    *settledSet

	mu       sync.Mutex
	failures map[string]int
	running  bool

	now func() time.Time
}

// NewManager compiles the watcher's globs and wires its collaborators.
// Compilation failures are configuration errors.
func NewManager(w config.Watcher, deps Deps) (*Manager, error) {
	globals, err := filter.CompilePatterns(w.GlobalExcludes())
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "compile global_exclude", w.Name, err)
	}
	var steps []compiledStep
	for _, step := range w.Pipeline.Steps {
		if !step.IsEnabled() {
			continue
		}
		rule, err := filter.Compile(filter.Rule{Include: step.Include, Exclude: step.Exclude})
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "compile step filters",
				fmt.Sprintf("%s/%s", w.Name, step.Name), err)
		}
		steps = append(steps, compiledStep{step: step, rule: rule})
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	logger = logging.NewComponentLogger(logger, "pipeline")

	var lookup fingerprint.Lookup
	if deps.Library != nil {
		lookup = deps.Library
	}

	return &Manager{
		watcher:       w,
		root:          filepath.Clean(w.Watch.BaseFolder),
		deps:          deps,
		logger:        logger,
		notifier:      notifier,
		globalExclude: globals,
		steps:         steps,
		detector:      stability.New(w.StabilityInterval(), w.StabilityTimeout()),
		resolver:      fingerprint.NewResolver(lookup, deps.Logger),
		inProgress:    NewInProgressSet(),
		queue:         newWorkQueue(),
		settled:       newSettledSet(settledCapacity),
		failures:      make(map[string]int),
		now:           time.Now,
	}, nil
}

// Name returns the watcher name.
func (m *Manager) Name() string { return m.watcher.Name }

// Root returns the watch root.
func (m *Manager) Root() string { return m.root }

// InProgress exposes the manager's in-progress set.
func (m *Manager) InProgress() *InProgressSet { return m.inProgress }

func (m *Manager) retryLimit() int {
	if m.watcher.Pipeline.RetryCount < 1 {
		return 1
	}
	return m.watcher.Pipeline.RetryCount
}

func (m *Manager) batchSize() int {
	if m.watcher.Watch.MaxFilesPerCycle < 1 {
		return 1
	}
	return m.watcher.Watch.MaxFilesPerCycle
}

// Enqueue schedules c for processing now. Candidates that are in progress,
// already pending or past the retry limit are ignored, as are settled files
// with an unchanged signature and archived files that have not reappeared.
func (m *Manager) Enqueue(c watcher.Candidate) bool {
	rel := c.RelativePath
	if m.inProgress.Contains(rel) {
		return false
	}
	if m.failureCount(rel) >= m.retryLimit() {
		logging.Trace(m.logger, "ignoring file past retry limit",
			logging.String(logging.FieldWatcher, m.watcher.Name),
			logging.String(logging.FieldFile, rel),
		)
		return false
	}
	if m.settled.unchanged(c) || m.settled.archivedAway(c) {
		return false
	}
	if !m.queue.push(c, m.now()) {
		return false
	}
	m.deps.Metrics.SetPending(m.watcher.Name, m.queue.len())
	return true
}

// Run drains the pending queue until ctx is canceled. Each cycle takes at
// most max_files_per_cycle due items before looking at the queue again, so
// new discoveries and due retries interleave.
func (m *Manager) Run(ctx context.Context) error {
	m.setRunning(true)
	defer m.setRunning(false)

	m.logger.Info("pipeline manager started",
		logging.String(logging.FieldWatcher, m.watcher.Name),
		logging.String("root", m.root),
		logging.Int("steps", len(m.steps)),
		logging.Int("max_files_per_cycle", m.batchSize()),
	)
	defer m.logger.Info("pipeline manager stopped", logging.String(logging.FieldWatcher, m.watcher.Name))

	for {
		if ctx.Err() != nil {
			return nil
		}
		batch := m.queue.takeDue(m.now(), m.batchSize())
		m.deps.Metrics.SetPending(m.watcher.Name, m.queue.len())
		if len(batch) == 0 {
			if !m.waitForWork(ctx) {
				return nil
			}
			continue
		}
		for i, item := range batch {
			if ctx.Err() != nil {
				m.queue.requeue(batch[i:])
				return nil
			}
			m.ProcessFile(ctx, item.candidate)
		}
	}
}

// RunUntilIdle processes pending files, waiting out retry delays, until the
// queue is empty. It is the engine behind run-once mode.
func (m *Manager) RunUntilIdle(ctx context.Context) Summary {
	var summary Summary
	for ctx.Err() == nil {
		batch := m.queue.takeDue(m.now(), m.batchSize())
		if len(batch) == 0 {
			if m.queue.len() == 0 {
				break
			}
			if !m.waitForWork(ctx) {
				break
			}
			continue
		}
		for i, item := range batch {
			if ctx.Err() != nil {
				m.queue.requeue(batch[i:])
				break
			}
			summary.Add(m.ProcessFile(ctx, item.candidate))
		}
	}
	m.deps.Metrics.SetPending(m.watcher.Name, m.queue.len())
	return summary
}

// waitForWork blocks until an item may be due or ctx ends. It reports false
// when ctx ended.
func (m *Manager) waitForWork(ctx context.Context) bool {
	var timerC <-chan time.Time
	if next, ok := m.queue.nextDue(); ok {
		timer := time.NewTimer(max(next.Sub(m.now()), time.Millisecond))
		defer timer.Stop()
		timerC = timer.C
	}
	select {
	case <-ctx.Done():
		return false
	case <-m.queue.wake:
		return true
	case <-timerC:
		return true
	}
}

// ResetFailures clears failure counters so blocked files are eligible
// again, and forgets settled files. It returns the number of counters
// cleared.
func (m *Manager) ResetFailures() int {
	m.mu.Lock()
	count := len(m.failures)
	m.failures = make(map[string]int)
	m.mu.Unlock()
	m.settled.clear()
	if count > 0 {
		m.logger.Info("reset failure tracking",
			logging.String(logging.FieldWatcher, m.watcher.Name),
			logging.Int("files", count),
		)
	}
	return count
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	failures := make(map[string]int, len(m.failures))
	var blocked []string
	for rel, n := range m.failures {
		failures[rel] = n
		if n >= m.retryLimit() {
			blocked = append(blocked, rel)
		}
	}
	running := m.running
	m.mu.Unlock()
	sort.Strings(blocked)

	return Status{
		Watcher:    m.watcher.Name,
		Root:       m.root,
		Running:    running,
		InProgress: m.inProgress.Snapshot(),
		Pending:    m.queue.len(),
		Failures:   failures,
		Blocked:    blocked,
	}
}

func (m *Manager) setRunning(running bool) {
	m.mu.Lock()
	m.running = running
	m.mu.Unlock()
}

func (m *Manager) failureCount(rel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[rel]
}

func (m *Manager) setFailures(rel string, n int) {
	m.mu.Lock()
	m.failures[rel] = n
	m.mu.Unlock()
}

func (m *Manager) clearFailures(rel string) {
	m.mu.Lock()
	delete(m.failures, rel)
	m.mu.Unlock()
}
