package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofrs/flock"

	"intake/internal/config"
	"intake/internal/logging"
	"intake/internal/metrics"
	"intake/internal/notifications"
	"intake/internal/pipeline"
	"intake/internal/services"
	"intake/internal/watcher"
)

// ErrAlreadyRunning is returned when another process holds the daemon lock.
var ErrAlreadyRunning = errors.New("another intake instance is already running")

// Deps are the shared collaborators handed to every watcher unit.
type Deps struct {
	Library  pipeline.Library
	Runner   pipeline.StepRunner
	History  pipeline.HistoryRecorder
	Notifier notifications.Service
	Metrics  *metrics.Recorder
}

type unit struct {
	watcher config.Watcher
	source  *watcher.Source
	manager *pipeline.Manager
}

// Daemon runs every enabled watcher and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Deps
	units  []*unit

	lockPath string
	lock     *flock.Flock

	scheduler gocron.Scheduler
	server    *statusServer

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errs    map[string]error
}

// WatcherStatus is the runtime view of one watcher.
type WatcherStatus struct {
	pipeline.Status
	SetupError string `json:"setup_error,omitempty"`
}

// Status represents daemon runtime information.
type Status struct {
	Running  bool            `json:"running"`
	LockPath string          `json:"lock_path"`
	Watchers []WatcherStatus `json:"watchers"`
}

// New constructs a daemon with one unit per enabled watcher.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewNoop()
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		deps:     deps,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		errs:     make(map[string]error),
	}
	for _, w := range cfg.EnabledWatchers() {
		src, err := watcher.New(w.Watch.BaseFolder, w.Watch.FilePatterns, w.Watch.IgnorePatterns,
			[]string{w.Pipeline.ArchiveDir}, logger)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "daemon", "build watcher", w.Name, err)
		}
		mgr, err := pipeline.NewManager(w, pipeline.Deps{
			Library:               deps.Library,
			Runner:                deps.Runner,
			History:               deps.History,
			Notifier:              deps.Notifier,
			Metrics:               deps.Metrics,
			Logger:                logger,
			AutoCreateCollections: cfg.Sink.AutoCreateCollections,
			LogLevel:              cfg.Logging.Level,
		})
		if err != nil {
			return nil, err
		}
		d.units = append(d.units, &unit{watcher: w, source: src, manager: mgr})
	}
	if len(d.units) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "build watchers", "no enabled watchers", nil)
	}
	if deps.Metrics != nil {
		d.server = newStatusServer(cfg.Paths.MetricsBind, cfg.Paths.StatusToken, d, logger)
	}
	return d, nil
}

// Start acquires the lock and launches every watcher unit. Watchers whose
// root cannot be prepared are reported and skipped; the rest keep running.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.acquireLock(); err != nil {
		return err
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		d.releaseLock()
		return fmt.Errorf("create scheduler: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.scheduler = scheduler
	d.errs = make(map[string]error)
	d.mu.Unlock()

	started := 0
	for _, u := range d.units {
		if d.startUnit(runCtx, scheduler, u) {
			started++
		}
	}
	scheduler.Start()

	if err := d.server.start(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "metrics server unavailable", "metrics_server_failed",
			logging.String(logging.FieldErrorHint, "check paths.metrics_bind"),
			logging.String(logging.FieldImpact, "metrics and status endpoint disabled"),
			logging.Error(err),
		)
	}

	d.running.Store(true)
	d.logger.Info("intake daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("watchers", started),
		logging.Int("configured", len(d.units)),
	)
	return nil
}

func (d *Daemon) startUnit(ctx context.Context, scheduler gocron.Scheduler, u *unit) bool {
	if err := u.source.EnsureRoot(); err != nil {
		d.setupFailed(ctx, u, err)
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = u.manager.Run(ctx)
	}()

	d.scan(ctx, u)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := u.source.Watch(ctx, func(c watcher.Candidate) { u.manager.Enqueue(c) }); err != nil {
			d.setupFailed(ctx, u, err)
		}
	}()

	if interval := u.watcher.RescanInterval(); interval > 0 {
		_, err := scheduler.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() { d.scan(ctx, u) }),
			gocron.WithName("rescan:"+u.watcher.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			logging.WarnWithContext(d.logger, "failed to schedule rescan", "rescan_schedule_failed",
				logging.String(logging.FieldWatcher, u.watcher.Name),
				logging.String(logging.FieldImpact, "only filesystem events will discover files"),
				logging.Error(err),
			)
		}
	}
	return true
}

// scan enqueues every candidate currently under the unit's root.
func (d *Daemon) scan(ctx context.Context, u *unit) {
	candidates, err := u.source.Scan(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(d.logger, "scan failed", "scan_failed",
				logging.String(logging.FieldWatcher, u.watcher.Name),
				logging.String(logging.FieldErrorHint, "check watch.base_folder permissions"),
				logging.String(logging.FieldImpact, "files may be discovered late"),
				logging.Error(err),
			)
		}
		return
	}
	queued := 0
	for _, c := range candidates {
		if u.manager.Enqueue(c) {
			queued++
		}
	}
	d.logger.Debug("scan complete",
		logging.String(logging.FieldWatcher, u.watcher.Name),
		logging.Int("found", len(candidates)),
		logging.Int("queued", queued),
	)
}

func (d *Daemon) setupFailed(ctx context.Context, u *unit, err error) {
	wrapped := services.Wrap(services.ErrConfiguration, "daemon", "watcher setup", u.watcher.Name, err)
	d.mu.Lock()
	d.errs[u.watcher.Name] = wrapped
	d.mu.Unlock()

	logging.ErrorWithContext(d.logger, "watcher setup failed", "watcher_setup_failed",
		logging.String(logging.FieldWatcher, u.watcher.Name),
		logging.String(logging.FieldErrorHint, "check watch.base_folder exists and is readable"),
		logging.String(logging.FieldImpact, "watcher disabled until restart"),
		logging.Error(wrapped),
	)
	if nerr := d.deps.Notifier.Publish(context.WithoutCancel(ctx), notifications.EventConfigurationError, notifications.Payload{
		"watcher": u.watcher.Name,
		"error":   wrapped.Error(),
	}); nerr != nil {
		d.logger.Warn("configuration error notification failed", logging.Error(nerr))
	}
}

// Stop cancels every unit, waits for them, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.mu.Lock()
	cancel, scheduler := d.cancel, d.scheduler
	d.cancel, d.scheduler = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	if scheduler != nil {
		if err := scheduler.Shutdown(); err != nil {
			d.logger.Warn("scheduler shutdown failed", logging.Error(err))
		}
	}
	d.server.stop()
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("intake daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// RunOnce processes the files currently present under every watcher and
// returns once all queues are idle, retries included.
func (d *Daemon) RunOnce(ctx context.Context) (pipeline.Summary, error) {
	var summary pipeline.Summary
	if d.running.Load() {
		return summary, errors.New("daemon already running")
	}
	if err := d.acquireLock(); err != nil {
		return summary, err
	}
	defer d.releaseLock()

	for _, u := range d.units {
		if ctx.Err() != nil {
			break
		}
		if err := u.source.EnsureRoot(); err != nil {
			d.setupFailed(ctx, u, err)
			continue
		}
		d.scan(ctx, u)
		s := u.manager.RunUntilIdle(ctx)
		d.logger.Info("watcher drained",
			logging.String(logging.FieldWatcher, u.watcher.Name),
			logging.Int("succeeded", s.Succeeded),
			logging.Int("replicated", s.Replicated),
			logging.Int("skipped", s.Skipped),
			logging.Int("failed", s.Failed),
		)
		summary.Merge(s)
	}
	return summary, ctx.Err()
}

// Rescan enqueues files present under every running watcher.
func (d *Daemon) Rescan(ctx context.Context) {
	for _, u := range d.units {
		if d.setupError(u.watcher.Name) != nil {
			continue
		}
		d.scan(ctx, u)
	}
}

// ResetFailures clears failure tracking on every watcher and returns the
// number of files made eligible again.
func (d *Daemon) ResetFailures() int {
	total := 0
	for _, u := range d.units {
		total += u.manager.ResetFailures()
	}
	return total
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	st := Status{Running: d.running.Load(), LockPath: d.lockPath}
	for _, u := range d.units {
		ws := WatcherStatus{Status: u.manager.Status()}
		if err := d.setupError(u.watcher.Name); err != nil {
			ws.SetupError = err.Error()
		}
		st.Watchers = append(st.Watchers, ws)
	}
	return st
}

func (d *Daemon) setupError(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errs[name]
}

func (d *Daemon) acquireLock() error {
	if err := d.cfg.EnsureDirectories(); err != nil {
		return services.Wrap(services.ErrConfiguration, "daemon", "ensure directories", d.cfg.Paths.StateDir, err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	return nil
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// LockHeld reports whether another process currently holds the lock at path.
func LockHeld(path string) (bool, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return false, err
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

// MetricsAddr returns the status server's bound address, or "" when the
// server is not running.
func (d *Daemon) MetricsAddr() string { return d.server.Addr() }
