package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"intake/internal/config"
	"intake/internal/executor"
	"intake/internal/filter"
	"intake/internal/fingerprint"
	"intake/internal/history"
	"intake/internal/logging"
	"intake/internal/notifications"
	"intake/internal/route"
	"intake/internal/services"
	"intake/internal/watcher"
)

// ProcessFile runs one attempt for c and applies its consequences: archive or
// settle on success, retry scheduling or terminal failure on error, plus
// history, metrics and notifications. An attempt for a path that is already
// in progress returns OutcomeBusy, and a candidate whose file was already
// archived returns OutcomeStale, both without side effects.
func (m *Manager) ProcessFile(ctx context.Context, c watcher.Candidate) Result {
	rel := c.RelativePath
	if !m.inProgress.TryAcquire(rel) {
		return Result{Outcome: OutcomeBusy, RelativePath: rel}
	}
	if m.settled.archivedAway(c) {
		m.inProgress.Release(rel)
		logging.Trace(m.logger, "dropping candidate for archived file",
			logging.String(logging.FieldWatcher, m.watcher.Name),
			logging.String(logging.FieldFile, rel),
		)
		return Result{Outcome: OutcomeStale, RelativePath: rel}
	}
	m.deps.Metrics.SetInProgress(m.watcher.Name, m.inProgress.Len())
	defer func() {
		m.inProgress.Release(rel)
		m.deps.Metrics.SetInProgress(m.watcher.Name, m.inProgress.Len())
	}()

	attempt := m.failureCount(rel) + 1
	ctx = services.WithWatcher(ctx, m.watcher.Name)
	ctx = services.WithFile(ctx, rel)
	ctx = services.WithAttempt(ctx, attempt)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, m.logger)

	res := Result{RelativePath: rel, Attempt: attempt, StartedAt: m.now()}
	m.attempt(ctx, logger, c, &res)
	res.Duration = m.now().Sub(res.StartedAt)
	return m.finish(ctx, logger, c, res)
}

// attempt performs the checks and steps of a single run, setting Outcome and
// Err on res. It has no side effects on manager state.
func (m *Manager) attempt(ctx context.Context, logger *slog.Logger, c watcher.Candidate, res *Result) {
	desc, err := route.Parse(res.RelativePath)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return
	}
	res.Route = desc

	if p, ok := filter.FirstMatch(m.globalExclude, res.RelativePath); ok {
		logging.Trace(logger, "skipped by global exclude", logging.String("pattern", p.Source))
		res.Outcome, res.Reason, res.globalExclude = OutcomeSkipped, "global_exclude:"+p.Source, true
		return
	}

	if _, err := m.detector.Wait(ctx, c.Path); err != nil {
		if ctx.Err() != nil {
			res.Outcome, res.Err = OutcomeAbandoned, ctx.Err()
			return
		}
		res.Outcome, res.Err = OutcomeFailed, err
		return
	}

	steps := m.selectSteps(logger, res.RelativePath)
	if len(steps) == 0 {
		logger.Debug("no steps matched path filters", logging.String("route", desc.String()))
		res.Outcome, res.Reason = OutcomeSkipped, "no_steps"
		return
	}

	if m.watcher.Dedup && hasImportStep(steps) {
		fp, err := fingerprint.Compute(c.Path)
		if err != nil {
			res.Outcome, res.Err = OutcomeFailed, err
			return
		}
		res.Fingerprint = fp
	}

	logger.Info("processing file",
		logging.String("route", desc.String()),
		logging.Int("steps", len(steps)),
	)
	vars := m.variables(c, desc)
	for i, step := range steps {
		if ctx.Err() != nil {
			res.Outcome, res.Err = OutcomeAbandoned, ctx.Err()
			return
		}
		res.Steps = append(res.Steps, step.Name)
		stepCtx := services.WithStep(ctx, step.Name)
		stepLogger := logging.WithContext(stepCtx, m.logger)
		stepLogger.Info("step started",
			logging.String(logging.FieldEventType, "step_start"),
			logging.Int("index", i+1),
			logging.Int("total", len(steps)),
			logging.String("kind", string(step.Kind)),
		)
		start := time.Now()
		var err error
		if step.Kind == config.StepImport {
			err = m.runImport(stepCtx, stepLogger, c, desc, res)
		} else {
			err = m.runStep(stepCtx, stepLogger, step, vars)
		}
		elapsed := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				res.Outcome, res.Err = OutcomeAbandoned, ctx.Err()
				return
			}
			res.Outcome, res.Err, res.Reason = OutcomeFailed, err, "step:"+step.Name
			return
		}
		stepLogger.Info("step completed",
			logging.String(logging.FieldEventType, "step_complete"),
			logging.Duration("duration", elapsed),
		)
	}
	if res.Outcome == "" {
		res.Outcome = OutcomeSuccess
	}
}

// selectSteps returns the enabled steps whose filters admit rel, in
// declared order.
func (m *Manager) selectSteps(logger *slog.Logger, rel string) []config.Step {
	var out []config.Step
	for _, cs := range m.steps {
		decision := cs.rule.Evaluate(rel)
		if !decision.Runs() {
			logging.Trace(logger, "step filtered out",
				logging.String(logging.FieldStep, cs.step.Name),
				logging.String("verdict", decision.Verdict.String()),
				logging.String("reason", decision.Reason),
			)
			continue
		}
		out = append(out, cs.step)
	}
	return out
}

func hasImportStep(steps []config.Step) bool {
	for _, s := range steps {
		if s.Kind == config.StepImport {
			return true
		}
	}
	return false
}

func (m *Manager) variables(c watcher.Candidate, desc route.Descriptor) executor.Variables {
	return executor.Variables{
		executor.VarFilePath:     c.Path,
		executor.VarRelativePath: c.RelativePath,
		executor.VarFilename:     path.Base(c.RelativePath),
		executor.VarDatabase:     desc.Collection,
		executor.VarGroupPath:    desc.Location,
		executor.VarBaseFolder:   m.root,
		executor.VarLogLevel:     m.deps.LogLevel,
	}
}

// runStep executes a script or command step and logs its output.
func (m *Manager) runStep(ctx context.Context, logger *slog.Logger, step config.Step, vars executor.Variables) error {
	if m.deps.Runner == nil {
		return services.Wrap(services.ErrConfiguration, "pipeline", "run step", "no step runner configured", nil)
	}
	result, err := m.deps.Runner.Run(ctx, step, vars)
	m.deps.Metrics.ObserveStep(m.watcher.Name, step.Name, result.Duration)

	forEachLine(result.Stderr, func(line string) {
		if strings.HasPrefix(line, "TIMING:") {
			logger.Info(line)
		}
	})
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	forEachLine(result.Stdout, func(line string) {
		logger.Log(ctx, level, "step output", logging.String("stdout", line))
	})
	return err
}

// runImport resolves the destination and either replicates an existing
// record or imports the file as new content.
func (m *Manager) runImport(ctx context.Context, logger *slog.Logger, c watcher.Candidate, desc route.Descriptor, res *Result) error {
	lib := m.deps.Library
	if lib == nil {
		return services.Wrap(services.ErrConfiguration, "import", "library", "no library configured", nil)
	}

	coll, err := lib.ResolveCollection(ctx, desc.Collection)
	if errors.Is(err, services.ErrNotFound) {
		if !m.deps.AutoCreateCollections {
			return services.Wrap(services.ErrStepExecution, "import", "resolve collection",
				fmt.Sprintf("collection %q does not exist", desc.Collection), err)
		}
		coll, err = lib.CreateCollection(ctx, desc.Collection)
		if err == nil {
			logger.Info("collection created", logging.String("collection", coll.Name))
		}
	}
	if err != nil {
		return services.Wrap(services.ErrStepExecution, "import", "resolve collection", desc.Collection, err)
	}

	loc, err := lib.ResolveOrCreateLocation(ctx, coll, desc.Location, desc.IsInboxRoute)
	if err != nil {
		return services.Wrap(services.ErrStepExecution, "import", "resolve location", desc.String(), err)
	}

	if m.watcher.Dedup {
		decision := m.resolver.Resolve(ctx, res.Fingerprint, coll)
		if decision.Action == fingerprint.ActionReplicate {
			created, err := lib.Replicate(ctx, *decision.Match, loc)
			if err != nil {
				return services.Wrap(services.ErrStepExecution, "import", "replicate", decision.Match.UUID, err)
			}
			res.Outcome = OutcomeReplicated
			res.RecordUUID = decision.Match.UUID
			res.AlreadyPresent = !created
			logger.Info("replicated existing record",
				logging.String("record_uuid", decision.Match.UUID),
				logging.String("destination", desc.String()),
				logging.Bool("already_present", !created),
			)
			return nil
		}
	}

	rec, err := lib.ImportAndProcess(ctx, c.Path, loc)
	if err != nil {
		if errors.Is(err, services.ErrStepExecution) {
			return err
		}
		return services.Wrap(services.ErrStepExecution, "import", "import and process", desc.String(), err)
	}
	res.RecordUUID = rec.UUID

	// The record exists now; its fingerprint must land even if shutdown
	// arrives, or identical bytes would import again.
	if m.watcher.Dedup && res.Fingerprint != "" {
		if err := lib.AttachFingerprint(context.WithoutCancel(ctx), rec, res.Fingerprint); err != nil {
			logging.WarnWithContext(logger, "failed to attach fingerprint", "fingerprint_attach_failed",
				logging.String(logging.FieldErrorHint, "check the library database"),
				logging.String(logging.FieldImpact, "future copies of this file will import as new records"),
				logging.String("record_uuid", rec.UUID),
				logging.Error(err),
			)
		}
	}
	return nil
}

func forEachLine(text string, fn func(string)) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r"); strings.TrimSpace(line) != "" {
			fn(line)
		}
	}
}

// finish applies the consequences of an attempt.
func (m *Manager) finish(ctx context.Context, logger *slog.Logger, c watcher.Candidate, res Result) Result {
	switch res.Outcome {
	case OutcomeSuccess, OutcomeReplicated:
		if err := m.place(c, &res); err != nil {
			res.Outcome, res.Err = OutcomeFailed, err
			return m.fail(ctx, logger, c, res, true)
		}
		m.clearFailures(res.RelativePath)
		logger.Info("file processed",
			logging.String(logging.FieldEventType, "file_processed"),
			logging.String(logging.FieldOutcome, string(res.Outcome)),
			logging.Strings("steps", res.Steps),
			logging.String("record_uuid", res.RecordUUID),
			logging.String("archived_to", res.ArchivedTo),
			logging.Duration("duration", res.Duration),
		)
		m.notify(ctx, logger, notifications.EventFileImported, notifications.Payload{
			"watcher":     m.watcher.Name,
			"file":        res.RelativePath,
			"collection":  res.Route.Collection,
			"location":    res.Route.Location,
			"outcome":     string(res.Outcome),
			"record_uuid": res.RecordUUID,
		})
		m.record(ctx, logger, res)
	case OutcomeSkipped:
		m.settled.settle(c)
		if !res.globalExclude {
			m.record(ctx, logger, res)
		}
	case OutcomeFailed:
		return m.fail(ctx, logger, c, res, !services.Retryable(res.Err))
	case OutcomeAbandoned:
		logger.Debug("attempt abandoned", logging.Error(res.Err))
		return res
	}
	m.deps.Metrics.IncOutcome(m.watcher.Name, string(res.Outcome))
	m.deps.Metrics.ObserveAttempt(m.watcher.Name, res.Duration)
	return res
}

// place archives a successful file or settles it in place.
func (m *Manager) place(c watcher.Candidate, res *Result) error {
	if !m.watcher.ArchiveEnabled() {
		m.settled.settle(c)
		return nil
	}
	dst, err := archiveFile(m.root, m.watcher.Pipeline.ArchiveDir, res.RelativePath, c.Path)
	if err != nil {
		return err
	}
	res.ArchivedTo = dst
	m.settled.archived(res.RelativePath)
	return nil
}

// fail schedules a retry or, when terminal or out of attempts, blocks the
// file until failures are reset.
func (m *Manager) fail(ctx context.Context, logger *slog.Logger, c watcher.Candidate, res Result, terminal bool) Result {
	limit := m.retryLimit()
	m.deps.Metrics.ObserveAttempt(m.watcher.Name, res.Duration)

	if !terminal && res.Attempt < limit {
		m.setFailures(res.RelativePath, res.Attempt)
		delay := m.watcher.RetryDelay()
		m.queue.push(c, m.now().Add(delay))
		m.deps.Metrics.IncRetry(m.watcher.Name)
		res.Outcome = OutcomeRetrying
		logging.WarnWithContext(logger, "attempt failed; retry scheduled", "file_retry",
			logging.String(logging.FieldErrorHint, errorHint(res.Err)),
			logging.String(logging.FieldImpact, "file will be retried"),
			logging.String("error_kind", services.Kind(res.Err)),
			logging.Int("remaining", limit-res.Attempt),
			logging.Duration("retry_in", delay),
			logging.Error(res.Err),
		)
		return res
	}

	m.setFailures(res.RelativePath, max(res.Attempt, limit))
	logging.ErrorWithContext(logger, "file failed", "file_failed",
		logging.String(logging.FieldErrorHint, errorHint(res.Err)),
		logging.String(logging.FieldImpact, "file left in place until failures are reset"),
		logging.String("error_kind", services.Kind(res.Err)),
		logging.Strings("steps", res.Steps),
		logging.Error(res.Err),
	)
	m.notify(ctx, logger, notifications.EventFileFailed, notifications.Payload{
		"watcher":  m.watcher.Name,
		"file":     res.RelativePath,
		"attempts": res.Attempt,
		"error":    errorText(res.Err),
	})
	m.record(ctx, logger, res)
	m.deps.Metrics.IncOutcome(m.watcher.Name, string(OutcomeFailed))
	return res
}

func (m *Manager) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if err := m.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.String(logging.FieldErrorHint, "check ntfy_topic and nats_url"),
			logging.String(logging.FieldImpact, "operator was not notified"),
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}

func (m *Manager) record(ctx context.Context, logger *slog.Logger, res Result) {
	if m.deps.History == nil {
		return
	}
	run := history.Run{
		Watcher:      m.watcher.Name,
		RelativePath: res.RelativePath,
		Outcome:      string(res.Outcome),
		Attempts:     res.Attempt,
		ErrorKind:    services.Kind(res.Err),
		ErrorMessage: errorText(res.Err),
		Fingerprint:  res.Fingerprint,
		RecordUUID:   res.RecordUUID,
		Steps:        res.Steps,
		StartedAt:    res.StartedAt,
		FinishedAt:   res.StartedAt.Add(res.Duration),
	}
	if _, err := m.deps.History.Record(context.WithoutCancel(ctx), run); err != nil {
		logging.WarnWithContext(logger, "failed to record history", "history_write_failed",
			logging.String(logging.FieldErrorHint, "check the state directory"),
			logging.String(logging.FieldImpact, "outcome missing from intake history"),
			logging.Error(err),
		)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func errorHint(err error) string {
	switch {
	case errors.Is(err, services.ErrInvalidPath):
		return "place files inside a collection folder"
	case errors.Is(err, services.ErrStabilityTimeout):
		return "file kept changing; raise stability_timeout_seconds if uploads are slow"
	case errors.Is(err, services.ErrFileGone):
		return "file was moved or deleted during processing"
	case errors.Is(err, services.ErrFingerprint):
		return "check file permissions"
	case errors.Is(err, services.ErrArchive):
		return "check the archive folder; the file was already imported"
	case errors.Is(err, services.ErrConfiguration):
		return "run intake config validate"
	default:
		return "check the step output above"
	}
}
