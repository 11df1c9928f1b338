package pipeline

import (
	"context"
	"time"

	"intake/internal/config"
	"intake/internal/executor"
	"intake/internal/history"
	"intake/internal/route"
	"intake/internal/sink"
)

// Outcome is the state an attempt ends in.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeReplicated Outcome = "replicated"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"

	// OutcomeRetrying means the attempt failed and another is scheduled.
	OutcomeRetrying Outcome = "retrying"
	// OutcomeAbandoned means shutdown interrupted the attempt; the file is
	// neither archived nor counted as failed.
	OutcomeAbandoned Outcome = "abandoned"
	// OutcomeBusy means another attempt already holds the relative path.
	OutcomeBusy Outcome = "busy"
	// OutcomeStale means the candidate was discovered before its file was
	// archived; nothing is left to process.
	OutcomeStale Outcome = "stale"
)

// Terminal reports whether the outcome ends processing for the file.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeSuccess, OutcomeReplicated, OutcomeSkipped, OutcomeFailed:
		return true
	default:
		return false
	}
}

// Result describes a single attempt.
type Result struct {
	Outcome        Outcome
	RelativePath   string
	Attempt        int
	Route          route.Descriptor
	Steps          []string
	Fingerprint    string
	RecordUUID     string
	AlreadyPresent bool
	ArchivedTo     string
	Reason         string
	Err            error
	StartedAt      time.Time
	Duration       time.Duration

	globalExclude bool
}

// Summary aggregates terminal outcomes across attempts.
type Summary struct {
	Succeeded  int
	Replicated int
	Skipped    int
	Failed     int
	Retries    int
	Abandoned  int
	FailedKeys []string
}

// Add folds one attempt result into the summary.
func (s *Summary) Add(r Result) {
	switch r.Outcome {
	case OutcomeSuccess:
		s.Succeeded++
	case OutcomeReplicated:
		s.Replicated++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
		s.FailedKeys = append(s.FailedKeys, r.RelativePath)
	case OutcomeRetrying:
		s.Retries++
	case OutcomeAbandoned:
		s.Abandoned++
	}
}

// Merge adds other's counts into s.
func (s *Summary) Merge(other Summary) {
	s.Succeeded += other.Succeeded
	s.Replicated += other.Replicated
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.Retries += other.Retries
	s.Abandoned += other.Abandoned
	s.FailedKeys = append(s.FailedKeys, other.FailedKeys...)
}

// Processed is the number of files that reached a terminal outcome.
func (s Summary) Processed() int {
	return s.Succeeded + s.Replicated + s.Skipped + s.Failed
}

// HasFailures reports whether any file failed terminally.
func (s Summary) HasFailures() bool { return s.Failed > 0 }

// Status is a point-in-time view of a manager.
type Status struct {
	Watcher    string
	Root       string
	Running    bool
	InProgress []string
	Pending    int
	Failures   map[string]int
	Blocked    []string
}

// Library is the destination store used by import steps. *sink.Store
// satisfies it.
type Library interface {
	ResolveCollection(ctx context.Context, name string) (sink.Collection, error)
	CreateCollection(ctx context.Context, name string) (sink.Collection, error)
	ResolveOrCreateLocation(ctx context.Context, coll sink.Collection, path string, inbox bool) (sink.Location, error)
	FindByFingerprint(ctx context.Context, fp string, coll sink.Collection) (*sink.Record, error)
	Replicate(ctx context.Context, rec sink.Record, loc sink.Location) (bool, error)
	ImportAndProcess(ctx context.Context, src string, loc sink.Location) (sink.Record, error)
	AttachFingerprint(ctx context.Context, rec sink.Record, fp string) error
}

// StepRunner executes script and command steps. *executor.Executor
// satisfies it.
type StepRunner interface {
	Run(ctx context.Context, step config.Step, vars executor.Variables) (executor.Result, error)
}

// HistoryRecorder persists terminal outcomes. *history.Store satisfies it.
type HistoryRecorder interface {
	Record(ctx context.Context, run history.Run) (int64, error)
}
