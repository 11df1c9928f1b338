package logging

import (
	"context"
	"log/slog"

	"intake/internal/services"
)

const (
	// FieldComponent is the structured logging key for component names.
	FieldComponent = "component"
	// FieldWatcher is the structured logging key for watcher names.
	FieldWatcher = "watcher"
	// FieldFile is the structured logging key for paths relative to a watch root.
	FieldFile = "file"
	// FieldAttempt is the structured logging key for 1-based attempt numbers.
	FieldAttempt = "attempt"
	// FieldStep is the structured logging key for pipeline step names.
	FieldStep = "step"
	// FieldOutcome is the structured logging key for per-file terminal states.
	FieldOutcome = "outcome"
	// FieldCorrelationID is the structured logging key for attempt correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldAlert flags warnings or anomalies that should stand out.
	FieldAlert = "alert"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested next step for an operator.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if name, ok := services.WatcherFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWatcher, name))
	}
	if rel, ok := services.FileFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldFile, rel))
	}
	if attempt, ok := services.AttemptFromContext(ctx); ok {
		fields = append(fields, slog.Int(FieldAttempt, attempt))
	}
	if step, ok := services.StepFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStep, step))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
