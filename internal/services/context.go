package services

import "context"

type contextKey string

const (
	watcherKey   contextKey = "watcher"
	fileKey      contextKey = "file"
	attemptKey   contextKey = "attempt"
	stepKey      contextKey = "step"
	requestIDKey contextKey = "request_id"
)

// WithWatcher annotates context with the watcher name.
func WithWatcher(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, watcherKey, name)
}

// WatcherFromContext returns the watcher name if present.
func WatcherFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(watcherKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithFile annotates context with the relative path of the file being processed.
func WithFile(ctx context.Context, rel string) context.Context {
	if rel == "" {
		return ctx
	}
	return context.WithValue(ctx, fileKey, rel)
}

// FileFromContext returns the relative file path if present.
func FileFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(fileKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithAttempt annotates context with the 1-based attempt number.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	if attempt <= 0 {
		return ctx
	}
	return context.WithValue(ctx, attemptKey, attempt)
}

// AttemptFromContext returns the attempt number if present.
func AttemptFromContext(ctx context.Context) (int, bool) {
	if v, ok := ctx.Value(attemptKey).(int); ok && v > 0 {
		return v, true
	}
	return 0, false
}

// WithStep annotates context with the pipeline step name.
func WithStep(ctx context.Context, step string) context.Context {
	if step == "" {
		return ctx
	}
	return context.WithValue(ctx, stepKey, step)
}

// StepFromContext returns the step name if present.
func StepFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stepKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
