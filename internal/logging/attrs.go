package logging

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

// Attr aliases slog.Attr so callers only import this package.
type Attr = slog.Attr

func String(key, value string) Attr { return slog.String(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

// Strings records a list such as step names or patterns.
func Strings(key string, values []string) Attr { return slog.Any(key, values) }

// Error records err under "error". A nil error is logged as "<nil>" so the
// key is never silently dropped.
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Args spreads attrs into slog's variadic argument form.
func Args(attrs ...Attr) []any {
	out := make([]any, len(attrs))
	for i := range attrs {
		out[i] = attrs[i]
	}
	return out
}

// NewNop returns a logger that drops every record.
func NewNop() *slog.Logger { return slog.New(NoopHandler{}) }

// NewComponentLogger tags logger with component. A nil logger yields a no-op
// logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return NewNop().With(String(FieldComponent, component))
	}
	return logger.With(String(FieldComponent, component))
}

// Trace emits msg at LevelTrace.
func Trace(logger *slog.Logger, msg string, attrs ...Attr) {
	if logger != nil {
		logger.LogAttrs(context.Background(), LevelTrace, msg, attrs...)
	}
}

const defaultHint = "check the intake log for details"

// WarnWithContext emits an operator-facing warning. event_type, error_hint and
// impact are filled in when the caller did not supply them.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	emitClassified(logger, slog.LevelWarn, msg, eventType, "processing continues", attrs)
}

// ErrorWithContext is WarnWithContext at error level. No impact is implied.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	emitClassified(logger, slog.LevelError, msg, eventType, "", attrs)
}

func emitClassified(logger *slog.Logger, level slog.Level, msg, eventType, impact string, attrs []Attr) {
	if logger == nil {
		return
	}
	defaults := []Attr{String(FieldEventType, eventType), String(FieldErrorHint, defaultHint)}
	if impact != "" {
		defaults = append(defaults, String(FieldImpact, impact))
	}
	for _, d := range defaults {
		if !slices.ContainsFunc(attrs, func(a Attr) bool { return a.Key == d.Key }) {
			attrs = append(attrs, d)
		}
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// NoopHandler discards everything.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }
func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h NoopHandler) WithGroup(string) slog.Handler { return h }
