package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPath      = errors.New("invalid path")
	ErrStabilityTimeout = errors.New("stability timeout")
	ErrFileGone         = errors.New("file gone")
	ErrFingerprint      = errors.New("fingerprint failure")
	ErrSinkLookup       = errors.New("sink lookup failure")
	ErrStepExecution    = errors.New("step execution failure")
	ErrConfiguration    = errors.New("configuration error")
	ErrNotFound         = errors.New("not found")
	ErrArchive          = errors.New("archive failure")
	ErrTransient        = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a failed attempt should be scheduled again.
// Invalid paths, configuration problems and archive failures are terminal on
// first sight; everything else is retried up to the watcher's limit.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidPath), errors.Is(err, ErrConfiguration), errors.Is(err, ErrArchive):
		return false
	default:
		return true
	}
}

// Kind returns a short classification label suitable for logs and history rows.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, ErrStabilityTimeout):
		return "stability_timeout"
	case errors.Is(err, ErrFileGone):
		return "file_gone"
	case errors.Is(err, ErrFingerprint):
		return "fingerprint"
	case errors.Is(err, ErrSinkLookup):
		return "sink_lookup"
	case errors.Is(err, ErrStepExecution):
		return "step_execution"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrArchive):
		return "archive"
	default:
		return "transient"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
