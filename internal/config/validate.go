package config

import (
	"errors"
	"fmt"
	"strings"

	"intake/internal/filter"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if c.Sink.ProcessTimeoutSeconds < 0 {
		return errors.New("sink.process_timeout_seconds must be positive")
	}
	return c.validateWatchers()
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "critical":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Notifications.NATSURL != "" && strings.ContainsAny(c.Notifications.NATSSubject, " \t*>") {
		return fmt.Errorf("notifications.nats_subject %q must be a literal subject", c.Notifications.NATSSubject)
	}
	return nil
}

func (c *Config) validateWatchers() error {
	if len(c.EnabledWatchers()) == 0 {
		return errors.New("at least one enabled watcher is required")
	}
	seen := make(map[string]struct{}, len(c.Watchers))
	for i, w := range c.Watchers {
		if w.Name == "" {
			return fmt.Errorf("watchers[%d].name must be set", i)
		}
		if _, dup := seen[w.Name]; dup {
			return fmt.Errorf("watchers[%d].name %q is duplicated", i, w.Name)
		}
		seen[w.Name] = struct{}{}
		if err := validateWatcher(w); err != nil {
			return fmt.Errorf("watcher %q: %w", w.Name, err)
		}
	}
	return nil
}

func validateWatcher(w Watcher) error {
	if w.Watch.BaseFolder == "" {
		return errors.New("watch.base_folder must be set")
	}
	if w.Watch.StabilityCheckSeconds <= 0 {
		return errors.New("watch.stability_check_seconds must be positive")
	}
	if w.Watch.StabilityTimeoutSeconds < w.Watch.StabilityCheckSeconds {
		return errors.New("watch.stability_timeout_seconds must be at least stability_check_seconds")
	}
	if w.Watch.MaxFilesPerCycle < 1 {
		return errors.New("watch.max_files_per_cycle must be at least 1")
	}
	if len(w.Watch.FilePatterns) == 0 {
		return errors.New("watch.file_patterns must include at least one pattern")
	}
	if _, err := filter.CompilePatterns(lower(w.Watch.FilePatterns)); err != nil {
		return fmt.Errorf("watch.file_patterns: %w", err)
	}
	if _, err := filter.CompilePatterns(lower(w.Watch.IgnorePatterns)); err != nil {
		return fmt.Errorf("watch.ignore_patterns: %w", err)
	}
	if _, err := filter.CompilePatterns(w.GlobalExcludes()); err != nil {
		return fmt.Errorf("global_exclude: %w", err)
	}
	if w.Pipeline.RetryCount < 1 {
		return errors.New("pipeline.retry_count must be at least 1")
	}
	if w.Pipeline.RetryDelaySeconds < 0 {
		return errors.New("pipeline.retry_delay_seconds must be zero or positive")
	}
	if strings.Contains(w.Pipeline.ArchiveDir, "..") {
		return fmt.Errorf("pipeline.archive_dir %q must stay inside the watch root", w.Pipeline.ArchiveDir)
	}
	return validateSteps(w.Pipeline.Steps)
}

func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return errors.New("pipeline.steps must include at least one step")
	}
	names := make(map[string]struct{}, len(steps))
	imports := 0
	for i, s := range steps {
		if s.Name == "" {
			return fmt.Errorf("pipeline.steps[%d].name must be set", i)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("pipeline.steps[%d].name %q is duplicated", i, s.Name)
		}
		names[s.Name] = struct{}{}
		switch s.Kind {
		case StepScript, StepCommand:
			if s.Run == "" {
				return fmt.Errorf("step %q: run must be set for %s steps", s.Name, s.Kind)
			}
		case StepImport:
			imports++
		default:
			return fmt.Errorf("step %q: unsupported kind %q", s.Name, s.Kind)
		}
		if s.TimeoutSeconds < 0 {
			return fmt.Errorf("step %q: timeout_seconds must be positive", s.Name)
		}
		if _, err := filter.Compile(filter.Rule{Include: s.Include, Exclude: s.Exclude}); err != nil {
			return fmt.Errorf("step %q: %w", s.Name, err)
		}
	}
	if imports > 1 {
		return errors.New("pipeline.steps may contain at most one import step")
	}
	return nil
}

func lower(patterns []string) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = strings.ToLower(p)
	}
	return out
}
