package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeSink()
	for i := range c.Watchers {
		if err := c.normalizeWatcher(&c.Watchers[i]); err != nil {
			return fmt.Errorf("watchers[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	c.Paths.MetricsBind = strings.TrimSpace(c.Paths.MetricsBind)
	if c.Paths.MetricsBind == "" {
		if value, ok := os.LookupEnv("INTAKE_METRICS_BIND"); ok {
			c.Paths.MetricsBind = strings.TrimSpace(value)
		}
	}
	c.Paths.StatusToken = strings.TrimSpace(c.Paths.StatusToken)
	if c.Paths.StatusToken == "" {
		if value, ok := os.LookupEnv("INTAKE_STATUS_TOKEN"); ok {
			c.Paths.StatusToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeLogging() error {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if value, ok := os.LookupEnv("INTAKE_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = strings.ToLower(strings.TrimSpace(value))
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	var err error
	if c.Logging.Dir, err = expandPath(c.Logging.Dir); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("INTAKE_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	c.Notifications.NATSURL = strings.TrimSpace(c.Notifications.NATSURL)
	if c.Notifications.NATSURL == "" {
		if value, ok := os.LookupEnv("INTAKE_NATS_URL"); ok {
			c.Notifications.NATSURL = strings.TrimSpace(value)
		}
	}
	c.Notifications.NATSSubject = strings.TrimSpace(c.Notifications.NATSSubject)
	if c.Notifications.NATSSubject == "" {
		c.Notifications.NATSSubject = defaultNATSSubject
	}
	if c.Notifications.RequestTimeout == 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeSink() {
	c.Sink.ProcessCommand = strings.TrimSpace(c.Sink.ProcessCommand)
	if c.Sink.ProcessTimeoutSeconds == 0 {
		c.Sink.ProcessTimeoutSeconds = defaultProcessTimeoutSeconds
	}
}

func (c *Config) normalizeWatcher(w *Watcher) error {
	w.Name = strings.TrimSpace(w.Name)

	var err error
	if w.Watch.BaseFolder, err = expandPath(w.Watch.BaseFolder); err != nil {
		return fmt.Errorf("watch.base_folder: %w", err)
	}
	if w.Watch.FilePatterns == nil {
		w.Watch.FilePatterns = append([]string(nil), defaultFilePatterns...)
	}
	if w.Watch.IgnorePatterns == nil {
		w.Watch.IgnorePatterns = append([]string(nil), defaultIgnorePatterns...)
	}
	if w.Watch.StabilityCheckSeconds == 0 {
		w.Watch.StabilityCheckSeconds = defaultStabilityCheckSeconds
	}
	if w.Watch.StabilityTimeoutSeconds == 0 {
		w.Watch.StabilityTimeoutSeconds = defaultStabilityTimeoutSeconds
	}
	if w.Watch.RescanIntervalSeconds == 0 {
		w.Watch.RescanIntervalSeconds = defaultRescanIntervalSeconds
	}
	if w.Watch.MaxFilesPerCycle == 0 {
		w.Watch.MaxFilesPerCycle = defaultMaxFilesPerCycle
	}

	if w.Pipeline.RetryCount == 0 {
		w.Pipeline.RetryCount = defaultRetryCount
	}
	if w.Pipeline.RetryDelaySeconds == 0 {
		w.Pipeline.RetryDelaySeconds = defaultRetryDelaySeconds
	}
	w.Pipeline.ArchiveDir = strings.Trim(strings.TrimSpace(w.Pipeline.ArchiveDir), "/")
	if w.Pipeline.ArchiveDir == "" {
		w.Pipeline.ArchiveDir = DefaultArchiveDir
	}

	for i := range w.Pipeline.Steps {
		if err := c.normalizeStep(&w.Pipeline.Steps[i]); err != nil {
			return fmt.Errorf("pipeline.steps[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *Config) normalizeStep(s *Step) error {
	s.Name = strings.TrimSpace(s.Name)
	s.Kind = StepKind(strings.ToLower(strings.TrimSpace(string(s.Kind))))
	if s.Kind == "" {
		s.Kind = StepCommand
	}
	s.Run = strings.TrimSpace(s.Run)
	s.Interpreter = strings.TrimSpace(s.Interpreter)

	if s.Kind == StepScript && s.Run != "" {
		run := os.ExpandEnv(s.Run)
		if !strings.HasPrefix(run, "~") && !filepath.IsAbs(run) && c.dir != "" {
			run = filepath.Join(c.dir, run)
		}
		expanded, err := expandPath(run)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		s.Run = expanded
	}

	// A cwd containing {placeholders} is resolved per file by the executor.
	if cwd := strings.TrimSpace(s.Cwd); cwd != "" && !strings.Contains(cwd, "{") {
		expanded, err := expandPath(cwd)
		if err != nil {
			return fmt.Errorf("cwd: %w", err)
		}
		s.Cwd = expanded
	}
	return nil
}
