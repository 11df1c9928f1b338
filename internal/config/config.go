package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"intake/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state and storage locations.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	LibraryDir  string `toml:"library_dir"`
	MetricsBind string `toml:"metrics_bind"`
	// StatusToken, when set, is required as a bearer token on /api/* routes.
	StatusToken string `toml:"status_token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level         string `toml:"level"`
	Format        string `toml:"format"`
	Dir           string `toml:"dir"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications controls which outcomes reach the operator and over which
// transports (ntfy, NATS, or both).
type Notifications struct {
	Enabled        bool   `toml:"enabled"`
	OnError        bool   `toml:"on_error"`
	OnSuccess      bool   `toml:"on_success"`
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	NATSURL        string `toml:"nats_url"`
	NATSSubject    string `toml:"nats_subject"`
}

// Sink configures the bundled library store used by import steps.
type Sink struct {
	AutoCreateCollections bool   `toml:"auto_create_collections"`
	ProcessCommand        string `toml:"process_command"`
	ProcessTimeoutSeconds int    `toml:"process_timeout_seconds"`
}

// Watch describes discovery and stability settings for one watch root.
type Watch struct {
	BaseFolder              string   `toml:"base_folder"`
	FilePatterns            []string `toml:"file_patterns"`
	IgnorePatterns          []string `toml:"ignore_patterns"`
	StabilityCheckSeconds   float64  `toml:"stability_check_seconds"`
	StabilityTimeoutSeconds float64  `toml:"stability_timeout_seconds"`
	RescanIntervalSeconds   int      `toml:"rescan_interval_seconds"`
	MaxFilesPerCycle        int      `toml:"max_files_per_cycle"`
}

// Pipeline describes the ordered steps and retry policy for one watcher.
type Pipeline struct {
	RetryCount        int     `toml:"retry_count"`
	RetryDelaySeconds float64 `toml:"retry_delay_seconds"`
	Archive           *bool   `toml:"archive"`
	ArchiveDir        string  `toml:"archive_dir"`
	Steps             []Step  `toml:"steps"`
}

// StepKind identifies how a pipeline step is executed.
type StepKind string

const (
	StepScript  StepKind = "script"
	StepCommand StepKind = "command"
	StepImport  StepKind = "import"
)

// Step is one unit of work applied to a file.
type Step struct {
	Name           string            `toml:"name"`
	Kind           StepKind          `toml:"kind"`
	Run            string            `toml:"run"`
	Interpreter    string            `toml:"interpreter"`
	Args           []string          `toml:"args"`
	Options        map[string]string `toml:"options"`
	Cwd            string            `toml:"cwd"`
	Include        []string          `toml:"include"`
	Exclude        []string          `toml:"exclude"`
	Enabled        *bool             `toml:"enabled"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
}

// Watcher binds a watch root to its pipeline.
type Watcher struct {
	Name          string   `toml:"name"`
	Enabled       *bool    `toml:"enabled"`
	Dedup         bool     `toml:"dedup"`
	GlobalExclude []string `toml:"global_exclude"`
	Watch         Watch    `toml:"watch"`
	Pipeline      Pipeline `toml:"pipeline"`
}

// Config encapsulates all configuration values for intake.
//
// Configuration sections:
//   - Paths: state directory (lock, pid, history), library store, metrics bind
//   - Logging: level, format, directory, and retention
//   - Notifications: ntfy and NATS delivery plus error/success toggles
//   - Sink: library store behaviour for import steps
//   - Watchers: one entry per watch root, each with its own pipeline
type Config struct {
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	Sink          Sink          `toml:"sink"`
	Watchers      []Watcher     `toml:"watchers"`

	dir string
}

// IsEnabled reports whether the watcher should run. Unset means enabled.
func (w Watcher) IsEnabled() bool { return w.Enabled == nil || *w.Enabled }

// ArchiveEnabled reports whether successful sources move to the archive folder.
func (w Watcher) ArchiveEnabled() bool { return w.Pipeline.Archive == nil || *w.Pipeline.Archive }

// GlobalExcludes returns the configured global exclude globs plus the archive
// folder, which is never reprocessed.
func (w Watcher) GlobalExcludes() []string {
	archive := strings.TrimSpace(w.Pipeline.ArchiveDir)
	if archive == "" {
		archive = DefaultArchiveDir
	}
	out := make([]string, 0, len(w.GlobalExclude)+1)
	out = append(out, w.GlobalExclude...)
	return append(out, archive+"/*")
}

func (w Watcher) StabilityInterval() time.Duration {
	return secondsToDuration(w.Watch.StabilityCheckSeconds)
}

func (w Watcher) StabilityTimeout() time.Duration {
	return secondsToDuration(w.Watch.StabilityTimeoutSeconds)
}

func (w Watcher) RetryDelay() time.Duration {
	return secondsToDuration(w.Pipeline.RetryDelaySeconds)
}

func (w Watcher) RescanInterval() time.Duration {
	return time.Duration(w.Watch.RescanIntervalSeconds) * time.Second
}

// HasImportStep reports whether any enabled step is the designated import step.
func (w Watcher) HasImportStep() bool {
	for _, step := range w.Pipeline.Steps {
		if step.Kind == StepImport && step.IsEnabled() {
			return true
		}
	}
	return false
}

// IsEnabled reports whether the step participates in runs. Unset means enabled.
func (s Step) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

func (s Step) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return defaultStepTimeoutSeconds * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// EnabledWatchers returns the watchers that should run, in declaration order.
func (c *Config) EnabledWatchers() []Watcher {
	out := make([]Watcher, 0, len(c.Watchers))
	for _, w := range c.Watchers {
		if w.IsEnabled() {
			out = append(out, w)
		}
	}
	return out
}

// Watcher returns the named watcher.
func (c *Config) Watcher(name string) (Watcher, bool) {
	for _, w := range c.Watchers {
		if w.Name == name {
			return w, true
		}
	}
	return Watcher{}, false
}

// LockPath is the single-instance lock file.
func (c *Config) LockPath() string { return filepath.Join(c.Paths.StateDir, "intake.lock") }

// PIDPath is written while the daemon runs in the foreground.
func (c *Config) PIDPath() string { return filepath.Join(c.Paths.StateDir, "intake.pid") }

// HistoryPath is the run history database.
func (c *Config) HistoryPath() string { return filepath.Join(c.Paths.StateDir, "history.db") }

// SinkPath is the library store database.
func (c *Config) SinkPath() string { return filepath.Join(c.Paths.LibraryDir, "library.db") }

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/intake/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. A .env file next to the
// configuration is loaded first so ${VAR} references can resolve against it.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	cfg.dir = filepath.Dir(resolvedPath)

	if exists {
		if err := loadDotEnv(filepath.Join(cfg.dir, ".env")); err != nil {
			return nil, "", false, err
		}
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "parse", resolvedPath, err)
		}
	} else if wd, err := os.Getwd(); err == nil {
		cfg.dir = wd
	}

	if len(cfg.Watchers) == 0 {
		cfg.Watchers = []Watcher{DefaultWatcher()}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "normalize", "", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "validate", "", err)
	}

	return &cfg, resolvedPath, exists, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("intake.toml")
	if err != nil {
		return "", false, err
	}

	for _, candidate := range []string{defaultPath, projectPath} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the state, log, and library directories. Watch
// roots are created by the daemon so a missing mount only disables its watcher.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LibraryDir, c.Logging.Dir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// expandPath resolves ${VAR}, $VAR, and a leading ~ before cleaning the path
// into an absolute form.
func expandPath(pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return pathValue, nil
	}
	pathValue = os.ExpandEnv(pathValue)
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if pathValue[1] == '/' || pathValue[1] == '\\' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
