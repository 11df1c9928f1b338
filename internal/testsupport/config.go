package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"intake/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It carries one watcher named "documents" whose root exists, with fast
// stability polling, a short retry delay and a single import step.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LibraryDir = filepath.Join(base, "library")
	cfgVal.Logging.Dir = filepath.Join(base, "logs")

	archive := true
	cfgVal.Watchers = []config.Watcher{{
		Name: "documents",
		Watch: config.Watch{
			BaseFolder:              filepath.Join(base, "inbox"),
			FilePatterns:            []string{"*.pdf"},
			IgnorePatterns:          []string{"*.download", "*.tmp"},
			StabilityCheckSeconds:   0.02,
			StabilityTimeoutSeconds: 1,
			RescanIntervalSeconds:   300,
			MaxFilesPerCycle:        10,
		},
		Pipeline: config.Pipeline{
			RetryCount:        3,
			RetryDelaySeconds: 0.01,
			Archive:           &archive,
			ArchiveDir:        config.DefaultArchiveDir,
			Steps:             []config.Step{{Name: "import", Kind: config.StepImport}},
		},
	}}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}

	for _, w := range builder.cfg.Watchers {
		if err := os.MkdirAll(w.Watch.BaseFolder, 0o755); err != nil {
			t.Fatalf("mkdir watch root: %v", err)
		}
	}
	return builder.cfg
}

// WithWatcher applies fn to the first watcher.
func WithWatcher(fn func(w *config.Watcher)) ConfigOption {
	return func(b *configBuilder) {
		fn(&b.cfg.Watchers[0])
	}
}

// WithSteps replaces the first watcher's steps.
func WithSteps(steps ...config.Step) ConfigOption {
	return WithWatcher(func(w *config.Watcher) {
		w.Pipeline.Steps = steps
	})
}

// WithArchive toggles archiving for the first watcher.
func WithArchive(enabled bool) ConfigOption {
	return WithWatcher(func(w *config.Watcher) {
		w.Pipeline.Archive = &enabled
	})
}

// WithDedup toggles fingerprint deduplication for the first watcher.
func WithDedup(enabled bool) ConfigOption {
	return WithWatcher(func(w *config.Watcher) {
		w.Dedup = enabled
	})
}

// WithSecondWatcher adds another watcher rooted next to the first.
func WithSecondWatcher(name string) ConfigOption {
	return func(b *configBuilder) {
		w := b.cfg.Watchers[0]
		w.Name = name
		w.Watch.BaseFolder = filepath.Join(b.baseDir, name)
		b.cfg.Watchers = append(b.cfg.Watchers, w)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// WatchRoot returns the first watcher's base folder.
func WatchRoot(cfg *config.Config) string {
	return cfg.Watchers[0].Watch.BaseFolder
}
