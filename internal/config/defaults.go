package config

const (
	defaultStateDir                = "~/.local/share/intake"
	defaultLibraryDir              = "~/.local/share/intake/library"
	defaultLogDir                  = "~/.local/share/intake/logs"
	defaultLogRetentionDays        = 30
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultNotifyRequestTimeout    = 10
	defaultNATSSubject             = "intake.events"
	defaultProcessTimeoutSeconds   = 600
	defaultWatcherName             = "inbox"
	defaultBaseFolder              = "~/Intake"
	defaultStabilityCheckSeconds   = 1.0
	defaultStabilityTimeoutSeconds = 60.0
	defaultRescanIntervalSeconds   = 300
	defaultMaxFilesPerCycle        = 10
	defaultRetryCount              = 3
	defaultRetryDelaySeconds       = 5.0
	defaultStepTimeoutSeconds      = 300

	// DefaultArchiveDir is the folder, relative to a watch root, that receives
	// sources after a successful run.
	DefaultArchiveDir = "_Archived"
)

var (
	defaultFilePatterns   = []string{"*.pdf"}
	defaultIgnorePatterns = []string{"*.download", "*.crdownload", "*.tmp"}
)

// Default returns a Config populated with repository defaults. It carries no
// watchers; Load adds DefaultWatcher when the file declares none.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:   defaultStateDir,
			LibraryDir: defaultLibraryDir,
		},
		Logging: Logging{
			Level:         defaultLogLevel,
			Format:        defaultLogFormat,
			Dir:           defaultLogDir,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			Enabled:        true,
			OnError:        true,
			OnSuccess:      false,
			RequestTimeout: defaultNotifyRequestTimeout,
			NATSSubject:    defaultNATSSubject,
		},
		Sink: Sink{
			AutoCreateCollections: true,
			ProcessTimeoutSeconds: defaultProcessTimeoutSeconds,
		},
	}
}

// DefaultWatcher returns the single watcher used when the configuration file
// declares none: ~/Intake feeding the built-in import step.
func DefaultWatcher() Watcher {
	return Watcher{
		Name: defaultWatcherName,
		Watch: Watch{
			BaseFolder: defaultBaseFolder,
		},
		Pipeline: Pipeline{
			Steps: []Step{{Name: "import", Kind: StepImport}},
		},
	}
}
