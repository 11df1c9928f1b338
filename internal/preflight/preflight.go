package preflight

import (
	"fmt"

	"intake/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Optional checks describe degraded behaviour rather than broken setup.
	Optional bool
}

// RunAll executes every applicable check for cfg: state, library and log
// directories, each enabled watch root, the programs behind enabled script
// and command steps, and the sink process command.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Library directory", cfg.Paths.LibraryDir),
	}
	if cfg.Logging.Dir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Logging.Dir))
	}

	for _, w := range cfg.EnabledWatchers() {
		results = append(results, CheckWatchRoot(fmt.Sprintf("Watcher %s root", w.Name), w.Watch.BaseFolder))
		results = append(results, CheckSteps(w)...)
	}

	if cfg.Sink.ProcessCommand != "" {
		results = append(results, CheckProgram("Sink process command", config.Step{
			Name: "process",
			Kind: config.StepCommand,
			Run:  cfg.Sink.ProcessCommand,
		}))
	}
	return results
}

// Failed returns the non-optional results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}
