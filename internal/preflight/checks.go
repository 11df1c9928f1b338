package preflight

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"intake/internal/config"
	"intake/internal/executor"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckWatchRoot is CheckDirectoryAccess, except that a missing root passes
// with a note because the daemon creates it on start.
func CheckWatchRoot(name, path string) Result {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (created on start)", path)}
	}
	return CheckDirectoryAccess(name, path)
}

// CheckSteps checks the program behind every enabled script and command
// step of w. Import steps need nothing external and are skipped.
func CheckSteps(w config.Watcher) []Result {
	var results []Result
	for _, step := range w.Pipeline.Steps {
		if !step.IsEnabled() || step.Kind == config.StepImport {
			continue
		}
		results = append(results, CheckProgram(fmt.Sprintf("Step %s/%s", w.Name, step.Name), step))
		if step.Kind == config.StepScript {
			results = append(results, checkScriptFile(fmt.Sprintf("Step %s/%s script", w.Name, step.Name), step.Run))
		}
	}
	return results
}

// CheckProgram resolves the executable a step launches on PATH.
func CheckProgram(name string, step config.Step) Result {
	program, err := executor.Program(step)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if strings.Contains(program, "{") {
		return Result{Name: name, Passed: true, Optional: true, Detail: fmt.Sprintf("%s (templated; resolved per file)", program)}
	}
	path, err := exec.LookPath(program)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("binary %q not found", program)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

func checkScriptFile(name, script string) Result {
	info, err := os.Stat(script)
	switch {
	case err != nil:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", script, err)}
	case info.IsDir():
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", script)}
	default:
		return Result{Name: name, Passed: true, Detail: script}
	}
}
