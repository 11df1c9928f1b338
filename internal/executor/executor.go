// Package executor runs script and command pipeline steps as subprocesses.
//
// Every argument is templated with {name} placeholders before launch. Children
// run in their own process group so a timeout or shutdown kills any
// grandchildren they spawned.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/shlex"
	"golang.org/x/sys/unix"

	"intake/internal/config"
	"intake/internal/logging"
	"intake/internal/services"
)

const killWaitDelay = 5 * time.Second

// Environment variables that would leak the parent's Python environment into
// steps that manage their own.
var strippedEnv = []string{"VIRTUAL_ENV", "PYTHONPATH", "PYTHONHOME", "CONDA_PREFIX"}

// Result captures a finished subprocess.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Executor launches step subprocesses.
type Executor struct {
	logger *slog.Logger
}

// New constructs an executor.
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{logger: logging.NewComponentLogger(logger, "executor")}
}

// Run executes a script or command step with vars substituted.
func (e *Executor) Run(ctx context.Context, step config.Step, vars Variables) (Result, error) {
	dir, err := e.workingDir(step.Cwd, vars)
	if err != nil {
		return Result{}, err
	}

	var argv []string
	switch step.Kind {
	case config.StepCommand:
		argv, err = buildCommand(step, vars)
	case config.StepScript:
		argv, err = buildScript(step, vars)
	default:
		return Result{}, services.Wrap(services.ErrStepExecution, "executor", "build",
			fmt.Sprintf("step kind %q cannot be executed as a subprocess", step.Kind), nil)
	}
	if err != nil {
		return Result{}, err
	}
	return e.execute(ctx, argv, dir, step.Timeout())
}

// RunCommand splits and runs a single command template. It backs the library
// sink's process hook.
func (e *Executor) RunCommand(ctx context.Context, template string, vars map[string]string, dir string, timeout time.Duration) (Result, error) {
	argv, err := splitTemplate(template, Variables(vars))
	if err != nil {
		return Result{}, err
	}
	return e.execute(ctx, argv, dir, timeout)
}

func (e *Executor) workingDir(cwd string, vars Variables) (string, error) {
	if strings.TrimSpace(cwd) == "" {
		return "", nil
	}
	dir, err := render(cwd, vars)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", services.Wrap(services.ErrStepExecution, "executor", "cwd",
			fmt.Sprintf("working directory does not exist: %s", dir), nil)
	}
	return dir, nil
}

func splitTemplate(template string, vars Variables) ([]string, error) {
	parts, err := shlex.Split(template)
	if err != nil {
		return nil, services.Wrap(services.ErrStepExecution, "executor", "parse",
			"failed to parse command", err)
	}
	if len(parts) == 0 {
		return nil, services.Wrap(services.ErrStepExecution, "executor", "parse",
			"command is empty", nil)
	}
	return renderAll(parts, vars)
}

func buildCommand(step config.Step, vars Variables) ([]string, error) {
	argv, err := splitTemplate(step.Run, vars)
	if err != nil {
		return nil, err
	}
	extra, err := stepArguments(step, vars)
	if err != nil {
		return nil, err
	}
	return append(argv, extra...), nil
}

func buildScript(step config.Step, vars Variables) ([]string, error) {
	script := step.Run
	if info, err := os.Stat(script); err != nil || info.IsDir() {
		return nil, services.Wrap(services.ErrStepExecution, "executor", "script",
			fmt.Sprintf("script not found: %s", script), nil)
	}

	var argv []string
	if step.Interpreter != "" {
		interp, err := shlex.Split(step.Interpreter)
		if err != nil {
			return nil, services.Wrap(services.ErrStepExecution, "executor", "parse",
				"failed to parse interpreter", err)
		}
		argv = append(argv, interp...)
	} else if interp := interpreterFor(script); interp != "" {
		argv = append(argv, interp)
	}
	argv = append(argv, script)

	extra, err := stepArguments(step, vars)
	if err != nil {
		return nil, err
	}
	return append(argv, extra...), nil
}

func interpreterFor(script string) string {
	switch strings.ToLower(filepath.Ext(script)) {
	case ".py":
		return "python3"
	case ".sh":
		return "sh"
	case ".applescript", ".scpt":
		return "osascript"
	default:
		return ""
	}
}

// stepArguments renders args in order followed by options as --key value
// pairs sorted by key.
func stepArguments(step config.Step, vars Variables) ([]string, error) {
	out, err := renderAll(step.Args, vars)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(step.Options))
	for key := range step.Options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value, err := render(step.Options[key], vars)
		if err != nil {
			return nil, err
		}
		out = append(out, "--"+key, value)
	}
	return out, nil
}

// render expands environment references and a leading ~ in the template
// text, then substitutes {name} variables. Variable values are inserted
// verbatim.
func render(template string, vars Variables) (string, error) {
	return Substitute(expandWith(template, escapeBraces), vars)
}

func renderAll(templates []string, vars Variables) ([]string, error) {
	out := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		value, err := render(tmpl, vars)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

func expandPart(part string) string {
	return expandWith(part, func(v string) string { return v })
}

// expandWith applies ${VAR} and ~ expansion, passing every inserted value
// through quote.
func expandWith(part string, quote func(string) string) string {
	if strings.Contains(part, "${") {
		part = os.Expand(part, func(key string) string { return quote(os.Getenv(key)) })
	}
	if part == "~" || strings.HasPrefix(part, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			part = quote(home) + strings.TrimPrefix(part, "~")
		}
	}
	return part
}

var braceEscaper = strings.NewReplacer("{", "{{", "}", "}}")

func escapeBraces(v string) string { return braceEscaper.Replace(v) }

func childEnv() []string {
	env := os.Environ()
	out := env[:0]
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		stripped := false
		for _, s := range strippedEnv {
			if name == s {
				stripped = true
				break
			}
		}
		if !stripped {
			out = append(out, kv)
		}
	}
	return out
}

func (e *Executor) execute(ctx context.Context, argv []string, dir string, timeout time.Duration) (Result, error) {
	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...) //nolint:gosec
	cmd.Dir = dir
	cmd.Env = childEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = killWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("launching step process",
		logging.Strings("args", argv),
		logging.String("working_dir", dir),
		logging.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if runErr == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return result, services.Wrap(services.ErrStepExecution, "executor", "timeout",
			fmt.Sprintf("timeout after %d seconds", int(timeout.Seconds())), nil)
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		msg := strings.TrimSpace(result.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", result.ExitCode)
		}
		return result, services.Wrap(services.ErrStepExecution, "executor", "exit", msg, nil)
	}
	return result, services.Wrap(services.ErrStepExecution, "executor", "start",
		fmt.Sprintf("launch %s", argv[0]), runErr)
}

// Program returns the executable a step launches first: the command's
// leading word, a script's interpreter, or the script itself when no
// interpreter applies. Placeholders in the leading word are left as-is.
func Program(step config.Step) (string, error) {
	switch step.Kind {
	case config.StepCommand:
		parts, err := shlex.Split(step.Run)
		if err != nil {
			return "", fmt.Errorf("parse command: %w", err)
		}
		if len(parts) == 0 {
			return "", errors.New("command is empty")
		}
		return expandPart(parts[0]), nil
	case config.StepScript:
		if step.Interpreter != "" {
			parts, err := shlex.Split(step.Interpreter)
			if err != nil {
				return "", fmt.Errorf("parse interpreter: %w", err)
			}
			if len(parts) > 0 {
				return parts[0], nil
			}
		}
		if interp := interpreterFor(step.Run); interp != "" {
			return interp, nil
		}
		return step.Run, nil
	default:
		return "", nil
	}
}
