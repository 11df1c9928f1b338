package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type cliEnv struct {
	base       string
	configPath string
	root       string
	stateDir   string
}

func setupCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	base := t.TempDir()
	home := filepath.Join(base, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("INTAKE_LOG_LEVEL", "")

	env := &cliEnv{
		base:       base,
		configPath: filepath.Join(base, "intake.toml"),
		root:       filepath.Join(base, "inbox"),
		stateDir:   filepath.Join(base, "state"),
	}
	if err := os.MkdirAll(env.root, 0o755); err != nil {
		t.Fatalf("mkdir root: %v", err)
	}
	writeTestConfig(t, env)
	return env
}

func writeTestConfig(t *testing.T, env *cliEnv) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
state_dir = %q
library_dir = %q

[logging]
level = "error"
format = "json"
dir = %q

[notifications]
enabled = false

[[watchers]]
name = "documents"
dedup = true
global_exclude = ["*/Staging/*"]

  [watchers.watch]
  base_folder = %q
  file_patterns = ["*.pdf"]
  stability_check_seconds = 0.02
  stability_timeout_seconds = 2

  [watchers.pipeline]
  retry_count = 1
  retry_delay_seconds = 0.01

  [[watchers.pipeline.steps]]
  name = "import"
  kind = "import"

  [[watchers.pipeline.steps]]
  name = "tag"
  kind = "command"
  run = "true"
  include = ["BUSI*/*"]
`,
		env.stateDir,
		filepath.Join(env.base, "library"),
		filepath.Join(env.base, "logs"),
		env.root,
	)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeInboxFile(t *testing.T, env *cliEnv, rel, content string) string {
	t.Helper()
	path := filepath.Join(env.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected output to contain %q, got:\n%s", substr, output)
	}
}
