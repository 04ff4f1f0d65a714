package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/stead/pkg/engine"
)

const fakeNixShell = `#!/bin/sh
while [ "$#" -gt 0 ]; do
  if [ "$1" = "--run" ]; then
    shift
    exec /bin/sh -c "$1"
  fi
  shift
done
exit 2
`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true

	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// newRoot initializes a working root whose dependency shell is a script that
// runs the joined commands with /bin/sh.
func newRoot(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("STEAD_SAFE_MODE", "")

	root := t.TempDir()
	shell := filepath.Join(t.TempDir(), "nix-shell")
	require.NoError(t, os.WriteFile(shell, []byte(fakeNixShell), 0o755))

	_, err := runCLI(t, "init", "--root", root)
	require.NoError(t, err)

	cfg := "nix_shell_path: " + shell + "\nunit_dir: " + filepath.Join(root, "units") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, engine.ConfigFileName), []byte(cfg), 0o644))
	return root
}

func writeDefinition(t *testing.T, root, file, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, engine.ProjectsDirName, file), []byte(content), 0o644))
}

func TestInit(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := t.TempDir()

	out, err := runCLI(t, "init", "--root", root, "--example")
	require.NoError(t, err)
	assert.Contains(t, out, "Created config file")
	assert.Contains(t, out, "Created example project")

	for _, dir := range []string{engine.ProjectsDirName, engine.ArtifactsDirName, engine.PoliciesDirName} {
		assert.DirExists(t, filepath.Join(root, dir))
	}
	assert.FileExists(t, filepath.Join(root, engine.ConfigFileName))
	assert.FileExists(t, filepath.Join(root, engine.HistoryFileName))

	out, err = runCLI(t, "init", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Kept existing config file")

	out, err = runCLI(t, "validate", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "1 project definition(s) valid")
}

func TestValidate_PolicyViolation(t *testing.T) {
	root := newRoot(t)
	writeDefinition(t, root, "web.toml", `name = "Web"
source = "none"
`)

	out, err := runCLI(t, "validate", "--root", root)
	require.Error(t, err)
	assert.True(t, engine.IsConfig(err))
	assert.Contains(t, out, "project-naming")
	assert.Contains(t, out, "web.toml")
}

func TestPlanAndDryRun(t *testing.T) {
	root := newRoot(t)
	writeDefinition(t, root, "web.toml", `name = "web"
source = { git = "https://example.com/web.git" }
deps = { nix = ["nodejs"] }

[phase]
setup = "npm ci"
start = "npm start"
`)

	out, err := runCLI(t, "plan", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "+ web")
	assert.Contains(t, out, "git clone https://example.com/web.git")
	assert.Contains(t, out, "[nodejs] npm ci")

	out, err = runCLI(t, "apply", "--root", root, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "would run setup web")
	assert.Contains(t, out, "Dry run:")
	assert.NoFileExists(t, filepath.Join(root, engine.StateFileName))
}

func TestApply_SafeMode(t *testing.T) {
	root := newRoot(t)
	writeDefinition(t, root, "web.yaml", `name: web
source: none
env:
  GREETING: hello
phase:
  setup: echo "$GREETING" > setup.txt
  build:
    - echo built > build.txt
  start: sleep 1
`)

	out, err := runCLI(t, "apply", "--root", root, "--safe-mode")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ setup web")
	assert.Contains(t, out, "Apply succeeded")

	source := filepath.Join(root, engine.ArtifactsDirName, "web", engine.SourceDirName)
	data, err := os.ReadFile(filepath.Join(source, "setup.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
	assert.FileExists(t, filepath.Join(source, "build.txt"))
	assert.FileExists(t, filepath.Join(root, "units", "stead-proj-web.service"))

	raw, err := os.ReadFile(filepath.Join(root, engine.StateFileName))
	require.NoError(t, err)
	var state struct {
		Projects map[string]*engine.Project `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(raw, &state))
	require.Contains(t, state.Projects, "web")
	assert.Equal(t, engine.OutcomeSucceeded, state.Projects["web"].Status.Outcome)

	out, err = runCLI(t, "apply", "--root", root, "--safe-mode")
	require.NoError(t, err)
	assert.Contains(t, out, "No changes")

	out, err = runCLI(t, "status", "--root", root, "--no-units")
	require.NoError(t, err)
	assert.Regexp(t, `web\s+in sync\s+succeeded`, out)

	out, err = runCLI(t, "history", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "apply")
	assert.Contains(t, out, "succeeded")

	out, err = runCLI(t, "clean", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed")
	assert.NoDirExists(t, filepath.Join(root, engine.ArtifactsDirName, "web"))
}

func TestApply_FailureIsContained(t *testing.T) {
	root := newRoot(t)
	writeDefinition(t, root, "bad.toml", `name = "bad"
source = "none"

[phase]
setup = "exit 3"
build = "echo never > build.txt"
`)
	writeDefinition(t, root, "good.toml", `name = "good"
source = "none"

[phase]
build = "echo ok > build.txt"
`)

	out, err := runCLI(t, "apply", "--root", root, "--safe-mode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 project(s) failed")
	assert.Contains(t, out, "✗ setup bad")
	assert.Contains(t, out, "Failed projects: bad")

	artifacts := filepath.Join(root, engine.ArtifactsDirName)
	assert.FileExists(t, filepath.Join(artifacts, "good", engine.SourceDirName, "build.txt"))
	assert.NoFileExists(t, filepath.Join(artifacts, "bad", engine.SourceDirName, "build.txt"))

	out, err = runCLI(t, "plan", "--root", root, "-p", "b*")
	require.NoError(t, err)
	assert.Contains(t, out, "↻ bad retry setup, build, start")
	assert.NotContains(t, out, "good")
}

func git(t *testing.T, bin, repo string, args ...string) {
	t.Helper()
	out, err := exec.Command(bin, append([]string{"-C", repo}, args...)...).CombinedOutput()
	require.NoError(t, err, string(out))
}

func TestApply_RetryRecoversGitProject(t *testing.T) {
	bin, err := exec.LookPath("git")
	if err != nil {
		t.Skip("git is not installed")
	}
	t.Setenv("GIT_AUTHOR_NAME", "stead")
	t.Setenv("GIT_AUTHOR_EMAIL", "stead@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "stead")
	t.Setenv("GIT_COMMITTER_EMAIL", "stead@example.com")

	upstream := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(upstream, "README"), []byte("v1\n"), 0o644))
	git(t, bin, upstream, "init", "-q")
	git(t, bin, upstream, "add", "README")
	git(t, bin, upstream, "-c", "commit.gpgsign=false", "commit", "-q", "-m", "v1")

	root := newRoot(t)
	// Local clone URLs are rejected by the source-location policy.
	cfg, err := os.OpenFile(filepath.Join(root, engine.ConfigFileName), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = cfg.WriteString("policy:\n  enabled: false\n")
	require.NoError(t, err)
	require.NoError(t, cfg.Close())

	ready := filepath.Join(t.TempDir(), "ready")
	writeDefinition(t, root, "web.toml", fmt.Sprintf(`name = "web"
source = { git = %q }

[phase]
setup = %q
`, upstream, "test -f "+ready))

	out, err := runCLI(t, "apply", "--root", root, "--safe-mode")
	require.Error(t, err)
	assert.Contains(t, out, "✗ setup web: test -f")

	source := filepath.Join(root, engine.ArtifactsDirName, "web", engine.SourceDirName)
	assert.FileExists(t, filepath.Join(source, "README"))

	require.NoError(t, os.WriteFile(ready, nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(upstream, "CHANGELOG"), []byte("v2\n"), 0o644))
	git(t, bin, upstream, "add", "CHANGELOG")
	git(t, bin, upstream, "-c", "commit.gpgsign=false", "commit", "-q", "-m", "v2")

	out, err = runCLI(t, "apply", "--root", root, "--safe-mode")
	require.NoError(t, err, out)
	assert.Contains(t, out, "↻ web retry setup")
	assert.Contains(t, out, "✓ setup web: git clone")
	assert.Contains(t, out, "Apply succeeded")
	assert.FileExists(t, filepath.Join(source, "CHANGELOG"))

	out, err = runCLI(t, "status", "--root", root, "--no-units")
	require.NoError(t, err)
	assert.Regexp(t, `web\s+in sync\s+succeeded`, out)
}

func TestRun_UndeclaredProject(t *testing.T) {
	root := newRoot(t)

	_, err := runCLI(t, "run", "--root", root, "missing")
	require.Error(t, err)
	assert.True(t, engine.IsConfig(err))
}
