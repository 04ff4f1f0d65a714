package handlers

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/stead/pkg/engine"
)

// fakeNixShell writes a stand-in for nix-shell that records its -p deps and
// runs the --run argument with /bin/sh.
const fakeNixShell = `#!/bin/sh
deps=""
while [ $# -gt 0 ]; do
	case "$1" in
	-p) shift; while [ $# -gt 0 ] && [ "$1" != "--run" ]; do deps="$deps $1"; shift; done ;;
	--run) shift; script="$1"; shift ;;
	*) shift ;;
	esac
done
echo "deps:$deps" >> "$FAKE_NIX_LOG"
exec /bin/sh -c "$script"
`

func newTestRunner(t *testing.T) (*NixRunner, string) {
	t.Helper()
	dir := t.TempDir()
	shell := filepath.Join(dir, "nix-shell")
	require.NoError(t, os.WriteFile(shell, []byte(fakeNixShell), 0o755))

	logPath := filepath.Join(dir, "nix.log")
	t.Setenv("FAKE_NIX_LOG", logPath)

	return NewNixRunner(shell, zerolog.Nop()), logPath
}

func TestShellArgs(t *testing.T) {
	args := ShellArgs([]string{"nodejs", "yarn"}, []string{"yarn install", "yarn build"})
	assert.Equal(t, []string{"-p", "nodejs", "yarn", "--run", "yarn install && yarn build"}, args)

	assert.Equal(t, []string{"-p", "--run", "true"}, ShellArgs(nil, []string{"true"}))
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"plain", "'plain'"},
		{"/tmp/with space.zip", "'/tmp/with space.zip'"},
		{"it's", `'it'\''s'`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShellQuote(tt.in))
	}
}

func TestNixRunner_Shell(t *testing.T) {
	runner, logPath := newTestRunner(t)
	workDir := t.TempDir()

	result, err := runner.Shell(context.Background(), engine.ShellRequest{
		Dir:      workDir,
		Deps:     []string{"nodejs"},
		Commands: []string{"echo $GREETING", "pwd"},
		Env:      map[string]string{"GREETING": "hello"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success())

	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "hello", lines[0])

	resolved, err := filepath.EvalSymlinks(workDir)
	require.NoError(t, err)
	assert.Equal(t, resolved, lines[1])

	log, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "deps: nodejs\n", string(log))
}

func TestNixRunner_ShellNonZeroExit(t *testing.T) {
	runner, _ := newTestRunner(t)

	result, err := runner.Shell(context.Background(), engine.ShellRequest{
		Dir:      t.TempDir(),
		Commands: []string{"echo broken >&2; exit 3", "echo unreachable"},
	})
	require.NoError(t, err)
	assert.False(t, result.Success())
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "broken\n", result.Stderr)
	assert.Empty(t, result.Stdout)
}

func TestNixRunner_ShellSpawnFailure(t *testing.T) {
	runner := NewNixRunner(filepath.Join(t.TempDir(), "missing-nix-shell"), zerolog.Nop())

	_, err := runner.Shell(context.Background(), engine.ShellRequest{Commands: []string{"true"}})
	assert.Error(t, err)
}

func TestNixRunner_ShellRequiresCommands(t *testing.T) {
	runner, _ := newTestRunner(t)

	_, err := runner.Shell(context.Background(), engine.ShellRequest{})
	assert.Error(t, err)
}

func TestNixRunner_ShellInteractive(t *testing.T) {
	runner, _ := newTestRunner(t)
	var out strings.Builder
	runner.Stdout = &out
	runner.Stdin = strings.NewReader("")

	result, err := runner.Shell(context.Background(), engine.ShellRequest{
		Dir:         t.TempDir(),
		Commands:    []string{"echo attached"},
		Interactive: true,
	})
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Empty(t, result.Stdout)
	assert.Equal(t, "attached\n", out.String())
}

func TestNixRunner_UnzipUsesUnzipDep(t *testing.T) {
	runner, logPath := newTestRunner(t)

	// unzip is unlikely to accept a missing archive; only the wiring is checked.
	_, err := runner.Unzip(context.Background(), filepath.Join(t.TempDir(), "missing.zip"), t.TempDir())
	require.NoError(t, err)

	log, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "deps: unzip\n", string(log))
}

func TestNixRunner_GitCloneFailure(t *testing.T) {
	dir := t.TempDir()
	git := filepath.Join(dir, "git")
	require.NoError(t, os.WriteFile(git, []byte("#!/bin/sh\necho \"fatal: $2 not found\" >&2\nexit 128\n"), 0o755))

	runner, _ := newTestRunner(t)
	runner.GitPath = git

	result, err := runner.GitClone(context.Background(), "https://example.com/web.git", filepath.Join(dir, "src"))
	require.NoError(t, err)
	assert.Equal(t, 128, result.ExitCode)
	assert.Contains(t, result.Stderr, "https://example.com/web.git not found")
}

// gitRepo creates a repository with one commit holding file.
func gitRepo(t *testing.T, git, file string) string {
	t.Helper()
	t.Setenv("GIT_AUTHOR_NAME", "stead")
	t.Setenv("GIT_AUTHOR_EMAIL", "stead@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "stead")
	t.Setenv("GIT_COMMITTER_EMAIL", "stead@example.com")

	dir := t.TempDir()
	gitCommit(t, git, dir, file, "init", "-q")
	return dir
}

// gitCommit writes file into repo and commits it, running prep first when given.
func gitCommit(t *testing.T, git, repo, file string, prep ...string) {
	t.Helper()
	steps := [][]string{
		{"add", file},
		{"-c", "commit.gpgsign=false", "commit", "-q", "-m", "add " + file},
	}
	if len(prep) > 0 {
		steps = append([][]string{prep}, steps...)
	}
	require.NoError(t, os.WriteFile(filepath.Join(repo, file), []byte(file+"\n"), 0o644))
	for _, args := range steps {
		out, err := exec.Command(git, append([]string{"-C", repo}, args...)...).CombinedOutput()
		require.NoError(t, err, string(out))
	}
}

func TestNixRunner_GitCloneRefreshesCheckout(t *testing.T) {
	git, err := exec.LookPath("git")
	if err != nil {
		t.Skip("git is not installed")
	}
	upstream := gitRepo(t, git, "first.txt")
	target := filepath.Join(t.TempDir(), "source")
	require.NoError(t, os.MkdirAll(target, 0o755))

	runner, _ := newTestRunner(t)

	result, err := runner.GitClone(context.Background(), upstream, target)
	require.NoError(t, err)
	require.True(t, result.Success(), result.Stderr)
	assert.FileExists(t, filepath.Join(target, "first.txt"))

	gitCommit(t, git, upstream, "second.txt")
	require.NoError(t, os.WriteFile(filepath.Join(target, "first.txt"), []byte("local edit\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(target, "build.out"), []byte("artifact\n"), 0o644))

	result, err = runner.GitClone(context.Background(), upstream, target)
	require.NoError(t, err)
	require.True(t, result.Success(), result.Stderr)

	assert.FileExists(t, filepath.Join(target, "second.txt"))
	assert.FileExists(t, filepath.Join(target, "build.out"))
	data, err := os.ReadFile(filepath.Join(target, "first.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first.txt\n", string(data))
}

func TestNixRunner_GitCloneIntoPopulatedDirectory(t *testing.T) {
	git, err := exec.LookPath("git")
	if err != nil {
		t.Skip("git is not installed")
	}
	upstream := gitRepo(t, git, "main.go")
	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "stale.txt"), []byte("copied earlier\n"), 0o644))

	runner, _ := newTestRunner(t)
	result, err := runner.GitClone(context.Background(), upstream, target)
	require.NoError(t, err)
	require.True(t, result.Success(), result.Stderr)

	assert.DirExists(t, filepath.Join(target, ".git"))
	assert.FileExists(t, filepath.Join(target, "main.go"))
}

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/bin"}
	assert.Equal(t, base, mergeEnv(base, nil))

	env := mergeEnv(base, map[string]string{"B": "2", "A": "1"})
	assert.Equal(t, []string{"PATH=/bin", "A=1", "B=2"}, env)
}
