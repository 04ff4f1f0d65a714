package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/stead/pkg/engine"
)

// DefaultNixShell is where a multi-user nix install puts nix-shell.
const DefaultNixShell = "/nix/var/nix/profiles/default/bin/nix-shell"

// unzipDep is the dependency the unzip tool is taken from.
const unzipDep = "unzip"

// NixRunner runs project commands inside nix-shell and clones sources with git.
// It implements engine.CommandRunner.
//
// Children are started without the caller's context: a running command is
// never signalled, cancellation takes effect between actions.
type NixRunner struct {
	// ShellPath is the nix-shell binary.
	ShellPath string

	// GitPath is the git binary, resolved through PATH when relative.
	GitPath string

	// Stdin, Stdout and Stderr are used for interactive requests.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	logger zerolog.Logger
}

// NewNixRunner creates a runner using shellPath, or DefaultNixShell when empty.
func NewNixRunner(shellPath string, logger zerolog.Logger) *NixRunner {
	if shellPath == "" {
		shellPath = DefaultNixShell
	}
	return &NixRunner{
		ShellPath: shellPath,
		GitPath:   "git",
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		logger:    logger.With().Str("component", "nix").Logger(),
	}
}

// ShellArgs returns the nix-shell arguments for deps and commands.
// Commands are joined with && so the first failure stops the rest.
func ShellArgs(deps, commands []string) []string {
	args := make([]string, 0, len(deps)+3)
	args = append(args, "-p")
	args = append(args, deps...)
	args = append(args, "--run", strings.Join(commands, " && "))
	return args
}

// Shell implements engine.CommandRunner.
func (r *NixRunner) Shell(_ context.Context, req engine.ShellRequest) (*engine.CommandResult, error) {
	if len(req.Commands) == 0 {
		return nil, fmt.Errorf("no commands to run")
	}

	cmd := exec.Command(r.ShellPath, ShellArgs(req.Deps, req.Commands)...)
	cmd.Dir = req.Dir
	cmd.Env = mergeEnv(os.Environ(), req.Env)

	r.logger.Debug().
		Str("dir", req.Dir).
		Strs("deps", req.Deps).
		Strs("commands", req.Commands).
		Bool("interactive", req.Interactive).
		Msg("Running in nix-shell")

	if req.Interactive {
		cmd.Stdin = r.Stdin
		cmd.Stdout = r.Stdout
		cmd.Stderr = r.Stderr
		return run(cmd, nil, nil)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	return run(cmd, &stdout, &stderr)
}

// GitClone implements engine.CommandRunner. An empty or missing target is
// cloned into. A target that already holds files is reset in place to the
// remote HEAD of url; untracked files are kept.
func (r *NixRunner) GitClone(_ context.Context, url, target string) (*engine.CommandResult, error) {
	entries, err := os.ReadDir(target)
	if err != nil || len(entries) == 0 {
		r.logger.Debug().Str("url", url).Str("target", target).Msg("Cloning repository")
		return r.git("clone", url, target)
	}

	r.logger.Debug().Str("url", url).Str("target", target).Msg("Refreshing existing checkout")

	var steps [][]string
	if _, err := os.Stat(filepath.Join(target, ".git")); err != nil {
		steps = append(steps, []string{"-C", target, "init", "-q"})
	}
	steps = append(steps,
		[]string{"-C", target, "fetch", "-q", url, "HEAD"},
		[]string{"-C", target, "reset", "-q", "--hard", "FETCH_HEAD"},
	)

	total := &engine.CommandResult{}
	for _, args := range steps {
		res, err := r.git(args...)
		if err != nil {
			return nil, err
		}
		total.Duration += res.Duration
		total.Stdout += res.Stdout
		total.Stderr += res.Stderr
		if !res.Success() {
			total.ExitCode = res.ExitCode
			return total, nil
		}
	}
	return total, nil
}

func (r *NixRunner) git(args ...string) (*engine.CommandResult, error) {
	cmd := exec.Command(r.GitPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	return run(cmd, &stdout, &stderr)
}

// Unzip implements engine.CommandRunner. The archive is extracted with
// overwrite inside a nix-shell that provides unzip.
func (r *NixRunner) Unzip(ctx context.Context, archive, target string) (*engine.CommandResult, error) {
	return r.Shell(ctx, engine.ShellRequest{
		Deps:     []string{unzipDep},
		Commands: []string{fmt.Sprintf("unzip -o %s -d %s", ShellQuote(archive), ShellQuote(target))},
	})
}

// run starts cmd and waits for it. A non-zero exit is reported through the
// result; only a failure to start the process is returned as an error.
func run(cmd *exec.Cmd, stdout, stderr *bytes.Buffer) (*engine.CommandResult, error) {
	start := time.Now()
	err := cmd.Run()

	result := &engine.CommandResult{Duration: time.Since(start)}
	if stdout != nil {
		result.Stdout = stdout.String()
	}
	if stderr != nil {
		result.Stderr = stderr.String()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to execute %s: %w", cmd.Path, err)
	}

	return result, nil
}

// mergeEnv appends extra to base in key order; later entries win.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(extra))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, extra[k]))
	}
	return env
}

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
