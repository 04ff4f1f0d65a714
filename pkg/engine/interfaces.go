package engine

import (
	"context"
	"time"
)

// CommandResult is the outcome of an external program.
type CommandResult struct {
	// ExitCode is the process exit code.
	ExitCode int `json:"exit_code"`

	// Stdout is the captured standard output.
	Stdout string `json:"stdout,omitempty"`

	// Stderr is the captured standard error.
	Stderr string `json:"stderr,omitempty"`

	// Duration is how long the program ran.
	Duration time.Duration `json:"duration"`
}

// Success returns true when the program exited with code zero.
func (r *CommandResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// ShellRequest describes commands to run inside the dependency shell.
type ShellRequest struct {
	// Dir is the working directory.
	Dir string

	// Deps are the dependency identifiers made available to the commands.
	Deps []string

	// Commands are joined with && so the first failure stops the rest.
	Commands []string

	// Env is exported on top of the inherited environment.
	Env map[string]string

	// Interactive inherits the caller's stdio instead of capturing output.
	Interactive bool
}

// CommandRunner runs external programs on behalf of command-family actions.
// A returned error means the program could not be spawned; a non-zero exit is
// reported through CommandResult.
type CommandRunner interface {
	// Shell runs commands in the dependency shell.
	Shell(ctx context.Context, req ShellRequest) (*CommandResult, error)

	// GitClone clones url into target, or brings an existing checkout in
	// target to the remote HEAD of url.
	GitClone(ctx context.Context, url, target string) (*CommandResult, error)

	// Unzip extracts archive into target inside the dependency shell.
	Unzip(ctx context.Context, archive, target string) (*CommandResult, error)
}

// FileSystem performs filesystem-family actions.
type FileSystem interface {
	// MkdirAll creates path and any missing parents.
	MkdirAll(path string) error

	// Copy copies a file or a directory tree from src to dst.
	Copy(src, dst string) error

	// WriteFile replaces path with content.
	WriteFile(path, content string) error
}

// ServiceManager talks to the user service manager.
type ServiceManager interface {
	// Control applies op to unit.
	Control(ctx context.Context, op ServiceOp, unit string) error

	// DaemonReload makes the service manager re-read unit files.
	DaemonReload(ctx context.Context) error
}

// StateStore loads and persists snapshots.
type StateStore interface {
	// Load returns the last persisted snapshot, or an empty one.
	Load(ctx context.Context) (*Snapshot, error)

	// Save replaces the persisted snapshot.
	Save(ctx context.Context, snapshot *Snapshot) error
}

// ActionObserver is notified of every action the executor finishes.
// Observers must not mutate the action.
type ActionObserver interface {
	ActionFinished(ctx context.Context, runID string, action *Action, elapsed time.Duration)
}

// RunObserver is notified when an apply run begins and ends.
type RunObserver interface {
	RunStarted(ctx context.Context, plan *Plan, dryRun bool) error
	RunFinished(ctx context.Context, result *ApplyResult) error
}
