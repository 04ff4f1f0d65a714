package engine

import (
	"fmt"
	"strings"
)

// ActionFamily groups action kinds by the collaborator that executes them.
type ActionFamily string

const (
	// FamilyCommand kinds run an external program.
	FamilyCommand ActionFamily = "command"
	// FamilyFilesystem kinds touch the local filesystem.
	FamilyFilesystem ActionFamily = "filesystem"
	// FamilySystemCtl kinds talk to the service manager.
	FamilySystemCtl ActionFamily = "systemctl"
)

// ActionKind is the side effect an action performs.
// The set of kinds is closed; every kind lives in this package.
type ActionKind interface {
	// Family returns the collaborator family of the kind.
	Family() ActionFamily
	// Name returns a short stable identifier such as "git-clone".
	Name() string
	// Describe returns a one-line human-readable description.
	Describe() string

	isActionKind()
}

// GitClone clones URL into Target. Re-running it refreshes the checkout.
type GitClone struct {
	URL    string `json:"url"`
	Target string `json:"target"`
}

// ShellCommand runs Commands joined with && inside the dependency shell.
type ShellCommand struct {
	Dir      string            `json:"dir"`
	Deps     []string          `json:"deps,omitempty"`
	Commands []string          `json:"commands"`
	Env      map[string]string `json:"env,omitempty"`
}

// Unzip extracts Archive into Target, overwriting existing files.
type Unzip struct {
	Archive string `json:"archive"`
	Target  string `json:"target"`
}

// CreateDirAll creates Path and its parents.
type CreateDirAll struct {
	Path string `json:"path"`
}

// CopyPath copies a file or directory tree.
type CopyPath struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// WriteFile writes Content to Path, replacing it.
type WriteFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ServiceOp is a service manager operation.
type ServiceOp string

const (
	ServiceRestart ServiceOp = "restart"
	ServiceStart   ServiceOp = "start"
	ServiceStop    ServiceOp = "stop"
	ServiceEnable  ServiceOp = "enable"
	ServiceDisable ServiceOp = "disable"
)

// ServiceControl applies Op to Unit through the service manager.
type ServiceControl struct {
	Op   ServiceOp `json:"op"`
	Unit string    `json:"unit"`
}

func (GitClone) Family() ActionFamily       { return FamilyCommand }
func (ShellCommand) Family() ActionFamily   { return FamilyCommand }
func (Unzip) Family() ActionFamily          { return FamilyCommand }
func (CreateDirAll) Family() ActionFamily   { return FamilyFilesystem }
func (CopyPath) Family() ActionFamily       { return FamilyFilesystem }
func (WriteFile) Family() ActionFamily      { return FamilyFilesystem }
func (ServiceControl) Family() ActionFamily { return FamilySystemCtl }

func (GitClone) Name() string       { return "git-clone" }
func (ShellCommand) Name() string   { return "shell" }
func (Unzip) Name() string          { return "unzip" }
func (CreateDirAll) Name() string   { return "mkdir" }
func (CopyPath) Name() string       { return "copy" }
func (WriteFile) Name() string      { return "write" }
func (ServiceControl) Name() string { return "systemctl" }

func (k GitClone) Describe() string {
	return fmt.Sprintf("git clone %s %s", k.URL, k.Target)
}

func (k ShellCommand) Describe() string {
	cmd := strings.Join(k.Commands, " && ")
	if len(k.Deps) == 0 {
		return cmd
	}
	return fmt.Sprintf("[%s] %s", strings.Join(k.Deps, " "), cmd)
}

func (k Unzip) Describe() string {
	return fmt.Sprintf("unzip %s -> %s", k.Archive, k.Target)
}

func (k CreateDirAll) Describe() string {
	return fmt.Sprintf("mkdir -p %s", k.Path)
}

func (k CopyPath) Describe() string {
	return fmt.Sprintf("copy %s -> %s", k.From, k.To)
}

func (k WriteFile) Describe() string {
	return fmt.Sprintf("write %s (%d bytes)", k.Path, len(k.Content))
}

func (k ServiceControl) Describe() string {
	return fmt.Sprintf("systemctl --user %s %s", k.Op, k.Unit)
}

func (GitClone) isActionKind()       {}
func (ShellCommand) isActionKind()   {}
func (Unzip) isActionKind()          {}
func (CreateDirAll) isActionKind()   {}
func (CopyPath) isActionKind()       {}
func (WriteFile) isActionKind()      {}
func (ServiceControl) isActionKind() {}

// Action is one side effect planned for a project in a phase.
// The planner creates actions in state todo; only the executor changes their status.
type Action struct {
	Project string       `json:"project"`
	Phase   Phase        `json:"phase"`
	Kind    ActionKind   `json:"-"`
	Status  ActionStatus `json:"status"`
}

// NewAction returns a todo action.
func NewAction(project string, phase Phase, kind ActionKind) *Action {
	return &Action{
		Project: project,
		Phase:   phase,
		Kind:    kind,
		Status:  ActionStatus{State: ActionTodo},
	}
}

// MarkDone marks the action done.
func (a *Action) MarkDone() {
	a.Status = ActionStatus{State: ActionDone}
}

// MarkFailed marks the action failed with reason.
func (a *Action) MarkFailed(reason string) {
	a.Status = ActionStatus{State: ActionFailed, Reason: reason}
}

// MarkCancelled marks the action cancelled.
func (a *Action) MarkCancelled() {
	a.Status = ActionStatus{State: ActionCancelled}
}

// String returns "phase project: description".
func (a *Action) String() string {
	return fmt.Sprintf("%s %s: %s", a.Phase, a.Project, a.Kind.Describe())
}
