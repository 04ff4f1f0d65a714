package engine

import (
	"fmt"
	"strings"
	"time"
)

// Phase is a lifecycle stage of a project. Phases are totally ordered and the
// executor runs phase buckets in ascending order.
type Phase int

const (
	// PhaseUnknown is the zero value and is never planned.
	PhaseUnknown Phase = iota
	// PhaseTeardown removes artifacts of a previous configuration.
	PhaseTeardown
	// PhaseSetup acquires sources, installs the unit and runs setup commands.
	PhaseSetup
	// PhaseUpdate refreshes an existing checkout.
	PhaseUpdate
	// PhaseBuild runs build commands.
	PhaseBuild
	// PhaseStart (re)starts the project's service.
	PhaseStart
	// PhaseStop stops the project's service.
	PhaseStop
)

// AllPhases lists every plannable phase in execution order.
var AllPhases = []Phase{PhaseTeardown, PhaseSetup, PhaseUpdate, PhaseBuild, PhaseStart, PhaseStop}

var phaseNames = map[Phase]string{
	PhaseUnknown:  "unknown",
	PhaseTeardown: "teardown",
	PhaseSetup:    "setup",
	PhaseUpdate:   "update",
	PhaseBuild:    "build",
	PhaseStart:    "start",
	PhaseStop:     "stop",
}

// String returns the lowercase phase name.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ParsePhase parses a lowercase phase name.
func ParsePhase(s string) (Phase, error) {
	for phase, name := range phaseNames {
		if phase != PhaseUnknown && name == strings.ToLower(s) {
			return phase, nil
		}
	}
	return PhaseUnknown, fmt.Errorf("invalid phase: %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	if len(text) == 0 || string(text) == "unknown" {
		*p = PhaseUnknown
		return nil
	}
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ConfigChange classifies how a project differs from the previous snapshot.
type ConfigChange int

const (
	// ChangeAdded means the project is declared now but absent from the snapshot.
	ChangeAdded ConfigChange = iota + 1
	// ChangeChanged means the project is in both and not equal.
	ChangeChanged
	// ChangeRemoved means the project is in the snapshot but no longer declared.
	ChangeRemoved
)

// String returns the lowercase change name.
func (c ConfigChange) String() string {
	switch c {
	case ChangeAdded:
		return "added"
	case ChangeChanged:
		return "changed"
	case ChangeRemoved:
		return "removed"
	default:
		return fmt.Sprintf("change(%d)", int(c))
	}
}

// Phases returns the lifecycle phases a change requires.
func (c ConfigChange) Phases() []Phase {
	switch c {
	case ChangeAdded:
		return []Phase{PhaseSetup, PhaseBuild, PhaseStart}
	case ChangeChanged:
		return []Phase{PhaseTeardown, PhaseSetup, PhaseBuild, PhaseStart}
	case ChangeRemoved:
		return []Phase{PhaseStop, PhaseTeardown}
	default:
		return nil
	}
}

// Outcome is the result of the last apply for a project.
type Outcome string

const (
	// OutcomeNone means the project has not been applied yet.
	OutcomeNone Outcome = ""
	// OutcomeSucceeded means every action of the last apply completed.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed means an action of the last apply failed.
	OutcomeFailed Outcome = "failed"
)

// ProjectStatus records the outcome of the last apply of a project.
// It is persisted with the snapshot and never participates in equality.
type ProjectStatus struct {
	// Outcome is the result of the last apply that touched the project.
	Outcome Outcome `json:"outcome,omitempty"`

	// FailedPhase is the phase of the first failed action when Outcome is failed.
	FailedPhase Phase `json:"failed_phase,omitempty"`

	// Reason is the failure text of the first failed action.
	Reason string `json:"reason,omitempty"`

	// AppliedAt is when the last apply touching the project finished.
	AppliedAt time.Time `json:"applied_at,omitzero"`
}

// Failed reports whether the last apply failed.
func (s ProjectStatus) Failed() bool {
	return s.Outcome == OutcomeFailed
}

// RetryPhases returns the phases needed to resume a project whose last apply
// failed. It returns nil for projects that did not fail.
func (s ProjectStatus) RetryPhases() []Phase {
	if !s.Failed() {
		return nil
	}
	switch s.FailedPhase {
	case PhaseTeardown:
		return []Phase{PhaseTeardown}
	case PhaseSetup:
		return []Phase{PhaseSetup, PhaseBuild, PhaseStart}
	case PhaseUpdate:
		return []Phase{PhaseUpdate, PhaseBuild, PhaseStart}
	case PhaseBuild:
		return []Phase{PhaseBuild, PhaseStart}
	case PhaseStart:
		return []Phase{PhaseStart}
	case PhaseStop:
		return []Phase{PhaseStop}
	default:
		return nil
	}
}

// ActionState is the lifecycle state of an action.
type ActionState string

const (
	// ActionTodo means the action has not run.
	ActionTodo ActionState = "todo"
	// ActionDone means the action completed successfully.
	ActionDone ActionState = "done"
	// ActionFailed means the action ran and failed.
	ActionFailed ActionState = "failed"
	// ActionCancelled means the action was skipped because its project failed earlier.
	ActionCancelled ActionState = "cancelled"
)

// IsTerminal returns true if the action will not change state again.
func (s ActionState) IsTerminal() bool {
	return s == ActionDone || s == ActionFailed || s == ActionCancelled
}

// ActionStatus is the state of an action plus the failure reason, if any.
type ActionStatus struct {
	State  ActionState `json:"state"`
	Reason string      `json:"reason,omitempty"`
}

// String returns a short human-readable form.
func (s ActionStatus) String() string {
	if s.State == ActionFailed && s.Reason != "" {
		return fmt.Sprintf("failed: %s", s.Reason)
	}
	return string(s.State)
}

// RunStatus represents the overall status of an apply run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every action completed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates no action completed and at least one failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusPartial indicates some projects failed while others completed.
	RunStatusPartial RunStatus = "partial"

	// RunStatusDryRun indicates nothing was executed.
	RunStatusDryRun RunStatus = "dry-run"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusPartial || s == RunStatusDryRun
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed,
		RunStatusPartial, RunStatusDryRun:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}
