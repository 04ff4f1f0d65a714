package engine

import (
	"time"
)

// Plan is the complete, ordered set of actions for one reconciliation pass.
type Plan struct {
	// ID is the unique identifier for this plan. Apply runs reuse it as run ID.
	ID string `json:"id"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"created_at"`

	// Changes classifies every project that differs from the previous snapshot.
	Changes map[string]ConfigChange `json:"changes"`

	// Retries lists unchanged projects re-planned because their last apply failed.
	Retries map[string][]Phase `json:"retries,omitempty"`

	// Phases is the merged per-project phase list the actions were built from.
	Phases map[string][]Phase `json:"phases"`

	// Actions is the flat action list, grouped by project in name order.
	Actions []*Action `json:"actions"`

	// Summary contains aggregate statistics.
	Summary PlanSummary `json:"summary"`

	// Filter is the project scope of the plan. Nil means every project.
	Filter Filter `json:"-"`

	// Current is the declared project set the plan was computed from.
	Current map[string]*Project `json:"-"`

	// Previous is the snapshot the plan was compared against.
	Previous *Snapshot `json:"-"`
}

// IsEmpty returns true when the plan contains no actions.
func (p *Plan) IsEmpty() bool {
	return len(p.Actions) == 0
}

// PlanSummary provides aggregate statistics about a plan.
type PlanSummary struct {
	// Added is the number of new projects.
	Added int `json:"added"`

	// Changed is the number of modified projects.
	Changed int `json:"changed"`

	// Removed is the number of projects no longer declared.
	Removed int `json:"removed"`

	// Retried is the number of unchanged projects resumed after a failure.
	Retried int `json:"retried"`

	// Unchanged is the number of in-scope projects needing nothing.
	Unchanged int `json:"unchanged"`

	// Actions is the total number of planned actions.
	Actions int `json:"actions"`
}

// ApplySummary counts actions by final state.
type ApplySummary struct {
	Total     int `json:"total"`
	Done      int `json:"done"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Todo      int `json:"todo"`
}

// ApplyResult is the outcome of executing a plan.
type ApplyResult struct {
	// RunID identifies the run; it equals the plan ID.
	RunID string `json:"run_id"`

	// Status is the overall run status.
	Status RunStatus `json:"status"`

	// StartedAt is when execution began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when execution finished.
	CompletedAt time.Time `json:"completed_at"`

	// Actions are the plan's actions with their final statuses.
	Actions []*Action `json:"actions"`

	// FailedProjects lists projects with at least one failed action, sorted.
	FailedProjects []string `json:"failed_projects,omitempty"`

	// Summary counts actions by final state.
	Summary ApplySummary `json:"summary"`

	// DryRun is true when nothing was executed.
	DryRun bool `json:"dry_run"`

	// Err is a run-level failure such as a daemon-reload error.
	Err error `json:"-"`
}

// summarize counts actions by state.
func summarize(actions []*Action) ApplySummary {
	summary := ApplySummary{Total: len(actions)}
	for _, a := range actions {
		switch a.Status.State {
		case ActionDone:
			summary.Done++
		case ActionFailed:
			summary.Failed++
		case ActionCancelled:
			summary.Cancelled++
		default:
			summary.Todo++
		}
	}
	return summary
}

// runStatus derives the overall status from the summary.
func runStatus(summary ApplySummary, dryRun bool) RunStatus {
	switch {
	case dryRun:
		return RunStatusDryRun
	case summary.Failed == 0 && summary.Cancelled == 0:
		return RunStatusSucceeded
	case summary.Done == 0:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}
