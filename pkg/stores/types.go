package stores

import (
	"time"
)

// RunMode distinguishes real applies from dry runs.
type RunMode string

const (
	RunModeApply  RunMode = "apply"
	RunModeDryRun RunMode = "dry-run"
)

// Run represents one recorded apply run.
type Run struct {
	ID          string     `json:"id"`
	Mode        RunMode    `json:"mode"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Changes     string     `json:"changes"` // JSON object project -> change
	Total       int        `json:"total"`
	Done        int        `json:"done"`
	Failed      int        `json:"failed"`
	Cancelled   int        `json:"cancelled"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// ActionRecord is the recorded outcome of one action.
type ActionRecord struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	Seq         int       `json:"seq"`
	Project     string    `json:"project"`
	Phase       string    `json:"phase"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Reason      *string   `json:"reason,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	RecordedAt  time.Time `json:"recorded_at"`
}
