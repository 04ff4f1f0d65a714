package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Reconciler drives one diff, plan, execute and persist pass.
type Reconciler struct {
	planner  *Planner
	executor *Executor
	store    StateStore
	runs     []RunObserver
	logger   zerolog.Logger
}

// NewReconciler creates a new reconciler. Run observers are notified around every apply.
func NewReconciler(planner *Planner, executor *Executor, store StateStore, logger zerolog.Logger, runs ...RunObserver) *Reconciler {
	return &Reconciler{
		planner:  planner,
		executor: executor,
		store:    store,
		runs:     runs,
		logger:   logger.With().Str("component", "reconciler").Logger(),
	}
}

// LoadSnapshot returns the last persisted snapshot.
func (r *Reconciler) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	return r.store.Load(ctx)
}

// Plan compares the declared projects with the persisted snapshot and builds
// the action plan. Nothing is executed.
func (r *Reconciler) Plan(ctx context.Context, current map[string]*Project, filter Filter) (*Plan, error) {
	previous, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	plan := r.planner.Plan(current, previous, filter)
	r.logger.Debug().
		Str("plan_id", plan.ID).
		Int("added", plan.Summary.Added).
		Int("changed", plan.Summary.Changed).
		Int("removed", plan.Summary.Removed).
		Int("retried", plan.Summary.Retried).
		Int("actions", plan.Summary.Actions).
		Msg("Plan computed")
	return plan, nil
}

// Apply executes plan and persists the resulting snapshot. The snapshot is
// written even when actions failed; only a dry run skips it. A save failure
// is returned as a state error; a run-level execution failure is returned
// after the snapshot is saved.
func (r *Reconciler) Apply(ctx context.Context, plan *Plan) (*ApplyResult, error) {
	dryRun := r.executor.Config().DryRun

	for _, o := range r.runs {
		if err := o.RunStarted(ctx, plan, dryRun); err != nil {
			r.logger.Warn().Err(err).Msg("Run observer failed at start")
		}
	}

	result := r.executor.Execute(ctx, plan.ID, plan.Actions, plan.Current)

	var saveErr error
	if !dryRun {
		next := NextSnapshot(plan, result, time.Now())
		if err := r.store.Save(context.WithoutCancel(ctx), next); err != nil {
			saveErr = NewStateError("failed to persist state", err)
		}
	}

	for _, o := range r.runs {
		if err := o.RunFinished(context.WithoutCancel(ctx), result); err != nil {
			r.logger.Warn().Err(err).Msg("Run observer failed at finish")
		}
	}

	if saveErr != nil {
		return result, saveErr
	}
	return result, result.Err
}

// NextSnapshot builds the snapshot that follows an apply. Projects outside the
// plan's filter keep their previous entry. In-scope projects take their current
// declaration, or are dropped when no longer declared. Projects with actions in
// the plan get a status folded from those actions; others keep their status.
func NextSnapshot(plan *Plan, result *ApplyResult, now time.Time) *Snapshot {
	root := ""
	previous := map[string]*Project{}
	if plan.Previous != nil {
		root = plan.Previous.Root
		previous = plan.Previous.Projects
	}
	next := NewSnapshot(root)

	for name, project := range previous {
		if !inFilter(plan.Filter, name) {
			next.Projects[name] = project
		}
	}

	byProject := make(map[string][]*Action)
	for _, a := range result.Actions {
		byProject[a.Project] = append(byProject[a.Project], a)
	}

	for name, cur := range plan.Current {
		if !inFilter(plan.Filter, name) {
			continue
		}
		project := *cur
		actions, touched := byProject[name]
		_, planned := plan.Phases[name]
		switch {
		case touched:
			project.Status = foldStatus(actions, now)
		case planned:
			project.Status = ProjectStatus{Outcome: OutcomeSucceeded, AppliedAt: now}
		case previous[name] != nil:
			project.Status = previous[name].Status
		}
		next.Projects[name] = &project
	}

	return next
}

// foldStatus derives a project's status from its actions in execution order.
// Actions left in todo count as a failure so the next run resumes them.
func foldStatus(actions []*Action, now time.Time) ProjectStatus {
	for _, a := range actions {
		switch a.Status.State {
		case ActionFailed:
			return ProjectStatus{Outcome: OutcomeFailed, FailedPhase: a.Phase, Reason: a.Status.Reason, AppliedAt: now}
		case ActionTodo:
			return ProjectStatus{Outcome: OutcomeFailed, FailedPhase: a.Phase, Reason: "not executed", AppliedAt: now}
		}
	}
	return ProjectStatus{Outcome: OutcomeSucceeded, AppliedAt: now}
}
