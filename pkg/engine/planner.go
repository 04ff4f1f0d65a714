package engine

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PlannerConfig holds the host-specific values actions are built from.
type PlannerConfig struct {
	// Root is the working root holding artifacts and state.
	Root string

	// UnitDir is the user service manager's unit directory.
	UnitDir string

	// Executable is the tool binary the generated units invoke.
	Executable string

	// ConfigPath is the explicit configuration file the units pass back.
	ConfigPath string

	// RetryFailed re-plans unchanged projects whose last apply failed.
	RetryFailed bool
}

// Planner turns configuration changes into an ordered action list.
type Planner struct {
	cfg    PlannerConfig
	logger zerolog.Logger
}

// NewPlanner creates a new planner.
func NewPlanner(cfg PlannerConfig, logger zerolog.Logger) *Planner {
	return &Planner{
		cfg:    cfg,
		logger: logger.With().Str("component", "planner").Logger(),
	}
}

// Plan compares current against previous within filter and builds the plan.
func (p *Planner) Plan(current map[string]*Project, previous *Snapshot, filter Filter) *Plan {
	if previous == nil {
		previous = NewSnapshot(p.cfg.Root)
	}

	changes := Compare(current, previous.Projects, filter)
	phases := PlanPhases(changes)

	var retries map[string][]Phase
	if p.cfg.RetryFailed {
		retries = RetryPhases(current, previous.Projects, changes, filter)
		for name, retry := range retries {
			phases[name] = retry
		}
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		Changes:   changes,
		Retries:   retries,
		Phases:    phases,
		Filter:    filter,
		Current:   current,
		Previous:  previous,
	}
	plan.Actions = p.BuildActions(phases, current, previous.Projects)

	for _, change := range changes {
		switch change {
		case ChangeAdded:
			plan.Summary.Added++
		case ChangeChanged:
			plan.Summary.Changed++
		case ChangeRemoved:
			plan.Summary.Removed++
		}
	}
	plan.Summary.Retried = len(retries)
	for name := range current {
		if !inFilter(filter, name) {
			continue
		}
		if _, ok := phases[name]; !ok {
			plan.Summary.Unchanged++
		}
	}
	plan.Summary.Actions = len(plan.Actions)

	return plan
}

// BuildActions expands per-project phases into actions. Projects are visited
// in name order and phases in list order. Removed projects are looked up in previous.
func (p *Planner) BuildActions(phases map[string][]Phase, current, previous map[string]*Project) []*Action {
	actions := make([]*Action, 0)
	for _, name := range sortedNames(phases) {
		project, ok := current[name]
		if !ok {
			project, ok = previous[name]
		}
		if !ok {
			p.logger.Warn().Str("project", name).Msg("No definition found for planned project")
			continue
		}
		for _, phase := range phases[name] {
			actions = append(actions, p.phaseActions(project, phase)...)
		}
	}
	return actions
}

func (p *Planner) phaseActions(project *Project, phase Phase) []*Action {
	var kinds []ActionKind

	switch phase {
	case PhaseSetup:
		kinds = append(kinds, p.sourceActions(project)...)
		if project.HasService() {
			unitFile := project.UnitFile(p.cfg.Root)
			kinds = append(kinds,
				WriteFile{
					Path: unitFile,
					Content: RenderUnit(project, UnitOptions{
						Root:       p.cfg.Root,
						Executable: p.cfg.Executable,
						ConfigPath: p.cfg.ConfigPath,
					}),
				},
				CopyPath{From: unitFile, To: filepath.Join(p.cfg.UnitDir, project.UnitName())},
			)
		}
		kinds = append(kinds, p.commandActions(project, project.Phases.Setup)...)

	case PhaseUpdate:
		kinds = append(kinds, p.commandActions(project, project.Phases.Setup)...)

	case PhaseBuild:
		kinds = append(kinds, p.commandActions(project, project.Phases.Build)...)

	// Only projects with start commands have a unit installed in setup.
	case PhaseStart:
		if project.Service.Autostart && project.HasService() {
			kinds = append(kinds, ServiceControl{Op: ServiceRestart, Unit: project.UnitName()})
		}

	case PhaseStop:
		if project.HasService() {
			kinds = append(kinds, ServiceControl{Op: ServiceStop, Unit: project.UnitName()})
		}

	case PhaseTeardown:
		p.logger.Warn().
			Str("project", project.Name).
			Msg("Teardown has no actions; previous artifacts are left in place")
	}

	actions := make([]*Action, 0, len(kinds))
	for _, kind := range kinds {
		actions = append(actions, NewAction(project.Name, phase, kind))
	}
	return actions
}

func (p *Planner) sourceActions(project *Project) []ActionKind {
	target := project.SourceDir(p.cfg.Root)
	switch project.Source.Kind {
	case SourcePath:
		return []ActionKind{CopyPath{From: project.SourceLocation(), To: target}}
	case SourceGit:
		return []ActionKind{GitClone{URL: project.Source.Location, Target: target}}
	case SourceZip:
		return []ActionKind{Unzip{Archive: project.SourceLocation(), Target: target}}
	default:
		return nil
	}
}

func (p *Planner) commandActions(project *Project, commands []string) []ActionKind {
	kinds := make([]ActionKind, 0, len(commands))
	for _, command := range commands {
		kinds = append(kinds, ShellCommand{
			Dir:      project.SourceDir(p.cfg.Root),
			Deps:     project.NixDeps(),
			Commands: []string{command},
			Env:      project.Env,
		})
	}
	return kinds
}
