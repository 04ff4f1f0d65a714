package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/openfroyo/stead/pkg/engine"

// ExecutorConfig holds the execution mode flags.
type ExecutorConfig struct {
	// Root is the working root holding artifacts.
	Root string

	// UnitDir is created before any action runs.
	UnitDir string

	// SafeMode turns every service manager action into a no-op that succeeds.
	// Daemon-reload is skipped as well.
	SafeMode bool

	// DryRun reports every action without executing anything.
	DryRun bool
}

// Executor runs actions in global phase order on the calling goroutine.
// A failing action cancels the remaining actions of its project only.
type Executor struct {
	cfg       ExecutorConfig
	commands  CommandRunner
	fs        FileSystem
	services  ServiceManager
	observers []ActionObserver
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithObserver registers an observer notified after every action.
func WithObserver(o ActionObserver) ExecutorOption {
	return func(e *Executor) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = t
	}
}

// NewExecutor creates a new executor.
func NewExecutor(
	cfg ExecutorConfig,
	commands CommandRunner,
	fs FileSystem,
	services ServiceManager,
	logger zerolog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		cfg:      cfg,
		commands: commands,
		fs:       fs,
		services: services,
		tracer:   otel.Tracer(tracerName),
		logger:   logger.With().Str("component", "executor").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the executor's mode flags.
func (e *Executor) Config() ExecutorConfig {
	return e.cfg
}

// Execute runs actions and returns their final statuses. projects maps the
// declared projects whose artifact directories are prepared up front.
// Per-action failures are recorded on the actions; the result's Err is set
// only for run-level failures.
func (e *Executor) Execute(ctx context.Context, runID string, actions []*Action, projects map[string]*Project) *ApplyResult {
	result := &ApplyResult{
		RunID:     runID,
		StartedAt: time.Now(),
		Actions:   actions,
		DryRun:    e.cfg.DryRun,
	}

	ctx, span := e.tracer.Start(ctx, "stead.apply", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("actions", len(actions)),
		attribute.Bool("dry_run", e.cfg.DryRun),
		attribute.Bool("safe_mode", e.cfg.SafeMode),
	))
	defer span.End()

	failed := mapset.NewSet[string]()

	if !e.cfg.DryRun {
		if err := e.prepare(actions, projects, failed); err != nil {
			result.Err = err
			return e.finish(span, result, failed)
		}
	}

	buckets := make(map[Phase][]*Action)
	for _, a := range actions {
		buckets[a.Phase] = append(buckets[a.Phase], a)
	}

	for _, phase := range AllPhases {
		bucket := buckets[phase]
		if len(bucket) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}
		// A service manager failure stops only the start bucket; later buckets still run.
		if err := e.runBucket(ctx, runID, phase, bucket, failed); err != nil {
			result.Err = err
			if ctx.Err() != nil {
				break
			}
		}
	}

	return e.finish(span, result, failed)
}

// prepare creates the unit directory and the artifact directories of every
// declared project owning an action. A project whose directories cannot be
// created has its first action failed.
func (e *Executor) prepare(actions []*Action, projects map[string]*Project, failed mapset.Set[string]) error {
	if e.cfg.UnitDir != "" {
		if err := e.fs.MkdirAll(e.cfg.UnitDir); err != nil {
			return NewExecutionError("failed to create unit directory", err).WithPath(e.cfg.UnitDir)
		}
	}

	seen := mapset.NewSet[string]()
	for _, a := range actions {
		if !seen.Add(a.Project) {
			continue
		}
		project, ok := projects[a.Project]
		if !ok {
			continue
		}
		for _, dir := range []string{project.ArtifactDir(e.cfg.Root), project.SourceDir(e.cfg.Root)} {
			if err := e.fs.MkdirAll(dir); err != nil {
				a.MarkFailed(fmt.Sprintf("prepare %s: %v", dir, err))
				failed.Add(a.Project)
				e.logger.Error().Err(err).Str("project", a.Project).Str("path", dir).
					Msg("Failed to prepare artifact directory")
				break
			}
		}
	}
	return nil
}

func (e *Executor) runBucket(
	ctx context.Context,
	runID string,
	phase Phase,
	bucket []*Action,
	failed mapset.Set[string],
) error {
	ctx, span := e.tracer.Start(ctx, "stead.phase", trace.WithAttributes(
		attribute.String("phase", phase.String()),
		attribute.Int("actions", len(bucket)),
	))
	defer span.End()

	var runErr error
	if phase == PhaseStart && !e.cfg.DryRun && !e.cfg.SafeMode {
		if err := e.services.DaemonReload(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "daemon-reload failed")
			e.logger.Error().Err(err).Msg("Service manager daemon-reload failed; start actions are not run")
			reason := fmt.Sprintf("daemon-reload failed: %v", err)
			for _, a := range bucket {
				switch {
				case a.Status.State != ActionTodo:
				case failed.Contains(a.Project):
					a.MarkCancelled()
				default:
					a.MarkFailed(reason)
					failed.Add(a.Project)
				}
				e.notify(ctx, runID, a, 0)
			}
			return NewServiceError("daemon-reload failed", err)
		}
	}

	for _, a := range bucket {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if a.Status.State != ActionTodo {
			// Already failed while preparing its project.
			e.notify(ctx, runID, a, 0)
			continue
		}
		if failed.Contains(a.Project) {
			a.MarkCancelled()
			e.logger.Debug().Str("project", a.Project).Str("phase", phase.String()).
				Str("action", a.Kind.Name()).Msg("Action cancelled after earlier failure")
			e.notify(ctx, runID, a, 0)
			continue
		}
		if e.cfg.DryRun {
			e.notify(ctx, runID, a, 0)
			continue
		}

		elapsed := e.runAction(ctx, a)
		if a.Status.State == ActionFailed {
			failed.Add(a.Project)
		}
		e.notify(ctx, runID, a, elapsed)
	}

	return runErr
}

func (e *Executor) runAction(ctx context.Context, a *Action) time.Duration {
	ctx, span := e.tracer.Start(ctx, "stead.action", trace.WithAttributes(
		attribute.String("project", a.Project),
		attribute.String("phase", a.Phase.String()),
		attribute.String("kind", a.Kind.Name()),
	))
	defer span.End()

	logger := e.logger.With().
		Str("project", a.Project).
		Str("phase", a.Phase.String()).
		Str("action", a.Kind.Name()).
		Logger()
	logger.Debug().Str("description", a.Kind.Describe()).Msg("Running action")

	start := time.Now()
	err := e.perform(ctx, a.Kind)
	elapsed := time.Since(start)

	if err != nil {
		a.MarkFailed(err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Dur("duration", elapsed).Msg("Action failed")
		return elapsed
	}

	a.MarkDone()
	span.SetStatus(codes.Ok, "")
	logger.Info().Dur("duration", elapsed).Msg("Action completed")
	return elapsed
}

func (e *Executor) perform(ctx context.Context, kind ActionKind) error {
	switch k := kind.(type) {
	case ShellCommand:
		res, err := e.commands.Shell(ctx, ShellRequest{
			Dir:      k.Dir,
			Deps:     k.Deps,
			Commands: k.Commands,
			Env:      k.Env,
		})
		return commandError(res, err)
	case GitClone:
		res, err := e.commands.GitClone(ctx, k.URL, k.Target)
		return commandError(res, err)
	case Unzip:
		res, err := e.commands.Unzip(ctx, k.Archive, k.Target)
		return commandError(res, err)
	case CreateDirAll:
		return e.fs.MkdirAll(k.Path)
	case CopyPath:
		return e.fs.Copy(k.From, k.To)
	case WriteFile:
		return e.fs.WriteFile(k.Path, k.Content)
	case ServiceControl:
		if e.cfg.SafeMode {
			return nil
		}
		return e.services.Control(ctx, k.Op, k.Unit)
	default:
		return fmt.Errorf("unsupported action kind %T", kind)
	}
}

// commandError turns a program outcome into the failure reason recorded on the action.
func commandError(res *CommandResult, err error) error {
	if err != nil {
		return NewExecutionError("failed to spawn process", err).WithCode(ErrCodeSpawnFailed)
	}
	if res.Success() {
		return nil
	}
	if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
		return fmt.Errorf("%s", stderr)
	}
	return fmt.Errorf("exit status %d", res.ExitCode)
}

func (e *Executor) notify(ctx context.Context, runID string, a *Action, elapsed time.Duration) {
	for _, o := range e.observers {
		o.ActionFinished(ctx, runID, a, elapsed)
	}
}

func (e *Executor) finish(span trace.Span, result *ApplyResult, failed mapset.Set[string]) *ApplyResult {
	result.CompletedAt = time.Now()
	result.Summary = summarize(result.Actions)
	result.Status = runStatus(result.Summary, result.DryRun)
	result.FailedProjects = failed.ToSlice()
	sort.Strings(result.FailedProjects)

	span.SetAttributes(
		attribute.String("status", string(result.Status)),
		attribute.Int("failed_projects", len(result.FailedProjects)),
	)
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}

	e.logger.Info().
		Str("run_id", result.RunID).
		Str("status", string(result.Status)).
		Int("done", result.Summary.Done).
		Int("failed", result.Summary.Failed).
		Int("cancelled", result.Summary.Cancelled).
		Msg("Execution finished")
	return result
}
