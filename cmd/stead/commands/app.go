package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stead/pkg/config"
	"github.com/openfroyo/stead/pkg/engine"
	"github.com/openfroyo/stead/pkg/handlers"
	"github.com/openfroyo/stead/pkg/policy"
	"github.com/openfroyo/stead/pkg/report"
	"github.com/openfroyo/stead/pkg/stores"
	"github.com/openfroyo/stead/pkg/telemetry"
)

// app holds the collaborators shared by the commands of one invocation.
type app struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	printer *report.Printer
	loader  *config.Loader
	state   *stores.StateFile
	history *stores.SQLiteStore
}

// newApp loads the configuration for the current root and builds telemetry.
// The history database is opened lazily by openHistory.
func newApp(cmd *cobra.Command) (*app, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	cfg, err := config.Load(root, configPath)
	if err != nil {
		return nil, err
	}
	cfg.Telemetry.ServiceVersion = appVersion

	if level := os.Getenv("STEAD_LOG_LEVEL"); level != "" {
		cfg.Telemetry.Logging.Level = level
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	zerolog.SetGlobalLevel(telemetry.ParseLevel(cfg.Telemetry.Logging.Level))

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger := tel.Logger
	logger.Debug().Str("root", root).Str("config", cfg.Path).Msg("Configuration loaded")

	return &app{
		cfg:     cfg,
		tel:     tel,
		logger:  logger,
		printer: report.NewPrinter(cmd.OutOrStdout(), verbose),
		loader:  config.NewLoader(root, logger),
		state:   stores.NewStateFile(cfg.StatePath(), root, logger),
	}, nil
}

// Close flushes telemetry and closes the history database.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close history database")
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to shutdown telemetry")
	}
}

// openHistory opens and migrates the history database. It returns nil when
// history is disabled.
func (a *app) openHistory(ctx context.Context) (*stores.SQLiteStore, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	if a.history != nil {
		return a.history, nil
	}

	if err := os.MkdirAll(filepath.Dir(a.cfg.History.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: a.cfg.History.Path, Logger: &a.logger})
	if err != nil {
		return nil, fmt.Errorf("failed to create history store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate history store: %w", err)
	}

	a.history = store
	return store, nil
}

// declared loads every project definition and runs admission policies.
// Blocking violations are printed and returned as configuration errors.
func (a *app) declared(ctx context.Context) (map[string]*engine.Project, error) {
	snapshot, err := a.loader.Load()
	if err != nil {
		return nil, err
	}

	if !a.cfg.Policy.Enabled {
		return snapshot.Projects, nil
	}

	policies, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	if err := policies.LoadPolicies(ctx, a.cfg.PolicyPaths()); err != nil {
		return nil, err
	}

	result, err := policies.Evaluate(ctx, snapshot.Projects)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policies: %w", err)
	}
	a.printer.Violations(result.Violations)
	if err := result.Err(); err != nil {
		return nil, err
	}

	return snapshot.Projects, nil
}

// filter expands the --project patterns against declared and previously
// applied project names.
func (a *app) filter(current map[string]*engine.Project, previous *engine.Snapshot) (engine.Filter, error) {
	filter, unmatched, err := engine.ExpandFilter(projectPatterns, current, previous.Projects)
	if err != nil {
		return nil, err
	}
	for _, pattern := range unmatched {
		a.logger.Warn().Str("pattern", pattern).Msg("Project pattern matches no project")
	}
	return filter, nil
}

// runOptions are the per-command execution modes.
type runOptions struct {
	dryRun   bool
	safeMode bool
}

// reconciler wires the planner, executor and stores for one apply.
func (a *app) reconciler(ctx context.Context, opts runOptions) (*engine.Reconciler, error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}

	var unitConfig string
	if configPath != "" {
		if unitConfig, err = filepath.Abs(configPath); err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
	}

	planner := engine.NewPlanner(engine.PlannerConfig{
		Root:        a.cfg.Root,
		UnitDir:     a.cfg.UnitDir,
		Executable:  executable,
		ConfigPath:  unitConfig,
		RetryFailed: a.cfg.RetryFailed,
	}, a.logger)

	execOpts := []engine.ExecutorOption{
		engine.WithObserver(a.printer),
		engine.WithObserver(a.tel.Metrics),
	}
	runObservers := []engine.RunObserver{a.tel.Metrics}

	history, err := a.openHistory(ctx)
	if err != nil {
		return nil, err
	}
	if history != nil {
		execOpts = append(execOpts, engine.WithObserver(history))
		runObservers = append(runObservers, history)
	}

	executor := engine.NewExecutor(engine.ExecutorConfig{
		Root:     a.cfg.Root,
		UnitDir:  a.cfg.UnitDir,
		SafeMode: a.cfg.SafeMode || opts.safeMode,
		DryRun:   opts.dryRun,
	},
		handlers.NewNixRunner(a.cfg.NixShellPath, a.logger),
		handlers.LocalFS{},
		handlers.NewSystemctl(a.logger),
		a.logger,
		execOpts...,
	)

	return engine.NewReconciler(planner, executor, a.state, a.logger, runObservers...), nil
}

// plan loads definitions and computes the plan for the selected projects.
func (a *app) plan(ctx context.Context, rec *engine.Reconciler) (*engine.Plan, error) {
	current, err := a.declared(ctx)
	if err != nil {
		return nil, err
	}

	previous, err := rec.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	filter, err := a.filter(current, previous)
	if err != nil {
		return nil, err
	}

	return rec.Plan(ctx, current, filter)
}

// apply runs one full reconciliation pass and prints its progress.
func (a *app) apply(ctx context.Context, opts runOptions) (*engine.ApplyResult, error) {
	rec, err := a.reconciler(ctx, opts)
	if err != nil {
		return nil, err
	}

	plan, err := a.plan(ctx, rec)
	if err != nil {
		return nil, err
	}
	a.printer.Plan(plan, false)
	if plan.IsEmpty() && len(plan.Changes) == 0 {
		return nil, nil
	}
	fmt.Fprintln(a.printer.Out())

	result, err := rec.Apply(ctx, plan)
	if result != nil {
		a.printer.Summary(result)
	}
	if err != nil {
		return result, err
	}
	if len(result.FailedProjects) > 0 {
		return result, fmt.Errorf("%d project(s) failed", len(result.FailedProjects))
	}
	return result, nil
}
