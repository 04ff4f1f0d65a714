package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/openfroyo/stead/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore records run history in SQLite.
// It implements engine.RunObserver and engine.ActionObserver.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger

	mu  sync.Mutex
	seq map[string]int
}

// Config holds SQLite store configuration
type Config struct {
	Path   string
	Logger *zerolog.Logger
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &SQLiteStore{
		path:   cfg.Path,
		logger: logger.With().Str("component", "history").Logger(),
		seq:    make(map[string]int),
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := "file:" + s.path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One writer per process; also keeps an in-memory database on a single connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, mode, status, started_at, completed_at, error, changes,
			total, done, failed, cancelled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Mode,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.Changes,
		run.Total,
		run.Done,
		run.Failed,
		run.Cancelled,
		run.CreatedAt,
		run.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// CompleteRun stores the final status and counters of a run
func (s *SQLiteStore) CompleteRun(ctx context.Context, id, status string, summary engine.ApplySummary, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?, total = ?, done = ?, failed = ?, cancelled = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now()
	result, err := s.db.ExecContext(ctx, query,
		status, errMsg, now,
		summary.Total, summary.Done, summary.Failed, summary.Cancelled,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

const runColumns = `id, mode, status, started_at, completed_at, error, changes,
	total, done, failed, cancelled, created_at, updated_at`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Mode,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.Changes,
		&run.Total,
		&run.Done,
		&run.Failed,
		&run.Cancelled,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	return run, err
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs, newest first, with pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and its action records
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// AppendActionResult appends the outcome of one action
func (s *SQLiteStore) AppendActionResult(ctx context.Context, rec *ActionRecord) error {
	query := `
		INSERT INTO action_results (run_id, seq, project, phase, kind, description, status, reason, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.RunID,
		rec.Seq,
		rec.Project,
		rec.Phase,
		rec.Kind,
		rec.Description,
		rec.Status,
		rec.Reason,
		rec.DurationMS,
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append action result: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get action result ID: %w", err)
	}

	rec.ID = id
	return nil
}

const actionColumns = `id, run_id, seq, project, phase, kind, description, status, reason, duration_ms, recorded_at`

func (s *SQLiteStore) queryActions(ctx context.Context, query string, args ...any) ([]*ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list action results: %w", err)
	}
	defer rows.Close()

	records := []*ActionRecord{}
	for rows.Next() {
		rec := &ActionRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.Seq,
			&rec.Project,
			&rec.Phase,
			&rec.Kind,
			&rec.Description,
			&rec.Status,
			&rec.Reason,
			&rec.DurationMS,
			&rec.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action result: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action results: %w", err)
	}

	return records, nil
}

// ListActionResults returns the actions of a run in execution order
func (s *SQLiteStore) ListActionResults(ctx context.Context, runID string) ([]*ActionRecord, error) {
	query := `SELECT ` + actionColumns + ` FROM action_results WHERE run_id = ? ORDER BY seq ASC`
	return s.queryActions(ctx, query, runID)
}

// LastFailure returns the most recent failed action of a project, or nil.
func (s *SQLiteStore) LastFailure(ctx context.Context, project string) (*ActionRecord, error) {
	query := `SELECT ` + actionColumns + ` FROM action_results
		WHERE project = ? AND status = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1`
	records, err := s.queryActions(ctx, query, project, string(engine.ActionFailed))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// RunStarted implements engine.RunObserver.
func (s *SQLiteStore) RunStarted(ctx context.Context, plan *engine.Plan, dryRun bool) error {
	changes := make(map[string]string, len(plan.Changes)+len(plan.Retries))
	for name, change := range plan.Changes {
		changes[name] = change.String()
	}
	for name := range plan.Retries {
		changes[name] = "retry"
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("failed to encode changes: %w", err)
	}

	mode := RunModeApply
	if dryRun {
		mode = RunModeDryRun
	}

	now := time.Now()
	return s.CreateRun(ctx, &Run{
		ID:        plan.ID,
		Mode:      mode,
		Status:    string(engine.RunStatusRunning),
		StartedAt: now,
		Changes:   string(data),
		Total:     len(plan.Actions),
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// RunFinished implements engine.RunObserver.
func (s *SQLiteStore) RunFinished(ctx context.Context, result *engine.ApplyResult) error {
	s.mu.Lock()
	delete(s.seq, result.RunID)
	s.mu.Unlock()

	var errMsg *string
	if result.Err != nil {
		msg := result.Err.Error()
		errMsg = &msg
	}
	return s.CompleteRun(ctx, result.RunID, string(result.Status), result.Summary, errMsg)
}

// ActionFinished implements engine.ActionObserver. Failures are logged, never returned.
func (s *SQLiteStore) ActionFinished(ctx context.Context, runID string, action *engine.Action, elapsed time.Duration) {
	s.mu.Lock()
	s.seq[runID]++
	seq := s.seq[runID]
	s.mu.Unlock()

	var reason *string
	if action.Status.Reason != "" {
		r := action.Status.Reason
		reason = &r
	}

	rec := &ActionRecord{
		RunID:       runID,
		Seq:         seq,
		Project:     action.Project,
		Phase:       action.Phase.String(),
		Kind:        action.Kind.Name(),
		Description: action.Kind.Describe(),
		Status:      string(action.Status.State),
		Reason:      reason,
		DurationMS:  elapsed.Milliseconds(),
		RecordedAt:  time.Now(),
	}
	if err := s.AppendActionResult(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("run_id", runID).Str("project", action.Project).
			Msg("Failed to record action result")
	}
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
