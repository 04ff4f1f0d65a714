package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/stead/pkg/engine"
)

// setupTestStore creates a migrated SQLite store in a temp directory
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations are idempotent")
	require.NoError(t, store.Close())
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	assert.Error(t, err)
}

func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	run := &Run{
		ID:        "run-1",
		Mode:      RunModeApply,
		Status:    string(engine.RunStatusRunning),
		StartedAt: now,
		Changes:   `{"web":"added"}`,
		Total:     3,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunModeApply, got.Mode)
	assert.Equal(t, "running", got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, 3, got.Total)

	msg := "daemon-reload failed"
	require.NoError(t, store.CompleteRun(ctx, "run-1", string(engine.RunStatusPartial),
		engine.ApplySummary{Total: 3, Done: 2, Failed: 1}, &msg))

	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "partial", got.Status)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Error)
	assert.Equal(t, msg, *got.Error)
	assert.Equal(t, 2, got.Done)
	assert.Equal(t, 1, got.Failed)

	assert.Error(t, store.CompleteRun(ctx, "missing", "failed", engine.ApplySummary{}, nil))

	_, err = store.GetRun(ctx, "missing")
	assert.Error(t, err)

	require.NoError(t, store.DeleteRun(ctx, "run-1"))
	assert.Error(t, store.DeleteRun(ctx, "run-1"))
}

func TestListRunsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"old", "mid", "new"} {
		at := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.CreateRun(ctx, &Run{
			ID: id, Mode: RunModeApply, Status: "succeeded", StartedAt: at,
			Changes: "{}", CreatedAt: at, UpdatedAt: at,
		}))
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "mid", runs[1].ID)
}

func TestObserverRecordsRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	setup := engine.NewAction("web", engine.PhaseSetup, engine.ShellCommand{Commands: []string{"npm ci"}})
	start := engine.NewAction("web", engine.PhaseStart, engine.ServiceControl{Op: engine.ServiceRestart, Unit: "stead-proj-web.service"})
	plan := &engine.Plan{
		ID:      "plan-1",
		Changes: map[string]engine.ConfigChange{"web": engine.ChangeAdded},
		Actions: []*engine.Action{setup, start},
	}

	require.NoError(t, store.RunStarted(ctx, plan, false))

	setup.MarkFailed("npm ERR! missing script")
	store.ActionFinished(ctx, plan.ID, setup, 1500*time.Millisecond)
	start.MarkCancelled()
	store.ActionFinished(ctx, plan.ID, start, 0)

	result := &engine.ApplyResult{
		RunID:   plan.ID,
		Status:  engine.RunStatusFailed,
		Actions: plan.Actions,
		Summary: engine.ApplySummary{Total: 2, Failed: 1, Cancelled: 1},
		Err:     errors.New("boom"),
	}
	require.NoError(t, store.RunFinished(ctx, result))

	run, err := store.GetRun(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", run.Status)
	assert.JSONEq(t, `{"web":"added"}`, run.Changes)
	assert.Equal(t, 1, run.Cancelled)

	records, err := store.ListActionResults(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Seq)
	assert.Equal(t, "setup", records[0].Phase)
	assert.Equal(t, "shell", records[0].Kind)
	assert.Equal(t, "failed", records[0].Status)
	assert.Equal(t, int64(1500), records[0].DurationMS)
	require.NotNil(t, records[0].Reason)
	assert.Equal(t, "npm ERR! missing script", *records[0].Reason)
	assert.Equal(t, "cancelled", records[1].Status)
	assert.Nil(t, records[1].Reason)

	last, err := store.LastFailure(ctx, "web")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, records[0].ID, last.ID)

	none, err := store.LastFailure(ctx, "api")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDeleteRunCascadesActions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	plan := &engine.Plan{ID: "plan-2", Changes: map[string]engine.ConfigChange{}}
	require.NoError(t, store.RunStarted(ctx, plan, true))

	a := engine.NewAction("web", engine.PhaseBuild, engine.ShellCommand{Commands: []string{"make"}})
	store.ActionFinished(ctx, plan.ID, a, 0)

	run, err := store.GetRun(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, RunModeDryRun, run.Mode)

	require.NoError(t, store.DeleteRun(ctx, plan.ID))

	records, err := store.ListActionResults(ctx, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}
