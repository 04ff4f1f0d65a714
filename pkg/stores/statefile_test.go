package stores

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/stead/pkg/engine"
)

func newTestStateFile(t *testing.T) *StateFile {
	t.Helper()
	root := t.TempDir()
	return NewStateFile(filepath.Join(root, "state.json"), root, zerolog.Nop())
}

func TestStateFile_MissingFileIsEmpty(t *testing.T) {
	f := newTestStateFile(t)

	snapshot, err := f.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snapshot.Projects)
	assert.Equal(t, filepath.Dir(f.Path()), snapshot.Root)
}

func TestStateFile_CorruptFileIsEmpty(t *testing.T) {
	f := newTestStateFile(t)
	require.NoError(t, os.WriteFile(f.Path(), []byte("{not json"), 0o644))

	snapshot, err := f.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snapshot.Projects)
}

func TestStateFile_RoundTrip(t *testing.T) {
	f := newTestStateFile(t)
	ctx := context.Background()

	web := &engine.Project{
		Name:   "web",
		Source: engine.GitSource("https://example.com/web.git"),
		Deps:   map[string][]string{"nix": {"nodejs", "yarn"}},
		Phases: engine.Phases{
			Setup: []string{"yarn install"},
			Build: []string{"yarn build"},
			Start: []string{"yarn start"},
		},
		Env:            map[string]string{"PORT": "8080"},
		Service:        engine.ServiceConfig{Autostart: false, RestartOn: engine.RestartOnFailure},
		DefinitionDir:  "/srv/stead/projects",
		DefinitionFile: "/srv/stead/projects/web.toml",
		Status: engine.ProjectStatus{
			Outcome:     engine.OutcomeFailed,
			FailedPhase: engine.PhaseBuild,
			Reason:      "exit status 2",
			AppliedAt:   time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		},
	}
	worker := &engine.Project{Name: "worker", Source: engine.NoSource(), Service: engine.DefaultServiceConfig()}

	in := &engine.Snapshot{Root: "/srv/stead", Projects: map[string]*engine.Project{"web": web, "worker": worker}}
	require.NoError(t, f.Save(ctx, in))

	out, err := f.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, in.Root, out.Root)
	require.Len(t, out.Projects, 2)
	assert.Equal(t, web, out.Projects["web"])
	assert.True(t, worker.Equal(out.Projects["worker"]))
}

func TestStateFile_EmptySnapshotRoundTrip(t *testing.T) {
	f := newTestStateFile(t)
	ctx := context.Background()

	require.NoError(t, f.Save(ctx, engine.NewSnapshot("/srv/stead")))

	out, err := f.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/srv/stead", out.Root)
	assert.NotNil(t, out.Projects)
	assert.Empty(t, out.Projects)
}

func TestStateFile_SaveReplacesWholeFile(t *testing.T) {
	f := newTestStateFile(t)
	ctx := context.Background()

	first := engine.NewSnapshot("/r")
	first.Projects["a"] = &engine.Project{Name: "a"}
	first.Projects["b"] = &engine.Project{Name: "b"}
	require.NoError(t, f.Save(ctx, first))

	second := engine.NewSnapshot("/r")
	second.Projects["b"] = &engine.Project{Name: "b"}
	require.NoError(t, f.Save(ctx, second))

	out, err := f.Load(ctx)
	require.NoError(t, err)
	assert.NotContains(t, out.Projects, "a")
	assert.Contains(t, out.Projects, "b")

	entries, err := os.ReadDir(filepath.Dir(f.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestStateFile_UnknownVersionIsEmpty(t *testing.T) {
	f := newTestStateFile(t)
	require.NoError(t, os.WriteFile(f.Path(), []byte(`{"version": 99, "projects": {"a": {"name": "a"}}}`), 0o644))

	out, err := f.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.Projects)
}
