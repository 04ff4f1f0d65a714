package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/stead/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	require.NoError(t, err)
	return eng
}

func validProject(name string) *engine.Project {
	return &engine.Project{
		Name:           name,
		Source:         engine.GitSource("https://example.com/" + name + ".git"),
		Deps:           map[string][]string{"nix": {"nodejs"}},
		Phases:         engine.Phases{Setup: []string{"npm ci"}, Start: []string{"npm start"}},
		Service:        engine.DefaultServiceConfig(),
		DefinitionFile: "/srv/stead/projects/" + name + ".toml",
	}
}

func TestNewEngine_LoadsBuiltins(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		assert.True(t, p.Builtin())
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"project-naming", "source-location", "non-empty-commands", "dependency-scopes"}, names)
}

func TestEvaluate_ValidProjectsPass(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.Evaluate(context.Background(), map[string]*engine.Project{
		"web":    validProject("web"),
		"worker": validProject("worker"),
	})
	require.NoError(t, err)
	assert.Empty(t, result.Violations)
	assert.True(t, result.Allowed())
	assert.NoError(t, result.Err())
	assert.Len(t, result.EvaluatedPolicies, 4)
}

func TestEvaluate_BuiltinViolations(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*engine.Project)
		policy   string
		severity Severity
	}{
		{
			name:     "uppercase name",
			mutate:   func(p *engine.Project) { p.Name = "Web" },
			policy:   "project-naming",
			severity: SeverityError,
		},
		{
			name:     "name with slash",
			mutate:   func(p *engine.Project) { p.Name = "team/web" },
			policy:   "project-naming",
			severity: SeverityError,
		},
		{
			name:     "http git url",
			mutate:   func(p *engine.Project) { p.Source = engine.GitSource("http://example.com/web.git") },
			policy:   "source-location",
			severity: SeverityError,
		},
		{
			name:     "zip without extension",
			mutate:   func(p *engine.Project) { p.Source = engine.ZipSource("web.tar.gz") },
			policy:   "source-location",
			severity: SeverityError,
		},
		{
			name:     "blank command",
			mutate:   func(p *engine.Project) { p.Phases.Build = []string{"make", "  "} },
			policy:   "non-empty-commands",
			severity: SeverityError,
		},
		{
			name:     "non-nix scope",
			mutate:   func(p *engine.Project) { p.Deps["apt"] = []string{"curl"} },
			policy:   "dependency-scopes",
			severity: SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t)
			project := validProject("web")
			tt.mutate(project)

			result, err := eng.Evaluate(context.Background(), map[string]*engine.Project{"web": project})
			require.NoError(t, err)
			require.Len(t, result.Violations, 1)

			v := result.Violations[0]
			assert.Equal(t, tt.policy, v.Policy)
			assert.Equal(t, tt.severity, v.Severity)
			assert.Equal(t, project.Name, v.Project)
			assert.Equal(t, project.DefinitionFile, v.Path)
			assert.NotEmpty(t, v.Message)
			assert.Equal(t, !tt.severity.Blocking(), result.Allowed())
		})
	}
}

func TestEvaluate_AcceptedGitURLs(t *testing.T) {
	eng := newTestEngine(t)

	for _, url := range []string{
		"https://example.com/web.git",
		"ssh://git@example.com/web.git",
		"git://example.com/web.git",
		"git@example.com:team/web.git",
	} {
		p := validProject("web")
		p.Source = engine.GitSource(url)

		result, err := eng.Evaluate(context.Background(), map[string]*engine.Project{"web": p})
		require.NoError(t, err)
		assert.Empty(t, result.Violations, url)
	}
}

func TestResult_ErrIsConfigError(t *testing.T) {
	eng := newTestEngine(t)

	bad := validProject("web")
	bad.Source = engine.ZipSource("web.rar")
	warn := validProject("api")
	warn.Deps["apt"] = []string{"curl"}

	result, err := eng.Evaluate(context.Background(), map[string]*engine.Project{"web": bad, "api": warn})
	require.NoError(t, err)

	assert.Len(t, result.Errors(), 1)
	assert.Len(t, result.Warnings(), 1)
	assert.Equal(t, "api", result.Violations[0].Project, "violations are ordered by project")

	err = result.Err()
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 1)

	var engErr *engine.EngineError
	require.ErrorAs(t, merr.Errors[0], &engErr)
	assert.True(t, engine.IsConfig(engErr))
	assert.Equal(t, engine.ErrCodePolicyViolation, engErr.Code)
	assert.Equal(t, "web", engErr.Project)
	assert.Equal(t, bad.DefinitionFile, engErr.Path)
}

func TestLoadPolicies_UserPolicy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "no-path-sources.rego"), []byte(`# Path sources are not allowed on this host.
package stead.policies.local

import rego.v1

deny contains "path sources are not allowed" if {
	input.project.source.kind == "path"
}
`), 0o644))

	eng := newTestEngine(t)
	require.NoError(t, eng.LoadPolicies(context.Background(), []string{dir, filepath.Join(dir, "missing")}))

	policies := eng.ListPolicies()
	require.Len(t, policies, 5)
	user := policies[4]
	assert.Equal(t, "no-path-sources", user.Name)
	assert.False(t, user.Builtin())
	assert.Equal(t, "Path sources are not allowed on this host.", user.Description)

	p := validProject("web")
	p.Source = engine.PathSource("../web")

	result, err := eng.Evaluate(context.Background(), map[string]*engine.Project{"web": p})
	require.NoError(t, err)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "path sources are not allowed", result.Violations[0].Message)
	assert.Equal(t, SeverityError, result.Violations[0].Severity)
	assert.False(t, result.Allowed())
}

func TestLoadPolicies_InvalidRego(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.rego")
	require.NoError(t, os.WriteFile(path, []byte("package broken\n\ndeny contains if {"), 0o644))

	err := newTestEngine(t).LoadPolicies(context.Background(), []string{dir})
	require.Error(t, err)
	assert.True(t, engine.IsConfig(err))
	assert.Contains(t, err.Error(), path)
}

func TestLoader_SkipsTestFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.rego"), []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_test.rego"), []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# notes"), 0o644))

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths([]string{dir})
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "a", policies[0].Name)
	assert.Equal(t, filepath.Join(dir, "a.rego"), policies[0].Source)
}
