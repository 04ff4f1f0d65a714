package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// fakeCommands records every program it is asked to run.
type fakeCommands struct {
	mu       sync.Mutex
	calls    []string
	failing  map[string]string // command -> stderr
	spawnErr error
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{failing: make(map[string]string)}
}

func (f *fakeCommands) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeCommands) Shell(_ context.Context, req ShellRequest) (*CommandResult, error) {
	cmd := strings.Join(req.Commands, " && ")
	f.record("shell:" + cmd)
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	if stderr, ok := f.failing[cmd]; ok {
		return &CommandResult{ExitCode: 1, Stderr: stderr}, nil
	}
	return &CommandResult{ExitCode: 0}, nil
}

func (f *fakeCommands) GitClone(_ context.Context, url, target string) (*CommandResult, error) {
	f.record("git:" + url)
	if stderr, ok := f.failing[url]; ok {
		return &CommandResult{ExitCode: 128, Stderr: stderr}, nil
	}
	return &CommandResult{}, nil
}

func (f *fakeCommands) Unzip(_ context.Context, archive, target string) (*CommandResult, error) {
	f.record("unzip:" + archive)
	return &CommandResult{}, nil
}

// fakeFS records filesystem calls and can fail selected paths.
type fakeFS struct {
	dirs    []string
	copies  []string
	writes  map[string]string
	failing map[string]error
}

func newFakeFS() *fakeFS {
	return &fakeFS{writes: make(map[string]string), failing: make(map[string]error)}
}

func (f *fakeFS) MkdirAll(path string) error {
	if err, ok := f.failing[path]; ok {
		return err
	}
	f.dirs = append(f.dirs, path)
	return nil
}

func (f *fakeFS) Copy(src, dst string) error {
	if err, ok := f.failing[dst]; ok {
		return err
	}
	f.copies = append(f.copies, src+"->"+dst)
	return nil
}

func (f *fakeFS) WriteFile(path, content string) error {
	if err, ok := f.failing[path]; ok {
		return err
	}
	f.writes[path] = content
	return nil
}

// fakeServices records service manager calls.
type fakeServices struct {
	calls     []string
	reloadErr error
}

func (f *fakeServices) Control(_ context.Context, op ServiceOp, unit string) error {
	f.calls = append(f.calls, string(op)+" "+unit)
	return nil
}

func (f *fakeServices) DaemonReload(_ context.Context) error {
	f.calls = append(f.calls, "daemon-reload")
	return f.reloadErr
}

// observed is one action notification.
type observed struct {
	Project string
	Phase   Phase
	Kind    string
	State   ActionState
}

// recordingObserver captures the order in which actions finish.
type recordingObserver struct {
	seen []observed
}

func (r *recordingObserver) ActionFinished(_ context.Context, _ string, a *Action, _ time.Duration) {
	r.seen = append(r.seen, observed{Project: a.Project, Phase: a.Phase, Kind: a.Kind.Name(), State: a.Status.State})
}

// memoryStore keeps the snapshot in memory.
type memoryStore struct {
	snapshot *Snapshot
	saves    int
	saveErr  error
}

func (m *memoryStore) Load(_ context.Context) (*Snapshot, error) {
	if m.snapshot == nil {
		return NewSnapshot(testRoot), nil
	}
	return m.snapshot, nil
}

func (m *memoryStore) Save(_ context.Context, s *Snapshot) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.snapshot = s
	return nil
}

const (
	testRoot    = "/srv/stead"
	testUnitDir = "/home/dev/.config/systemd/user"
	testExe     = "/usr/local/bin/stead"
)

var errSpawn = errors.New("exec: \"nix-shell\": executable file not found in $PATH")

func testPlanner(retry bool) *Planner {
	return NewPlanner(PlannerConfig{
		Root:        testRoot,
		UnitDir:     testUnitDir,
		Executable:  testExe,
		RetryFailed: retry,
	}, zerolog.Nop())
}

type testHarness struct {
	commands *fakeCommands
	fs       *fakeFS
	services *fakeServices
	observer *recordingObserver
	executor *Executor
}

func newHarness(cfg ExecutorConfig) *testHarness {
	h := &testHarness{
		commands: newFakeCommands(),
		fs:       newFakeFS(),
		services: &fakeServices{},
		observer: &recordingObserver{},
	}
	if cfg.Root == "" {
		cfg.Root = testRoot
	}
	if cfg.UnitDir == "" {
		cfg.UnitDir = testUnitDir
	}
	h.executor = NewExecutor(cfg, h.commands, h.fs, h.services, zerolog.Nop(), WithObserver(h.observer))
	return h
}

// webProject is a project with a setup command and a service.
func webProject() *Project {
	return &Project{
		Name:    "web",
		Source:  NoSource(),
		Phases:  Phases{Setup: []string{"npm ci"}, Start: []string{"npm start"}},
		Service: DefaultServiceConfig(),
	}
}

func projectSet(projects ...*Project) map[string]*Project {
	set := make(map[string]*Project, len(projects))
	for _, p := range projects {
		set[p.Name] = p
	}
	return set
}
