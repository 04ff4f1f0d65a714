package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/sys/atomicwriter"
	"github.com/rs/zerolog"

	"github.com/openfroyo/stead/pkg/engine"
)

// stateVersion is the current on-disk snapshot format.
const stateVersion = 1

// stateDocument is the on-disk envelope of a snapshot.
type stateDocument struct {
	Version  int                        `json:"version"`
	SavedAt  time.Time                  `json:"saved_at"`
	Root     string                     `json:"root"`
	Projects map[string]*engine.Project `json:"projects"`
}

// StateFile persists snapshots as a single JSON document.
// Writes replace the file atomically; a crash leaves either the old or the new file.
// It implements engine.StateStore.
type StateFile struct {
	path   string
	root   string
	logger zerolog.Logger
}

// NewStateFile creates a state file store at path for the given working root.
func NewStateFile(path, root string, logger zerolog.Logger) *StateFile {
	return &StateFile{
		path:   path,
		root:   root,
		logger: logger.With().Str("component", "state").Str("path", path).Logger(),
	}
}

// Path returns the file location.
func (f *StateFile) Path() string {
	return f.path
}

// Load reads the snapshot. A missing file yields an empty snapshot; so does an
// unparseable one, after a warning, so the next apply rebuilds everything.
func (f *StateFile) Load(_ context.Context) (*engine.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.logger.Debug().Msg("No state file, starting from an empty snapshot")
		return engine.NewSnapshot(f.root), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", f.path, err)
	}

	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		f.logger.Warn().Err(err).Msg("State file is unreadable, treating every project as new")
		return engine.NewSnapshot(f.root), nil
	}
	if doc.Version > stateVersion {
		f.logger.Warn().Int("version", doc.Version).Msg("State file has an unknown version, treating every project as new")
		return engine.NewSnapshot(f.root), nil
	}

	snapshot := &engine.Snapshot{Root: doc.Root, Projects: doc.Projects}
	if snapshot.Root == "" {
		snapshot.Root = f.root
	}
	if snapshot.Projects == nil {
		snapshot.Projects = make(map[string]*engine.Project)
	}
	for name, p := range snapshot.Projects {
		if p == nil {
			delete(snapshot.Projects, name)
			continue
		}
		if p.Name == "" {
			p.Name = name
		}
	}

	return snapshot, nil
}

// Save replaces the file with snapshot.
func (f *StateFile) Save(_ context.Context, snapshot *engine.Snapshot) error {
	if snapshot == nil {
		snapshot = engine.NewSnapshot(f.root)
	}

	doc := stateDocument{
		Version:  stateVersion,
		SavedAt:  time.Now().UTC(),
		Root:     snapshot.Root,
		Projects: snapshot.Projects,
	}
	if doc.Root == "" {
		doc.Root = f.root
	}
	if doc.Projects == nil {
		doc.Projects = make(map[string]*engine.Project)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := atomicwriter.WriteFile(f.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", f.path, err)
	}

	f.logger.Debug().Int("projects", len(doc.Projects)).Msg("State saved")
	return nil
}
