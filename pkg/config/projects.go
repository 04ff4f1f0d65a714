package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/stead/pkg/engine"
)

// Definition is one project definition file as written by the user.
// Source and phase commands accept several shapes and are normalized by ToProject.
type Definition struct {
	Name    string              `toml:"name" yaml:"name" json:"name" validate:"required"`
	Source  any                 `toml:"source" yaml:"source" json:"source"`
	Deps    map[string][]string `toml:"deps" yaml:"deps" json:"deps"`
	Env     map[string]string   `toml:"env" yaml:"env" json:"env"`
	Phase   PhaseDefinition     `toml:"phase" yaml:"phase" json:"phase"`
	Service *ServiceDefinition  `toml:"service" yaml:"service" json:"service"`
}

// PhaseDefinition holds the commands of each phase, each a string or a list of strings.
type PhaseDefinition struct {
	Setup    any `toml:"setup" yaml:"setup" json:"setup"`
	Update   any `toml:"update" yaml:"update" json:"update"`
	Build    any `toml:"build" yaml:"build" json:"build"`
	Start    any `toml:"start" yaml:"start" json:"start"`
	Stop     any `toml:"stop" yaml:"stop" json:"stop"`
	Teardown any `toml:"teardown" yaml:"teardown" json:"teardown"`
}

// ServiceDefinition configures the project's unit.
type ServiceDefinition struct {
	Autostart *bool  `toml:"autostart" yaml:"autostart" json:"autostart"`
	RestartOn string `toml:"restart-on" yaml:"restart-on" json:"restart-on" validate:"omitempty,oneof=never always on-failure"`
}

// ToProject normalizes the definition into a project declared in file.
func (d *Definition) ToProject(file string) (*engine.Project, error) {
	source, err := parseSource(d.Source)
	if err != nil {
		return nil, err
	}

	var phases engine.Phases
	for _, field := range []struct {
		name string
		raw  any
		dst  *[]string
	}{
		{"setup", d.Phase.Setup, &phases.Setup},
		{"update", d.Phase.Update, &phases.Update},
		{"build", d.Phase.Build, &phases.Build},
		{"start", d.Phase.Start, &phases.Start},
		{"stop", d.Phase.Stop, &phases.Stop},
		{"teardown", d.Phase.Teardown, &phases.Teardown},
	} {
		cmds, err := parseCommands(field.raw)
		if err != nil {
			return nil, fmt.Errorf("phase.%s: %w", field.name, err)
		}
		*field.dst = cmds
	}

	service := engine.DefaultServiceConfig()
	if d.Service != nil {
		if d.Service.Autostart != nil {
			service.Autostart = *d.Service.Autostart
		}
		if d.Service.RestartOn != "" {
			service.RestartOn = engine.RestartPolicy(d.Service.RestartOn)
		}
	}

	project := &engine.Project{
		Name:           d.Name,
		Source:         source,
		Deps:           d.Deps,
		Phases:         phases,
		Env:            d.Env,
		Service:        service,
		DefinitionDir:  filepath.Dir(file),
		DefinitionFile: file,
	}
	if err := project.Validate(); err != nil {
		return nil, err
	}
	return project, nil
}

// parseSource accepts "none", or a table with exactly one of path, git or zip.
func parseSource(raw any) (engine.Source, error) {
	switch v := raw.(type) {
	case nil:
		return engine.NoSource(), nil
	case string:
		if v == "" || v == string(engine.SourceNone) {
			return engine.NoSource(), nil
		}
		return engine.Source{}, fmt.Errorf("source: expected \"none\" or a table with path, git or zip, got %q", v)
	case map[string]any:
		if len(v) != 1 {
			return engine.Source{}, fmt.Errorf("source: expected exactly one of path, git or zip")
		}
		for key, value := range v {
			loc, ok := value.(string)
			if !ok || loc == "" {
				return engine.Source{}, fmt.Errorf("source.%s: expected a non-empty string", key)
			}
			switch engine.SourceKind(key) {
			case engine.SourcePath:
				return engine.PathSource(loc), nil
			case engine.SourceGit:
				return engine.GitSource(loc), nil
			case engine.SourceZip:
				return engine.ZipSource(loc), nil
			default:
				return engine.Source{}, fmt.Errorf("source: unknown kind %q", key)
			}
		}
	}
	return engine.Source{}, fmt.Errorf("source: unsupported value of type %T", raw)
}

// parseCommands accepts a single command string or a list of strings.
func parseCommands(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		cmds := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("command %d: expected a string, got %T", i, item)
			}
			cmds = append(cmds, s)
		}
		return cmds, nil
	default:
		return nil, fmt.Errorf("expected a string or a list of strings, got %T", raw)
	}
}

// Loader discovers and parses project definitions under <root>/projects.
type Loader struct {
	root     string
	logger   zerolog.Logger
	validate *validator.Validate
	cue      *cueDecoder
}

// NewLoader creates a loader for the working root.
func NewLoader(root string, logger zerolog.Logger) *Loader {
	return &Loader{
		root:     root,
		logger:   logger.With().Str("component", "definitions").Logger(),
		validate: validator.New(),
		cue:      newCUEDecoder(),
	}
}

// Extensions lists the definition formats the loader understands.
var Extensions = []string{".toml", ".yaml", ".yml", ".cue"}

// IsDefinitionFile reports whether path has a definition extension.
func IsDefinitionFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ProjectsDir returns <root>/projects.
func (l *Loader) ProjectsDir() string {
	return filepath.Join(l.root, engine.ProjectsDirName)
}

// Discover returns every definition file under the projects directory, sorted.
// A missing directory yields no files.
func (l *Loader) Discover() ([]string, error) {
	dir := l.ProjectsDir()

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if IsDefinitionFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	sort.Strings(files)
	return files, nil
}

// Load parses every definition into a snapshot of declared projects.
// All malformed files and duplicate names are reported together.
func (l *Loader) Load() (*engine.Snapshot, error) {
	files, err := l.Discover()
	if err != nil {
		return nil, engine.NewConfigError("failed to discover project definitions", err).WithPath(l.ProjectsDir())
	}

	snapshot := engine.NewSnapshot(l.root)
	var result *multierror.Error

	for _, file := range files {
		project, err := l.LoadFile(file)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		if existing, ok := snapshot.Projects[project.Name]; ok {
			result = multierror.Append(result, engine.NewConfigError(
				fmt.Sprintf("duplicate project name, first declared in %s", existing.DefinitionFile), nil,
			).WithCode(engine.ErrCodeDuplicate).WithPath(file).WithProject(project.Name))
			continue
		}
		snapshot.Projects[project.Name] = project
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	l.logger.Debug().
		Int("files", len(files)).
		Int("projects", len(snapshot.Projects)).
		Msg("Loaded project definitions")

	return snapshot, nil
}

// LoadFile parses a single definition file.
func (l *Loader) LoadFile(path string) (*engine.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigError("failed to read definition", err).WithPath(path)
	}

	def, err := l.decode(path, data)
	if err != nil {
		return nil, engine.NewConfigError("malformed definition", err).WithPath(path)
	}

	if err := l.validate.Struct(def); err != nil {
		return nil, engine.NewConfigError("invalid definition", err).WithPath(path)
	}

	project, err := def.ToProject(path)
	if err != nil {
		return nil, engine.NewConfigError("invalid definition", err).WithPath(path).WithProject(def.Name)
	}
	return project, nil
}

func (l *Loader) decode(path string, data []byte) (*Definition, error) {
	var def Definition

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("empty definition")
			}
			return nil, err
		}
	case ".cue":
		if err := l.cue.Decode(path, data, &def); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported definition format: %s", filepath.Ext(path))
	}

	return &def, nil
}
