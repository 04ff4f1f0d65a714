package engine

import (
	"fmt"
	"path/filepath"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// SourceKind identifies where a project's source tree comes from.
type SourceKind string

const (
	// SourceNone means the project has no source tree.
	SourceNone SourceKind = "none"
	// SourcePath copies a local directory.
	SourcePath SourceKind = "path"
	// SourceGit clones a git repository.
	SourceGit SourceKind = "git"
	// SourceZip extracts a zip archive.
	SourceZip SourceKind = "zip"
)

// Source is the origin of a project's source tree.
type Source struct {
	Kind     SourceKind `json:"kind"`
	Location string     `json:"location,omitempty"`
}

// NoSource returns a source of kind none.
func NoSource() Source { return Source{Kind: SourceNone} }

// PathSource returns a local directory source.
func PathSource(path string) Source { return Source{Kind: SourcePath, Location: path} }

// GitSource returns a git repository source.
func GitSource(url string) Source { return Source{Kind: SourceGit, Location: url} }

// ZipSource returns a zip archive source.
func ZipSource(path string) Source { return Source{Kind: SourceZip, Location: path} }

// IsNone reports whether the source has no location to acquire.
func (s Source) IsNone() bool {
	return s.Kind == "" || s.Kind == SourceNone
}

// Validate checks the source kind and location.
func (s Source) Validate() error {
	switch s.Kind {
	case "", SourceNone:
		return nil
	case SourcePath, SourceGit, SourceZip:
		if s.Location == "" {
			return fmt.Errorf("source %s requires a location", s.Kind)
		}
		return nil
	default:
		return fmt.Errorf("invalid source kind: %s", s.Kind)
	}
}

// String returns "kind:location".
func (s Source) String() string {
	if s.IsNone() {
		return string(SourceNone)
	}
	return fmt.Sprintf("%s:%s", s.Kind, s.Location)
}

// Phases holds the ordered shell commands of every lifecycle phase.
type Phases struct {
	Setup    []string `json:"setup,omitempty"`
	Update   []string `json:"update,omitempty"`
	Build    []string `json:"build,omitempty"`
	Start    []string `json:"start,omitempty"`
	Stop     []string `json:"stop,omitempty"`
	Teardown []string `json:"teardown,omitempty"`
}

// Commands returns the commands declared for phase.
func (p Phases) Commands(phase Phase) []string {
	switch phase {
	case PhaseSetup:
		return p.Setup
	case PhaseUpdate:
		return p.Update
	case PhaseBuild:
		return p.Build
	case PhaseStart:
		return p.Start
	case PhaseStop:
		return p.Stop
	case PhaseTeardown:
		return p.Teardown
	default:
		return nil
	}
}

// RestartPolicy controls when the service manager restarts a project's unit.
type RestartPolicy string

const (
	// RestartNever never restarts the unit.
	RestartNever RestartPolicy = "never"
	// RestartAlways restarts the unit whenever it exits.
	RestartAlways RestartPolicy = "always"
	// RestartOnFailure restarts the unit on a non-zero exit.
	RestartOnFailure RestartPolicy = "on-failure"
)

// Validate checks if the restart policy is valid.
func (r RestartPolicy) Validate() error {
	switch r {
	case "", RestartNever, RestartAlways, RestartOnFailure:
		return nil
	default:
		return fmt.Errorf("invalid restart policy: %s", r)
	}
}

// SystemdValue maps the policy to the unit file's Restart= value.
func (r RestartPolicy) SystemdValue() string {
	switch r {
	case RestartAlways:
		return "always"
	case RestartOnFailure:
		return "on-failure"
	default:
		return "no"
	}
}

// ServiceConfig describes how the project's unit is managed.
type ServiceConfig struct {
	// Autostart restarts the unit after a successful setup and build.
	Autostart bool `json:"autostart"`

	// RestartOn is the unit restart policy.
	RestartOn RestartPolicy `json:"restart_on"`
}

// DefaultServiceConfig returns autostart on and restart never.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{Autostart: true, RestartOn: RestartNever}
}

// NixScope is the dependency scope handed to the dependency shell.
const NixScope = "nix"

// Project is a declared, independently managed unit of work.
type Project struct {
	// Name is the unique key of the project.
	Name string `json:"name"`

	// Source is where the source tree is acquired from.
	Source Source `json:"source"`

	// Deps maps a dependency scope to ordered identifiers.
	Deps map[string][]string `json:"deps,omitempty"`

	// Phases holds the commands of every lifecycle phase.
	Phases Phases `json:"phases"`

	// Env is exported into every command run for the project.
	Env map[string]string `json:"env,omitempty"`

	// Service configures the project's unit.
	Service ServiceConfig `json:"service"`

	// DefinitionDir is the directory of the declaring file.
	// Relative path and zip sources resolve against it.
	DefinitionDir string `json:"definition_dir,omitempty"`

	// DefinitionFile is the file the project was declared in.
	DefinitionFile string `json:"definition_file,omitempty"`

	// Status is the outcome of the last apply. Excluded from equality.
	Status ProjectStatus `json:"status"`
}

var projectCompareOpts = []cmp.Option{
	cmpopts.IgnoreFields(Project{}, "Status"),
	cmpopts.EquateEmpty(),
}

// Equal reports whether two projects have the same configuration.
// Status is ignored; nil and empty collections are equal.
func (p *Project) Equal(other *Project) bool {
	if p == nil || other == nil {
		return p == other
	}
	return cmp.Equal(*p, *other, projectCompareOpts...)
}

// Diff returns a human-readable diff from other to p, empty when equal.
func (p *Project) Diff(other *Project) string {
	var a, b Project
	if other != nil {
		a = *other
	}
	if p != nil {
		b = *p
	}
	return cmp.Diff(a, b, projectCompareOpts...)
}

// NixDeps returns the identifiers of the nix dependency scope.
func (p *Project) NixDeps() []string {
	return p.Deps[NixScope]
}

// HasService reports whether the project declares start commands and thus owns a unit.
func (p *Project) HasService() bool {
	return len(p.Phases.Start) > 0
}

// ArtifactDir returns <root>/artifacts/<name>.
func (p *Project) ArtifactDir(root string) string {
	return filepath.Join(root, ArtifactsDirName, p.Name)
}

// SourceDir returns <root>/artifacts/<name>/source.
func (p *Project) SourceDir(root string) string {
	return filepath.Join(p.ArtifactDir(root), SourceDirName)
}

// UnitFile returns the path of the generated unit inside the artifact directory.
func (p *Project) UnitFile(root string) string {
	return filepath.Join(p.ArtifactDir(root), UnitFileName)
}

// UnitName returns the service manager unit name.
func (p *Project) UnitName() string {
	return UnitName(p.Name)
}

// SourceLocation resolves a path or zip location against the definition directory.
func (p *Project) SourceLocation() string {
	loc := p.Source.Location
	if p.Source.Kind == SourceGit || loc == "" || filepath.IsAbs(loc) || p.DefinitionDir == "" {
		return loc
	}
	return filepath.Join(p.DefinitionDir, loc)
}

// Validate checks the project's own fields.
func (p *Project) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if err := p.Source.Validate(); err != nil {
		return fmt.Errorf("project %s: %w", p.Name, err)
	}
	if err := p.Service.RestartOn.Validate(); err != nil {
		return fmt.Errorf("project %s: %w", p.Name, err)
	}
	return nil
}

// Snapshot is the persisted set of projects as of the last apply.
type Snapshot struct {
	// Root is the working root the snapshot belongs to.
	Root string `json:"root"`

	// Projects maps project names to the applied configuration.
	Projects map[string]*Project `json:"projects"`
}

// NewSnapshot returns an empty snapshot for root.
func NewSnapshot(root string) *Snapshot {
	return &Snapshot{Root: root, Projects: make(map[string]*Project)}
}

// Layout names under the working root.
const (
	ProjectsDirName  = "projects"
	ArtifactsDirName = "artifacts"
	SourceDirName    = "source"
	UnitFileName     = "daemon.service"
	StateFileName    = "state.json"
	HistoryFileName  = "history.db"
	PoliciesDirName  = "policies"
	ConfigFileName   = "stead.yaml"
	UnitPrefix       = "stead-proj-"
)

// UnitName returns the unit name for a project name.
func UnitName(project string) string {
	return UnitPrefix + project + ".service"
}
