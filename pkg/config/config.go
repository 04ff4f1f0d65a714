package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/stead/pkg/engine"
	"github.com/openfroyo/stead/pkg/handlers"
	"github.com/openfroyo/stead/pkg/telemetry"
)

// SafeModeEnv forces safe mode when set to a true value.
const SafeModeEnv = "STEAD_SAFE_MODE"

// Config is the tool configuration read from <root>/stead.yaml.
type Config struct {
	// Root is the working root. Set by Load, never read from the file.
	Root string `yaml:"-"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `yaml:"-"`

	// NixShellPath is the dependency shell binary.
	NixShellPath string `yaml:"nix_shell_path" validate:"required"`

	// UnitDir is where units are installed for the per-user service manager.
	UnitDir string `yaml:"unit_dir" validate:"required"`

	// SafeMode skips every service manager call.
	SafeMode bool `yaml:"safe_mode"`

	// RetryFailed re-plans unchanged projects whose last apply failed.
	RetryFailed bool `yaml:"retry_failed"`

	History HistoryConfig `yaml:"history"`

	Policy PolicyConfig `yaml:"policy"`

	Telemetry telemetry.Config `yaml:"telemetry"`
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path defaults to <root>/history.db. Relative paths resolve against the root.
	Path string `yaml:"path"`
}

// PolicyConfig configures definition admission policies.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`

	// Paths are extra .rego files or directories, in addition to <root>/policies.
	Paths []string `yaml:"paths"`
}

// Default returns the configuration used when no stead.yaml exists.
func Default(root string) *Config {
	return &Config{
		Root:         root,
		NixShellPath: handlers.DefaultNixShell,
		UnitDir:      DefaultUnitDir(),
		RetryFailed:  true,
		History:      HistoryConfig{Enabled: true},
		Policy:       PolicyConfig{Enabled: true},
		Telemetry:    *telemetry.DefaultConfig(),
	}
}

// DefaultUnitDir returns $XDG_CONFIG_HOME/systemd/user, falling back to
// ~/.config/systemd/user.
func DefaultUnitDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "systemd", "user")
	}
	home, err := homedir.Dir()
	if err != nil {
		return filepath.Join(".config", "systemd", "user")
	}
	return filepath.Join(home, ".config", "systemd", "user")
}

// Load reads the configuration for root. An empty path means
// <root>/stead.yaml; a missing file yields the defaults.
func Load(root, path string) (*Config, error) {
	cfg := Default(root)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(root, engine.ConfigFileName)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.decode(data); err != nil {
			return nil, engine.NewConfigError("failed to parse configuration", err).WithPath(path)
		}
		cfg.Path = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, engine.NewConfigError("failed to read configuration", err).WithPath(path)
	}

	if isTrue(os.Getenv(SafeModeEnv)) {
		cfg.SafeMode = true
	}

	if err := cfg.resolve(); err != nil {
		return nil, engine.NewConfigError("invalid configuration", err).WithPath(path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, engine.NewConfigError("invalid configuration", err).WithPath(path)
	}

	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// resolve expands ~ and makes root-relative paths absolute.
func (c *Config) resolve() error {
	var err error
	expand := func(p string) string {
		if p == "" || err != nil {
			return p
		}
		var out string
		out, err = homedir.Expand(p)
		return out
	}

	c.NixShellPath = expand(c.NixShellPath)
	c.UnitDir = expand(c.UnitDir)
	c.History.Path = expand(c.History.Path)
	c.Telemetry.Metrics.Textfile = expand(c.Telemetry.Metrics.Textfile)
	for i, p := range c.Policy.Paths {
		c.Policy.Paths[i] = c.rooted(expand(p))
	}
	if err != nil {
		return err
	}

	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.Root, engine.HistoryFileName)
	}
	c.History.Path = c.rooted(c.History.Path)
	if c.Telemetry.Metrics.Textfile != "" {
		c.Telemetry.Metrics.Textfile = c.rooted(c.Telemetry.Metrics.Textfile)
	}
	return nil
}

func (c *Config) rooted(p string) string {
	if filepath.IsAbs(p) || c.Root == "" {
		return p
	}
	return filepath.Join(c.Root, p)
}

var configValidator = validator.New()

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return c.Telemetry.Validate()
}

// StatePath returns <root>/state.json.
func (c *Config) StatePath() string {
	return filepath.Join(c.Root, engine.StateFileName)
}

// ProjectsDir returns <root>/projects.
func (c *Config) ProjectsDir() string {
	return filepath.Join(c.Root, engine.ProjectsDirName)
}

// PolicyPaths returns <root>/policies followed by the configured extra paths.
func (c *Config) PolicyPaths() []string {
	paths := []string{filepath.Join(c.Root, engine.PoliciesDirName)}
	return append(paths, c.Policy.Paths...)
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
