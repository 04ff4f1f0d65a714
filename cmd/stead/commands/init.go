package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stead/pkg/config"
	"github.com/openfroyo/stead/pkg/engine"
)

const exampleDefinition = `# Example project. Rename or delete this file.
name = "example"
source = "none"

[phase]
start = "python3 -m http.server 8080"

[service]
autostart = false
restart-on = "on-failure"
`

func newInitCommand() *cobra.Command {
	var (
		force   bool
		example bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a stead working root",
		Long: `Initialize a working root with the projects, artifacts and policies
directories, a default stead.yaml and the run history database.

An existing stead.yaml is kept unless --force is given.`,
		Example: `  # Initialize the current directory
  stead init

  # Initialize another root with an example project
  stead init --root ~/stead --example`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(rootDir)
			if err != nil {
				return fmt.Errorf("failed to resolve root: %w", err)
			}
			out := cmd.OutOrStdout()

			log.Debug().Str("root", root).Bool("force", force).Msg("Initializing working root")
			fmt.Fprintf(out, "Initializing stead root in %s\n\n", root)

			for _, dir := range []string{
				root,
				filepath.Join(root, engine.ProjectsDirName),
				filepath.Join(root, engine.ArtifactsDirName),
				filepath.Join(root, engine.PoliciesDirName),
			} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Fprintf(out, "✓ Created directory: %s\n", dir)
			}

			cfgFile := configPath
			if cfgFile == "" {
				cfgFile = filepath.Join(root, engine.ConfigFileName)
			}
			written, err := writeIfAbsent(cfgFile, force, func() ([]byte, error) {
				return config.Default(root).Marshal()
			})
			if err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			if written {
				fmt.Fprintf(out, "✓ Created config file: %s\n", cfgFile)
			} else {
				fmt.Fprintf(out, "- Kept existing config file: %s\n", cfgFile)
			}

			if example {
				exampleFile := filepath.Join(root, engine.ProjectsDirName, "example.toml")
				written, err := writeIfAbsent(exampleFile, force, func() ([]byte, error) {
					return []byte(exampleDefinition), nil
				})
				if err != nil {
					return fmt.Errorf("failed to write example project: %w", err)
				}
				if written {
					fmt.Fprintf(out, "✓ Created example project: %s\n", exampleFile)
				}
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			history, err := a.openHistory(cmd.Context())
			if err != nil {
				return err
			}
			if history != nil {
				fmt.Fprintf(out, "✓ Initialized history database: %s\n", a.cfg.History.Path)
			}

			fmt.Fprintf(out, "\nNext steps:\n")
			fmt.Fprintf(out, "  1. Describe projects in %s\n", filepath.Join(root, engine.ProjectsDirName))
			fmt.Fprintf(out, "  2. Review the plan: stead plan --root %s\n", root)
			fmt.Fprintf(out, "  3. Apply it:        stead apply --root %s\n", root)

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	cmd.Flags().BoolVar(&example, "example", false, "write an example project definition")

	return cmd
}

// writeIfAbsent writes the rendered content to path unless the file exists
// and force is false. It reports whether the file was written.
func writeIfAbsent(path string, force bool, render func() ([]byte, error)) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}

	data, err := render()
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
