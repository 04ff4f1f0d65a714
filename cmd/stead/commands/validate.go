package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate project definitions",
		Long: `Validate every project definition under <root>/projects.

This command checks:
  - TOML, YAML and CUE syntax
  - Definition schema and field values
  - Duplicate project names
  - Admission policies (built-in and <root>/policies/*.rego)

Nothing is planned or executed.`,
		Example: `  # Validate the current root
  stead validate

  # Validate another root
  stead validate --root ~/stead`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			projects, err := a.declared(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ %d project definition(s) valid\n", len(projects))
			return nil
		},
	}

	return cmd
}
