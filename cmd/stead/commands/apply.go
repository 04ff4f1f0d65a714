package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newApplyCommand() *cobra.Command {
	var (
		dryRun   bool
		safeMode bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile projects with their definitions",
		Long: `Plan and execute the actions that bring every project in line with its
definition, then save the new state.

Actions run one at a time in phase order: teardown, setup, update, build,
start, stop. A failing action cancels the remaining actions of its project
only; the project is retried on the next apply.

--safe-mode skips every systemctl call, which is useful on hosts without a
user service manager. --dry-run prints the actions without running them.`,
		Example: `  # Apply every project
  stead apply

  # Show what would run for one project
  stead apply -p api --dry-run

  # Apply without touching systemd
  stead apply --safe-mode`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Debug().
				Bool("dry_run", dryRun).
				Bool("safe_mode", safeMode || a.cfg.SafeMode).
				Strs("projects", projectPatterns).
				Msg("Applying")

			_, err = a.apply(cmd.Context(), runOptions{dryRun: dryRun, safeMode: safeMode})
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the actions without executing them")
	cmd.Flags().BoolVar(&safeMode, "safe-mode", false, "skip all service manager calls")

	return cmd
}
