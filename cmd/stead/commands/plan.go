package commands

import (
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var showDiff bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the actions the next apply would run",
		Long: `Compare the project definitions with the state saved by the last apply
and print the resulting plan.

The plan lists:
  - added, changed and removed projects
  - unchanged projects whose last apply failed and will be retried
  - every action in execution order

Nothing is executed and the state file is not written.`,
		Example: `  # Plan every project
  stead plan

  # Plan the web projects and show what changed in their definitions
  stead plan -p 'web-*' --diff`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.reconciler(cmd.Context(), runOptions{dryRun: true})
			if err != nil {
				return err
			}

			plan, err := a.plan(cmd.Context(), rec)
			if err != nil {
				return err
			}

			a.printer.Plan(plan, showDiff)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showDiff, "diff", false, "show definition diffs for changed projects")

	return cmd
}
