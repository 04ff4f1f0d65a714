package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded apply runs",
		Long: `List the apply runs recorded in the history database, newest first.

With a run ID, list the actions of that run in execution order with their
status and duration.`,
		Example: `  # List the last 20 runs
  stead history

  # Show the actions of one run
  stead history 6f1c2a4e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.cfg.History.Enabled {
				return fmt.Errorf("run history is disabled (history.enabled is false)")
			}

			history, err := a.openHistory(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			if len(args) == 1 {
				run, err := history.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				records, err := history.ListActionResults(cmd.Context(), run.ID)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Run %s (%s, %s) started %s\n\n",
					run.ID, run.Mode, run.Status, humanize.Time(run.StartedAt))
				fmt.Fprintln(w, "#\tPHASE\tPROJECT\tSTATUS\tDURATION\tACTION")
				for _, r := range records {
					status := r.Status
					if r.Reason != nil && *r.Reason != "" {
						status += ": " + firstLine(*r.Reason)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
						r.Seq, r.Phase, r.Project, status,
						time.Duration(r.DurationMS)*time.Millisecond, r.Description)
				}
				return w.Flush()
			}

			runs, err := history.ListRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			fmt.Fprintln(w, "RUN\tMODE\tSTATUS\tSTARTED\tDURATION\tDONE\tFAILED\tCANCELLED")
			for _, r := range runs {
				duration := "-"
				if r.CompletedAt != nil {
					duration = r.Duration().Round(time.Millisecond).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
					r.ID, r.Mode, r.Status, humanize.Time(r.StartedAt), duration,
					r.Done, r.Failed, r.Cancelled)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")

	return cmd
}
