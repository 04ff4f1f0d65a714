package commands

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stead/pkg/engine"
	"github.com/openfroyo/stead/pkg/handlers"
)

func newStatusCommand() *cobra.Command {
	var noUnits bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the applied state of every project",
		Long: `Show the state saved by the last apply next to the current definitions.

For each project the outcome of its last apply is listed with the phase and
reason of any failure. Projects with a service also show the live unit state
reported by systemctl, unless --no-units or safe mode is set.`,
		Example: `  # Show every project
  stead status

  # Show the api project without querying systemd
  stead status -p api --no-units`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			previous, err := a.state.Load(cmd.Context())
			if err != nil {
				return err
			}

			declared := map[string]*engine.Project{}
			if snapshot, err := a.loader.Load(); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to load definitions, showing saved state only")
			} else {
				declared = snapshot.Projects
			}

			filter, err := a.filter(declared, previous)
			if err != nil {
				return err
			}

			names := map[string]struct{}{}
			for name := range declared {
				names[name] = struct{}{}
			}
			for name := range previous.Projects {
				names[name] = struct{}{}
			}
			sorted := make([]string, 0, len(names))
			for name := range names {
				if filter == nil || filter.Contains(name) {
					sorted = append(sorted, name)
				}
			}
			sort.Strings(sorted)

			if len(sorted) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects.")
				return nil
			}

			var systemctl *handlers.Systemctl
			if !noUnits && !a.cfg.SafeMode {
				systemctl = handlers.NewSystemctl(a.logger)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROJECT\tDEFINITION\tLAST APPLY\tAPPLIED\tUNIT\tDETAIL")
			for _, name := range sorted {
				applied := previous.Projects[name]
				current := declared[name]

				definition := "in sync"
				switch {
				case applied == nil:
					definition = "not applied"
				case current == nil:
					definition = "removed"
				case !current.Equal(applied):
					definition = "changed"
				}

				outcome, when, detail := "-", "-", ""
				if applied != nil {
					if applied.Status.Outcome != engine.OutcomeNone {
						outcome = string(applied.Status.Outcome)
					}
					if !applied.Status.AppliedAt.IsZero() {
						when = humanize.Time(applied.Status.AppliedAt)
					}
					if applied.Status.Failed() {
						detail = fmt.Sprintf("%s: %s", applied.Status.FailedPhase, applied.Status.Reason)
					}
				}

				unit := "-"
				project := current
				if project == nil {
					project = applied
				}
				if systemctl != nil && project.HasService() {
					st := systemctl.Status(cmd.Context(), project.UnitName())
					unit = unitSummary(st)
				}

				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", name, definition, outcome, when, unit, firstLine(detail))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&noUnits, "no-units", false, "do not query systemctl for unit state")

	return cmd
}

func unitSummary(st *handlers.UnitStatus) string {
	if st.Active == "" {
		return "unknown"
	}
	s := st.Active
	if st.SubState != "" && st.SubState != st.Active {
		s += "/" + st.SubState
	}
	if st.Enabled {
		s += ", enabled"
	}
	return s
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

