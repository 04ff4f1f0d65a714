package commands

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stead/pkg/handlers"
)

func newCleanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove project artifacts",
		Long: `Remove <root>/artifacts/<name> for the declared projects, or for the
projects selected with --project.

State is left untouched, so the next apply only rebuilds projects whose
definitions changed or whose last apply failed.`,
		Example: `  # Remove the artifacts of every project
  stead clean

  # Remove one project's artifacts
  stead clean -p api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			snapshot, err := a.loader.Load()
			if err != nil {
				return err
			}
			previous, err := a.state.Load(cmd.Context())
			if err != nil {
				return err
			}
			filter, err := a.filter(snapshot.Projects, previous)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(snapshot.Projects))
			for name := range snapshot.Projects {
				if filter == nil || filter.Contains(name) {
					names = append(names, name)
				}
			}
			sort.Strings(names)

			fs := handlers.LocalFS{}
			out := cmd.OutOrStdout()
			for _, name := range names {
				dir := snapshot.Projects[name].ArtifactDir(a.cfg.Root)
				if _, err := os.Stat(dir); err != nil {
					continue
				}
				if err := fs.Remove(dir); err != nil {
					return fmt.Errorf("failed to remove artifacts of %s: %w", name, err)
				}
				fmt.Fprintf(out, "✓ Removed %s\n", dir)
			}
			return nil
		},
	}

	return cmd
}
