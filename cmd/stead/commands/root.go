package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	rootDir         string
	configPath      string
	projectPatterns []string
	verbose         bool

	appVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stead",
		Short: "stead - reconcile locally hosted projects",
		Long: `stead keeps a set of developer-hosted projects in the state their
definitions describe.

Each run compares the definitions under <root>/projects with the state saved by
the previous run, plans the side effects needed to close the gap, executes them
in phase order and saves the new state:
  - sources are copied, cloned or unpacked into <root>/artifacts
  - setup, build and start commands run inside a nix-shell
  - services are installed as systemd user units
  - a failing project never blocks the others`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	appVersion = version

	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "r", ".", "working root holding projects, artifacts and state")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default <root>/stead.yaml)")
	rootCmd.PersistentFlags().StringArrayVarP(&projectPatterns, "project", "p", nil, "limit to projects matching a glob pattern (repeatable)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newCleanCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
