package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stead/pkg/engine"
	"github.com/openfroyo/stead/pkg/handlers"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <project>",
		Short: "Run a project's start commands in the foreground",
		Long: `Run the start commands of a project inside its nix-shell, attached to the
terminal, from the project's source directory.

Generated service units use this command as their ExecStart, so the exit
code of the start commands is the exit code of stead.`,
		Example: `  # Run the web project in the foreground
  stead run web`,
		Args: cobra.ExactArgs(1),
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

			name := args[0]
			project, ok := snapshot.Projects[name]
			if !ok {
				return engine.NewConfigError(fmt.Sprintf("project %q is not declared", name), nil).WithProject(name)
			}
			if !project.HasService() {
				return engine.NewConfigError("project has no start commands", nil).WithProject(name)
			}

			a.logger.Info().Str("project", name).Msg("Running start commands")

			runner := handlers.NewNixRunner(a.cfg.NixShellPath, a.logger)
			result, err := runner.Shell(cmd.Context(), engine.ShellRequest{
				Dir:         project.SourceDir(a.cfg.Root),
				Deps:        project.NixDeps(),
				Commands:    project.Phases.Start,
				Env:         project.Env,
				Interactive: true,
			})
			if err != nil {
				return engine.NewExecutionError("failed to start project", err).
					WithCode(engine.ErrCodeSpawnFailed).WithProject(name)
			}
			if !result.Success() {
				return fmt.Errorf("project %s exited with code %d", name, result.ExitCode)
			}
			return nil
		},
	}

	return cmd
}
