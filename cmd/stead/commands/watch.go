package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stead/pkg/config"
	"github.com/openfroyo/stead/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	var (
		debounce time.Duration
		safeMode bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Apply whenever a project definition changes",
		Long: `Apply once, then watch <root>/projects and apply again after every change
to a definition file.

Changes arriving within the debounce window are collected into one apply.
Configuration errors are reported and the watcher keeps running.`,
		Example: `  # Watch the current root
  stead watch

  # Watch with a longer debounce window and no systemd calls
  stead watch --debounce 2s --safe-mode`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := runOptions{safeMode: safeMode}
			applyOnce := func(ctx context.Context) {
				if _, err := a.apply(ctx, opts); err != nil {
					if engine.IsConfig(err) {
						a.logger.Error().Err(err).Msg("Definitions rejected, waiting for the next change")
						return
					}
					a.logger.Error().Err(err).Msg("Apply failed")
				}
			}

			applyOnce(cmd.Context())

			watcher := config.NewWatcher(a.cfg.ProjectsDir(), debounce, a.logger)
			return watcher.Watch(cmd.Context(), func(ctx context.Context, changed []string) {
				a.logger.Info().Strs("files", changed).Msg("Definitions changed")
				applyOnce(ctx)
			})
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", config.DefaultDebounce, "quiet period before applying collected changes")
	cmd.Flags().BoolVar(&safeMode, "safe-mode", false, "skip all service manager calls")

	return cmd
}
