package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		watch           bool
		cleanupInterval bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the history core until interrupted",
		Long: `Run the history core: consume mutation events, keep the fuzzy
index warm, persist index snapshots, and enforce retention limits.
Stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			ctx := cmd.Context()
			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				e.engine.Run(ctx)
				return nil
			})

			if watch {
				if err := e.engine.Watch(ctx, e.cfg.DatabasePath()); err != nil {
					return fmt.Errorf("start store watcher: %w", err)
				}
			}

			if cleanupInterval {
				g.Go(func() error {
					return runRetentionLoop(ctx, e)
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "scopyd serving from %s\n", e.cfg.Storage.DataDir)
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", true, "Watch the store file for external replacement")
	cmd.Flags().BoolVar(&cleanupInterval, "retention", true, "Enforce retention limits periodically")
	return cmd
}
