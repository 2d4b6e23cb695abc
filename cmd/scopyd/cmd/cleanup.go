package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Suehn/Scopy-sub006/internal/store"
)

func newCleanupCmd() *cobra.Command {
	var (
		maxItems int
		maxBytes int64
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Evict old unpinned items beyond the retention limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			policy := store.CleanupPolicy{
				MaxItems:      e.cfg.Storage.MaxItems,
				MaxTotalBytes: e.cfg.Storage.MaxTotalBytes,
			}
			if maxItems > 0 {
				policy.MaxItems = maxItems
			}
			if maxBytes > 0 {
				policy.MaxTotalBytes = maxBytes
			}

			evicted, err := e.store.Cleanup(cmd.Context(), policy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Evicted %d item(s)\n", evicted)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxItems, "max-items", 0, "Override the configured item-count limit")
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "Override the configured total-size limit")
	return cmd
}
