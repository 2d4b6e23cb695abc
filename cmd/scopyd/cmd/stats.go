package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store and index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			stats, err := e.engine.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			fmt.Fprintf(out, "Items:          %d\n", stats.ItemCount)
			fmt.Fprintf(out, "Total size:     %s\n", humanBytes(stats.TotalBytes))
			fmt.Fprintf(out, "Mutations:      %d\n", stats.MutationSeq)
			fmt.Fprintf(out, "Index state:    %s\n", stats.IndexState)
			fmt.Fprintf(out, "Index slots:    %d (%d live)\n", stats.IndexSlots, stats.IndexLive)
			if stats.MaxTextLength > 0 {
				fmt.Fprintf(out, "Avg text len:   %.0f\n", stats.AvgTextLength)
				fmt.Fprintf(out, "Max text len:   %d\n", stats.MaxTextLength)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

// humanBytes formats a byte count for display.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
