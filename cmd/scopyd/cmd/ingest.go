package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Suehn/Scopy-sub006/internal/store"
)

func newIngestCmd() *cobra.Command {
	var (
		itemType string
		app      string
	)

	cmd := &cobra.Command{
		Use:   "ingest [text]",
		Short: "Ingest a capture into the history",
		Long: `Ingest one capture. The payload comes from the argument, or
from stdin when no argument is given. Duplicate content bumps the
existing item instead of inserting a copy.

Examples:
  scopyd ingest "kubectl get pods -A"
  pbpaste | scopyd ingest --app com.apple.Terminal`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			if len(args) > 0 {
				payload = []byte(args[0])
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				payload = data
			}
			if len(strings.TrimSpace(string(payload))) == 0 {
				return fmt.Errorf("refusing to ingest an empty capture")
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			hash := sha256.Sum256(payload)
			item := &store.ItemSummary{
				Type:        store.ItemType(itemType),
				ContentHash: hex.EncodeToString(hash[:]),
				PlainText:   string(payload),
				AppBundleID: app,
				SizeBytes:   int64(len(payload)),
			}

			res, err := e.store.Upsert(cmd.Context(), item, payload)
			if err != nil {
				return err
			}
			if res.Updated {
				fmt.Fprintf(cmd.OutOrStdout(), "Bumped existing item %s (use count %d)\n",
					res.Item.ID, res.Item.UseCount)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Ingested item %s\n", res.Item.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&itemType, "type", "t", string(store.TypeText), "Item type")
	cmd.Flags().StringVar(&app, "app", "", "Origin app bundle id")

	return cmd
}
