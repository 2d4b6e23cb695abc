package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Suehn/Scopy-sub006/internal/search"
	"github.com/Suehn/Scopy-sub006/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	mode   string
	sort   string
	limit  int
	offset int
	app    string
	types  []string
	full   bool
	format string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the clipboard history",
		Long: `Search the clipboard history. An empty query browses recent
items; otherwise the mode selects the query interpretation.

Examples:
  scopyd search "deploy token" --mode fuzzy
  scopyd search "cm note" --mode fuzzyPlus
  scopyd search '^https?://' --mode regex
  scopyd search err --mode exact --app com.apple.Terminal
  scopyd search config --full --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) > 0 {
				query = args[0]
			}
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "fuzzy", "Query mode: exact, fuzzy, fuzzyPlus, regex")
	cmd.Flags().StringVar(&opts.sort, "sort", "relevance", "Sort order: relevance, recent")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (0 = default)")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Result offset for paging")
	cmd.Flags().StringVar(&opts.app, "app", "", "Filter by origin app bundle id")
	cmd.Flags().StringSliceVarP(&opts.types, "type", "t", nil, "Filter by item type (repeatable)")
	cmd.Flags().BoolVar(&opts.full, "full", false, "Force the exact full-corpus fuzzy path")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	req := search.Request{
		Query:          query,
		Mode:           search.Mode(opts.mode),
		SortMode:       search.SortMode(opts.sort),
		AppFilter:      opts.app,
		ForceFullFuzzy: opts.full,
		Limit:          opts.limit,
		Offset:         opts.offset,
	}
	for _, t := range opts.types {
		req.TypeFilters = append(req.TypeFilters, store.ItemType(t))
	}

	page, err := e.engine.Search(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}

	if len(page.Items) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	for i, it := range page.Items {
		marker := " "
		if it.IsPinned {
			marker = "*"
		}
		fmt.Fprintf(out, "%3d %s [%s] %s\n", opts.offset+i+1, marker, it.Type, preview(it.PlainText))
	}
	switch {
	case page.IsPrefilter:
		fmt.Fprintln(out, "-- approximate page; rerun with --full for the exact result")
	case page.Total >= 0:
		fmt.Fprintf(out, "-- %d match(es)\n", page.Total)
	}
	return nil
}

// preview collapses a payload to one display line.
func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	const max = 80
	runes := []rune(text)
	if len(runes) > max {
		return string(runes[:max-1]) + "…"
	}
	return text
}
