// Package cmd provides the CLI commands for scopyd, the clipboard
// history core daemon.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Suehn/Scopy-sub006/internal/config"
	"github.com/Suehn/Scopy-sub006/internal/logging"
	"github.com/Suehn/Scopy-sub006/internal/search"
	"github.com/Suehn/Scopy-sub006/internal/store"
	"github.com/Suehn/Scopy-sub006/pkg/version"
)

var (
	flagDataDir  string
	flagLogLevel string
)

// NewRootCmd creates the root command for the scopyd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scopyd",
		Short: "Clipboard history store and search core",
		Long: `scopyd owns the clipboard history database: capture ingest,
retention, and multi-mode search (exact, fuzzy, fuzzyPlus, regex).

Run 'scopyd serve' to start the daemon, or use the subcommands to
operate on the store directly.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("scopyd version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Data directory (default ~/.scopy)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI with signal-driven cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// loadConfig resolves the effective configuration: file under the data
// dir, then flag overrides on top.
func loadConfig() (*config.Config, error) {
	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = config.Default().Storage.DataDir
	}
	cfg, err := config.Load(filepath.Join(dataDir, "config.yaml"))
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.Storage.DataDir = flagDataDir
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	return cfg, nil
}

// env bundles the opened core components for a command invocation.
type env struct {
	cfg    *config.Config
	store  *store.Store
	reader *store.Reader
	engine *search.Engine

	cleanups []func()
}

// openEnv opens the store, the read-only companion connection, and the
// search engine for the configured data directory.
func openEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg}

	logCleanup, err := logging.SetupDefault(cfg.Storage.DataDir, cfg.Logging.Level)
	if err != nil {
		// File logging is not worth refusing to run over, but say so.
		fmt.Fprintf(os.Stderr, "Warning: file logging disabled: %v\n", err)
	} else {
		e.cleanups = append(e.cleanups, logCleanup)
	}

	st, err := store.Open(store.Options{
		Path:             cfg.DatabasePath(),
		PayloadDir:       cfg.PayloadDir(),
		InlineSizeCutoff: cfg.Storage.InlineSizeCutoff,
		BusyTimeoutMS:    int(cfg.Storage.BusyTimeout / time.Millisecond),
	})
	if err != nil {
		e.close()
		return nil, err
	}
	e.store = st
	e.cleanups = append(e.cleanups, func() { _ = st.Close() })

	reader, err := store.OpenReader(cfg.DatabasePath(), int(cfg.Storage.BusyTimeout/time.Millisecond))
	if err != nil {
		e.close()
		return nil, err
	}
	e.reader = reader
	e.cleanups = append(e.cleanups, func() { _ = reader.Close() })

	e.engine = search.NewEngine(st, reader, cfg.Search, cfg.SnapshotPath(), nil)
	e.cleanups = append(e.cleanups, e.engine.Close)

	return e, nil
}

// close runs the cleanups in reverse order.
func (e *env) close() {
	for i := len(e.cleanups) - 1; i >= 0; i-- {
		e.cleanups[i]()
	}
	e.cleanups = nil
}
