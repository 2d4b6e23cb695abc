package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/Suehn/Scopy-sub006/internal/store"
)

// retentionInterval is how often the serve loop enforces the retention
// limits. Eviction is cheap when nothing is over limit.
const retentionInterval = 10 * time.Minute

// runRetentionLoop periodically evicts old unpinned items beyond the
// configured limits until ctx ends.
func runRetentionLoop(ctx context.Context, e *env) error {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	policy := store.CleanupPolicy{
		MaxItems:      e.cfg.Storage.MaxItems,
		MaxTotalBytes: e.cfg.Storage.MaxTotalBytes,
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			evicted, err := e.store.Cleanup(ctx, policy)
			if err != nil {
				slog.Warn("retention pass failed", slog.String("error", err.Error()))
				continue
			}
			if evicted > 0 {
				slog.Info("retention pass evicted items", slog.Int("count", evicted))
			}
		}
	}
}
