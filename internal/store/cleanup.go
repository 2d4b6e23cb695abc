package store

import (
	"context"
	"fmt"
	"log/slog"
)

// cleanupBatch bounds how many rows one eviction pass removes.
const cleanupBatch = 256

// Cleanup evicts the oldest unpinned rows until the item count and the
// aggregate size are within policy, or nothing eligible remains. Pinned
// rows are never evicted, so a fully pinned store exits immediately
// instead of looping.
func (s *Store) Cleanup(ctx context.Context, policy CleanupPolicy) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable(); err != nil {
		return 0, err
	}

	removed := 0
	for {
		st, err := readStats(ctx, s.db)
		if err != nil {
			return removed, err
		}

		var (
			needCount int
			needBytes int64
		)
		if policy.MaxItems > 0 && st.ItemCount > policy.MaxItems {
			needCount = st.ItemCount - policy.MaxItems
		}
		if policy.MaxTotalBytes > 0 && st.TotalBytes > policy.MaxTotalBytes {
			needBytes = st.TotalBytes - policy.MaxTotalBytes
		}
		if needCount == 0 && needBytes == 0 {
			return removed, nil
		}

		n, err := s.evictBatchLocked(ctx, needCount, needBytes)
		if err != nil {
			return removed, err
		}
		if n == 0 {
			// Everything left is pinned; nothing eligible.
			slog.Info("cleanup stopped, no evictable rows",
				slog.Int("item_count", st.ItemCount),
				slog.Int64("total_bytes", st.TotalBytes))
			return removed, nil
		}
		removed += n

		if err := ctx.Err(); err != nil {
			return removed, err
		}
	}
}

// evictBatchLocked removes up to cleanupBatch of the oldest unpinned
// rows in one transaction and publishes their delete events. It stops
// early once the overage is covered, so a pass lands on the limit
// instead of clearing every unpinned row.
func (s *Store) evictBatchLocked(ctx context.Context, needCount int, needBytes int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin eviction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, storage_ref, size_bytes FROM items
		WHERE is_pinned = 0
		ORDER BY last_used_at ASC, id ASC
		LIMIT ?`, cleanupBatch)
	if err != nil {
		return 0, fmt.Errorf("select eviction batch: %w", err)
	}

	type victim struct {
		id   string
		ref  string
		size int64
	}
	var (
		victims []victim
		planned int64
	)
	for rows.Next() {
		if needCount > 0 && len(victims) >= needCount && planned >= needBytes {
			break
		}
		if needCount == 0 && planned >= needBytes {
			break
		}
		var v victim
		if err := rows.Scan(&v.id, &v.ref, &v.size); err != nil {
			rows.Close()
			return 0, err
		}
		victims = append(victims, v)
		planned += v.size
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(victims) == 0 {
		return 0, nil
	}

	var freed int64
	for _, v := range victims {
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, v.id); err != nil {
			return 0, fmt.Errorf("evict %s: %w", v.id, err)
		}
		freed += v.size
	}
	if err := bumpMeta(tx, "item_count", int64(-len(victims))); err != nil {
		return 0, err
	}
	if err := bumpMeta(tx, "total_size", -freed); err != nil {
		return 0, err
	}
	seq, err := nextMutationSeq(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit eviction: %w", err)
	}

	for _, v := range victims {
		if v.ref != "" {
			s.removePayloadFile(v.ref)
		}
		s.removeThumbnail(v.id)
		s.publish(MutationEvent{Kind: EventDeleted, ID: v.id, Seq: seq})
	}

	slog.Debug("evicted batch",
		slog.Int("rows", len(victims)),
		slog.Int64("freed_bytes", freed))
	return len(victims), nil
}
