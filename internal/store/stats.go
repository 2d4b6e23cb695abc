package store

import (
	"context"
	"database/sql"
	"fmt"
)

// bumpMeta adjusts an aggregate counter inside the mutating transaction
// so Stats stays O(1) without a scan.
func bumpMeta(tx *sql.Tx, key string, delta int64) error {
	if delta == 0 {
		return nil
	}
	if _, err := tx.Exec(`UPDATE meta SET value = value + ? WHERE key = ?`, delta, key); err != nil {
		return fmt.Errorf("bump %s: %w", key, err)
	}
	return nil
}

// nextMutationSeq increments and returns the store mutation counter.
func nextMutationSeq(tx *sql.Tx) (int64, error) {
	if _, err := tx.Exec(`UPDATE meta SET value = value + 1 WHERE key = 'mutation_seq'`); err != nil {
		return 0, fmt.Errorf("bump mutation_seq: %w", err)
	}
	var seq int64
	if err := tx.QueryRow(`SELECT value FROM meta WHERE key = 'mutation_seq'`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read mutation_seq: %w", err)
	}
	return seq, nil
}

// Stats returns the incrementally maintained aggregates.
func (s *Store) Stats(ctx context.Context) (*StorageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readStats(ctx, s.db)
}

func readStats(ctx context.Context, q queryer) (*StorageStats, error) {
	var st StorageStats
	rows, err := q.QueryContext(ctx,
		`SELECT key, value FROM meta WHERE key IN ('item_count', 'total_size', 'mutation_seq')`)
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value int64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch key {
		case "item_count":
			st.ItemCount = int(value)
		case "total_size":
			st.TotalBytes = value
		case "mutation_seq":
			st.MutationSeq = value
		}
	}
	return &st, rows.Err()
}
