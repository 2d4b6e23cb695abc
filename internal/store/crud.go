package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	scopyerr "github.com/Suehn/Scopy-sub006/internal/errors"
)

// Upsert ingests a capture. A duplicate content hash bumps the existing
// row's last_used_at and use_count in place; a miss inserts a new row.
// Payloads larger than the inline cutoff are written to the payload
// directory before the insert and removed again if the insert fails.
func (s *Store) Upsert(ctx context.Context, item *ItemSummary, payload []byte) (*UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	if item.ContentHash == "" {
		return nil, scopyerr.New(scopyerr.ErrCodeInternal, "item content hash is required", nil)
	}
	if !ValidItemType(item.Type) {
		item.Type = TypeOther
	}

	now := time.Now()

	// Duplicate hash: bump usage on the existing row.
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE content_hash = ?`, item.ContentHash)
	existing, err := scanItem(row)
	switch {
	case err == nil:
		return s.bumpUsageLocked(ctx, existing, now)
	case err != sql.ErrNoRows:
		return nil, fmt.Errorf("lookup by hash: %w", err)
	}

	fresh := *item
	if fresh.ID == "" {
		fresh.ID = uuid.NewString()
	}
	fresh.CreatedAt = now
	fresh.LastUsedAt = now
	fresh.UseCount = 1
	if fresh.SizeBytes == 0 {
		fresh.SizeBytes = int64(len(payload))
	}

	// Oversized payloads go to an external file, written atomically
	// before the row exists so a crash leaves an orphan file, never a
	// row without its payload.
	var inline []byte
	fresh.StorageRef = ""
	if len(payload) > s.opts.InlineSizeCutoff && s.opts.PayloadDir != "" {
		ref, err := s.writePayloadFile(fresh.ID, payload)
		if err != nil {
			return nil, scopyerr.New(scopyerr.ErrCodePayloadWrite, "write external payload", err)
		}
		fresh.StorageRef = ref
	} else {
		inline = payload
	}

	seq, err := s.insertLocked(ctx, &fresh, inline)
	if err != nil {
		if fresh.StorageRef != "" {
			s.removePayloadFile(fresh.StorageRef)
		}
		return nil, err
	}

	s.publish(MutationEvent{Kind: EventInserted, Item: &fresh, Seq: seq})
	return &UpsertResult{Item: &fresh, Updated: false}, nil
}

func (s *Store) insertLocked(ctx context.Context, it *ItemSummary, inline []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO items (id, type, content_hash, plain_text, note, app_bundle_id,
			created_at, last_used_at, use_count, is_pinned, size_bytes, storage_ref, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, string(it.Type), it.ContentHash, it.PlainText, it.Note, it.AppBundleID,
		it.CreatedAt.UnixMilli(), it.LastUsedAt.UnixMilli(), it.UseCount,
		boolToInt(it.IsPinned), it.SizeBytes, it.StorageRef, inline)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}

	// Aggregate stats ride the same transaction as the row.
	if err := bumpMeta(tx, "item_count", 1); err != nil {
		return 0, err
	}
	if err := bumpMeta(tx, "total_size", it.SizeBytes); err != nil {
		return 0, err
	}
	seq, err := nextMutationSeq(tx)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return seq, nil
}

func (s *Store) bumpUsageLocked(ctx context.Context, existing *ItemSummary, now time.Time) (*UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin usage bump: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`UPDATE items SET last_used_at = ?, use_count = use_count + 1 WHERE id = ?`,
		now.UnixMilli(), existing.ID)
	if err != nil {
		return nil, fmt.Errorf("bump usage: %w", err)
	}
	seq, err := nextMutationSeq(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit usage bump: %w", err)
	}

	existing.LastUsedAt = now
	existing.UseCount++
	s.publish(MutationEvent{Kind: EventUpdated, Item: existing, Seq: seq})
	return &UpsertResult{Item: existing, Updated: true}, nil
}

// SetPinned pins or unpins an item.
func (s *Store) SetPinned(ctx context.Context, id string, pinned bool) (*ItemSummary, error) {
	return s.patchItem(ctx, id, "set pinned",
		`UPDATE items SET is_pinned = ? WHERE id = ?`, boolToInt(pinned), id)
}

// Touch records a use of the item (e.g. it was pasted again).
func (s *Store) Touch(ctx context.Context, id string) (*ItemSummary, error) {
	return s.patchItem(ctx, id, "touch",
		`UPDATE items SET last_used_at = ?, use_count = use_count + 1 WHERE id = ?`,
		time.Now().UnixMilli(), id)
}

// SetNote replaces the user annotation. The FTS triggers pick up the
// change because note is one of the indexed columns.
func (s *Store) SetNote(ctx context.Context, id, note string) (*ItemSummary, error) {
	return s.patchItem(ctx, id, "set note",
		`UPDATE items SET note = ? WHERE id = ?`, note, id)
}

// PatchSize corrects a row's recorded payload size, adjusting the
// aggregate by the delta.
func (s *Store) PatchSize(ctx context.Context, id string, sizeBytes int64) (*ItemSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin size patch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var old int64
	err = tx.QueryRowContext(ctx, `SELECT size_bytes FROM items WHERE id = ?`, id).Scan(&old)
	if err == sql.ErrNoRows {
		return nil, scopyerr.New(scopyerr.ErrCodeItemNotFound, "item not found: "+id, nil)
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET size_bytes = ? WHERE id = ?`, sizeBytes, id); err != nil {
		return nil, fmt.Errorf("patch size: %w", err)
	}
	if err := bumpMeta(tx, "total_size", sizeBytes-old); err != nil {
		return nil, err
	}
	seq, err := nextMutationSeq(tx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit size patch: %w", err)
	}

	s.publish(MutationEvent{Kind: EventUpdated, Item: it, Seq: seq})
	return it, nil
}

// patchItem runs a single-row update, re-reads the row, and publishes
// an Updated event, all in one transaction.
func (s *Store) patchItem(ctx context.Context, id, what, query string, args ...any) (*ItemSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin %s: %w", what, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, scopyerr.New(scopyerr.ErrCodeItemNotFound, "item not found: "+id, nil)
	}

	seq, err := nextMutationSeq(tx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit %s: %w", what, err)
	}

	s.publish(MutationEvent{Kind: EventUpdated, Item: it, Seq: seq})
	return it, nil
}

// Delete removes a row and, afterwards, its external payload and
// thumbnail. File removal failures are logged, not returned: an orphan
// file beats a row that cannot be deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ref string
	var size int64
	err = tx.QueryRowContext(ctx,
		`SELECT storage_ref, size_bytes FROM items WHERE id = ?`, id).Scan(&ref, &size)
	if err == sql.ErrNoRows {
		return scopyerr.New(scopyerr.ErrCodeItemNotFound, "item not found: "+id, nil)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if err := bumpMeta(tx, "item_count", -1); err != nil {
		return err
	}
	if err := bumpMeta(tx, "total_size", -size); err != nil {
		return err
	}
	seq, err := nextMutationSeq(tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	// File cleanup happens after the commit, outside any critical
	// section that also touches derived state.
	if ref != "" {
		s.removePayloadFile(ref)
	}
	s.removeThumbnail(id)

	s.publish(MutationEvent{Kind: EventDeleted, ID: id, Seq: seq})
	return nil
}

// ClearAll removes every row, or every unpinned row when keepPinned is
// true, then recomputes the aggregates from what is left.
func (s *Store) ClearAll(ctx context.Context, keepPinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable(); err != nil {
		return err
	}

	where := ""
	if keepPinned {
		where = " WHERE is_pinned = 0"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Collect doomed external refs and ids before the rows go.
	rows, err := tx.QueryContext(ctx,
		`SELECT id, storage_ref FROM items`+where)
	if err != nil {
		return fmt.Errorf("list doomed rows: %w", err)
	}
	var doomedIDs, doomedRefs []string
	for rows.Next() {
		var id, ref string
		if err := rows.Scan(&id, &ref); err != nil {
			rows.Close()
			return err
		}
		doomedIDs = append(doomedIDs, id)
		if ref != "" {
			doomedRefs = append(doomedRefs, ref)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM items`+where); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}

	// Bulk operation: recompute instead of deltas.
	if _, err := tx.ExecContext(ctx, `
		UPDATE meta SET value = (SELECT COUNT(*) FROM items) WHERE key = 'item_count'`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE meta SET value = (SELECT COALESCE(SUM(size_bytes), 0) FROM items) WHERE key = 'total_size'`); err != nil {
		return err
	}
	seq, err := nextMutationSeq(tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}

	for _, ref := range doomedRefs {
		s.removePayloadFile(ref)
	}
	for _, id := range doomedIDs {
		s.removeThumbnail(id)
	}

	slog.Info("store cleared",
		slog.Int("removed", len(doomedIDs)),
		slog.Bool("keep_pinned", keepPinned))

	s.publish(MutationEvent{Kind: EventCleared, Seq: seq})
	return nil
}

// Filter narrows a fetch to one app and/or a set of item types.
// TypeFilters, when non-empty, wins over TypeFilter.
type Filter struct {
	AppBundleID string
	TypeFilter  ItemType
	TypeFilters []ItemType
}

func (f Filter) types() []ItemType {
	if len(f.TypeFilters) > 0 {
		return f.TypeFilters
	}
	if f.TypeFilter != "" {
		return []ItemType{f.TypeFilter}
	}
	return nil
}

// FetchRecent returns a page ordered pinned-first then by recency,
// using a LIMIT n+1 probe instead of a COUNT for HasMore.
func (s *Store) FetchRecent(ctx context.Context, limit, offset int) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fetchPage(ctx, s.db, Filter{}, limit, offset)
}

// FetchFiltered is FetchRecent with an app and/or type filter.
func (s *Store) FetchFiltered(ctx context.Context, f Filter, limit, offset int) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fetchPage(ctx, s.db, f, limit, offset)
}

// queryer abstracts *sql.DB and *sql.Tx for the shared page helpers.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func fetchPage(ctx context.Context, q queryer, f Filter, limit, offset int) (*Page, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	if f.AppBundleID != "" {
		where = append(where, "app_bundle_id = ?")
		args = append(args, f.AppBundleID)
	}
	if ts := f.types(); len(ts) > 0 {
		ph := make([]string, len(ts))
		for i, t := range ts {
			ph[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "type IN ("+strings.Join(ph, ",")+")")
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY is_pinned DESC, last_used_at DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit+1, offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}

	page := &Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
	}
	return page, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
