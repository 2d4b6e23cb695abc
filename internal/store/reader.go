package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Reader is an independent read-only connection to the store file, used
// by the search domain so long scans never hold the write lock. It is
// never the writer's connection object.
type Reader struct {
	db   *sql.DB
	path string
}

// OpenReader opens a read-only connection to the store file.
func OpenReader(path string, busyTimeoutMS int) (*Reader, error) {
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open read-only database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS),
		"PRAGMA query_only = ON",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set reader pragma: %w", err)
		}
	}

	return &Reader{db: db, path: path}, nil
}

// Close closes the read-only connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Path returns the store file path backing this reader.
func (r *Reader) Path() string {
	return r.path
}

// FetchRecent returns a page ordered pinned-first then by recency.
func (r *Reader) FetchRecent(ctx context.Context, limit, offset int) (*Page, error) {
	return fetchPage(ctx, r.db, Filter{}, limit, offset)
}

// FetchFiltered is FetchRecent with an app and/or type filter.
func (r *Reader) FetchFiltered(ctx context.Context, f Filter, limit, offset int) (*Page, error) {
	return fetchPage(ctx, r.db, f, limit, offset)
}

// SearchExact runs an FTS5 MATCH query joined back to the items table.
// Ordering is pinned-first, then relevance (bm25, lower is better) or
// recency, tie-broken by recency then id for determinism. The LIMIT n+1
// probe detects HasMore without a COUNT.
func (r *Reader) SearchExact(ctx context.Context, match string, f Filter, byRelevance bool, limit, offset int) (*Page, error) {
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
	args = append(args, match)
	if f.AppBundleID != "" {
		where = append(where, "i.app_bundle_id = ?")
		args = append(args, f.AppBundleID)
	}
	if ts := f.types(); len(ts) > 0 {
		ph := make([]string, len(ts))
		for i, t := range ts {
			ph[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "i.type IN ("+strings.Join(ph, ",")+")")
	}

	order := "i.is_pinned DESC, bm25(items_fts) ASC, i.last_used_at DESC, i.id ASC"
	if !byRelevance {
		order = "i.is_pinned DESC, i.last_used_at DESC, i.id ASC"
	}

	query := `SELECT ` + prefixedItemColumns("i") + `
		FROM items_fts f
		JOIN items i ON i.rowid = f.rowid
		WHERE items_fts MATCH ?`
	if len(where) > 0 {
		query += " AND " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + order + " LIMIT ? OFFSET ?"
	args = append(args, limit+1, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exact search: %w", err)
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

// PrefilterIDs returns the ids of rows whose text matches the FTS query,
// capped at max. Used by the fuzzy fast path to bound a worst-case
// candidate set without scoring the whole corpus.
func (r *Reader) PrefilterIDs(ctx context.Context, match string, max int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT i.id
		FROM items_fts f
		JOIN items i ON i.rowid = f.rowid
		WHERE items_fts MATCH ?
		LIMIT ?`, match, max)
	if err != nil {
		return nil, fmt.Errorf("prefilter: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ForEachItem streams every row to fn in id order, checking ctx between
// batches so an index rebuild can be cancelled.
func (r *Reader) ForEachItem(ctx context.Context, fn func(*ItemSummary) error) error {
	const batch = 2048

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rows, err := r.db.QueryContext(ctx, `
			SELECT `+itemColumns+` FROM items
			WHERE id > ?
			ORDER BY id ASC
			LIMIT ?`, after, batch)
		if err != nil {
			return fmt.Errorf("scan items: %w", err)
		}
		items, err := collectItems(rows)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		for _, it := range items {
			if err := fn(it); err != nil {
				return err
			}
		}
		after = items[len(items)-1].ID
	}
}

// GetByIDs fetches the summaries for a set of ids in one query and
// returns them keyed by id. Ids with no row are simply absent; the
// caller decides whether a miss matters.
func (r *Reader) GetByIDs(ctx context.Context, ids []string) (map[string]*ItemSummary, error) {
	if len(ids) == 0 {
		return map[string]*ItemSummary{}, nil
	}

	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE id IN (`+strings.Join(ph, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch by ids: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*ItemSummary, len(items))
	for _, it := range items {
		out[it.ID] = it
	}
	return out, nil
}

// Stats reads the O(1) aggregates through the read-only connection.
func (r *Reader) Stats(ctx context.Context) (*StorageStats, error) {
	return readStats(ctx, r.db)
}

// CorpusMetrics are derived numbers about the searchable text. They
// take a full scan, so callers cache them and recompute lazily.
type CorpusMetrics struct {
	RowCount      int
	AvgTextLength float64
	MaxTextLength int
}

// ComputeCorpusMetrics scans the corpus once. Never call this on the
// hot search path.
func (r *Reader) ComputeCorpusMetrics(ctx context.Context) (*CorpusMetrics, error) {
	var m CorpusMetrics
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(LENGTH(plain_text)), 0),
		       COALESCE(MAX(LENGTH(plain_text)), 0)
		FROM items`).Scan(&m.RowCount, &m.AvgTextLength, &m.MaxTextLength)
	if err != nil {
		return nil, fmt.Errorf("corpus metrics: %w", err)
	}
	return &m, nil
}

// Fingerprint returns the corpus fingerprint through the reader.
func (r *Reader) Fingerprint() (Fingerprint, error) {
	return fingerprint(r.db, r.path)
}

// prefixedItemColumns qualifies itemColumns with a table alias.
func prefixedItemColumns(alias string) string {
	cols := strings.Split(itemColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
