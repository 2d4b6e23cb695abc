// Package store owns the on-disk sqlite store for clipboard history:
// schema and migrations, the trigger-synced FTS5 text index, CRUD,
// eviction, and incrementally maintained aggregate statistics.
//
// A process holds exactly one writer Store; every mutation serializes
// through its single write connection. Readers open an independent
// read-only connection via OpenReader so long scans never contend with
// the write lock. Committed mutations are published as MutationEvents
// on a buffered channel for the search domain.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	_ "modernc.org/sqlite" // pure Go sqlite driver
	scopyerr "github.com/Suehn/Scopy-sub006/internal/errors"
)

// eventBuffer is the capacity of the mutation event channel. If the
// consumer falls this far behind, events are dropped and the fingerprint
// mismatch forces it to rebuild instead of drifting.
const eventBuffer = 1024

// Options configures Open.
type Options struct {
	// Path is the sqlite database file. Parent directories are created.
	Path string
	// PayloadDir holds external payload files for oversized captures.
	PayloadDir string
	// InlineSizeCutoff is the payload size above which the payload goes
	// to PayloadDir instead of the row.
	InlineSizeCutoff int
	// BusyTimeoutMS is the sqlite busy_timeout in milliseconds.
	BusyTimeoutMS int
}

// Store is the single-writer persistence repository.
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	path      string
	opts      Options
	lock      *flock.Flock
	corrupted bool
	closed    bool

	events  chan MutationEvent
	wake    chan struct{}
	dropped int64
}

// Open opens (or creates) the store, acquires the single-writer process
// lock, and runs pending migrations. A migration or integrity failure
// returns a fatal corrupted-store error and the store refuses writes.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, scopyerr.New(scopyerr.ErrCodeConfigInvalid, "store path is required", nil)
	}
	if opts.BusyTimeoutMS <= 0 {
		opts.BusyTimeoutMS = 5000
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	if opts.PayloadDir != "" {
		if err := os.MkdirAll(opts.PayloadDir, 0o755); err != nil {
			return nil, fmt.Errorf("create payload directory: %w", err)
		}
	}

	// One writer process at a time. The engine's read-only connection
	// does not take this lock.
	lock := flock.New(opts.Path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire writer lock: %w", err)
	}
	if !locked {
		return nil, scopyerr.New(scopyerr.ErrCodeStoreLocked,
			fmt.Sprintf("another writer holds %s", opts.Path+".lock"), nil)
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single write connection prevents sqlite lock contention inside the
	// process; cross-process readers are handled by WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db, opts.BusyTimeoutMS); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	s := &Store{
		db:     db,
		path:   opts.Path,
		opts:   opts,
		lock:   lock,
		events: make(chan MutationEvent, eventBuffer),
		wake:   make(chan struct{}, 1),
	}

	if err := s.validateIntegrity(); err != nil {
		s.corrupted = true
		return s, scopyerr.CorruptedStore("integrity check failed", err)
	}
	if err := migrate(db); err != nil {
		s.corrupted = true
		return s, scopyerr.New(scopyerr.ErrCodeMigrationFailed, "schema migration failed", err)
	}

	return s, nil
}

// applyPragmas sets the connection pragmas. The modernc driver ignores
// DSN parameters, so these must run as statements.
func applyPragmas(db *sql.DB, busyTimeoutMS int) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("set pragma: %w", err)
		}
	}
	return nil
}

// validateIntegrity runs sqlite's quick integrity check.
func (s *Store) validateIntegrity() error {
	var result string
	if err := s.db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("quick_check: %s", result)
	}
	return nil
}

// Corrupted reports whether the store refused writes after a failed
// migration or integrity check.
func (s *Store) Corrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corrupted
}

// Events returns the mutation event stream consumed by the search
// domain. The channel is closed by Close.
func (s *Store) Events() <-chan MutationEvent {
	return s.events
}

// Wake coalesces a "events are pending" signal for a background
// consumer. Receiving from it never removes anything from Events, so a
// loop woken here can hand the actual draining to whoever holds the
// search serialization token. Closed by Close.
func (s *Store) Wake() <-chan struct{} {
	return s.wake
}

// publish sends an event without blocking the writer. A full buffer
// drops the event; the consumer detects the gap via the fingerprint.
func (s *Store) publish(ev MutationEvent) {
	select {
	case s.events <- ev:
	default:
		s.dropped++
		slog.Warn("mutation event dropped, consumer lagging",
			slog.String("kind", ev.Kind.String()),
			slog.Int64("dropped_total", s.dropped))
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// checkWritable returns the fatal corruption error once set.
func (s *Store) checkWritable() error {
	if s.closed {
		return scopyerr.InternalError("store is closed", nil)
	}
	if s.corrupted {
		return scopyerr.CorruptedStore("store is corrupted, writes refused", nil)
	}
	return nil
}

// Fingerprint returns the current corpus fingerprint: file size,
// modification time, and the committed mutation counter.
func (s *Store) Fingerprint() (Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fingerprint(s.db, s.path)
}

func fingerprint(db *sql.DB, path string) (Fingerprint, error) {
	var fp Fingerprint
	info, err := os.Stat(path)
	if err != nil {
		return fp, fmt.Errorf("stat store file: %w", err)
	}
	fp.FileSize = info.Size()
	fp.ModTimeUnix = info.ModTime().Unix()

	err = db.QueryRow(`SELECT value FROM meta WHERE key='mutation_seq'`).Scan(&fp.MutationSeq)
	if err != nil && err != sql.ErrNoRows {
		return fp, fmt.Errorf("read mutation counter: %w", err)
	}
	return fp, nil
}

// Checkpoint forces a WAL checkpoint, typically before snapshotting.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close checkpoints, closes the database, and releases the writer lock.
// Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	close(s.wake)

	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := s.db.Close()
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return err
}

// itemColumns is the canonical select list for scanning summaries.
const itemColumns = `id, type, content_hash, plain_text, note, app_bundle_id,
	created_at, last_used_at, use_count, is_pinned, size_bytes, storage_ref`

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem scans one summary in itemColumns order.
func scanItem(r rowScanner) (*ItemSummary, error) {
	var (
		it                     ItemSummary
		createdAt, lastUsedAt  int64
		pinned                 int
	)
	err := r.Scan(&it.ID, &it.Type, &it.ContentHash, &it.PlainText, &it.Note,
		&it.AppBundleID, &createdAt, &lastUsedAt, &it.UseCount, &pinned,
		&it.SizeBytes, &it.StorageRef)
	if err != nil {
		return nil, err
	}
	it.CreatedAt = time.UnixMilli(createdAt)
	it.LastUsedAt = time.UnixMilli(lastUsedAt)
	it.IsPinned = pinned != 0
	return &it, nil
}

// collectItems drains rows into summaries.
func collectItems(rows *sql.Rows) ([]*ItemSummary, error) {
	defer rows.Close()
	var items []*ItemSummary
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetByID fetches a single summary through the write connection.
func (s *Store) GetByID(ctx context.Context, id string) (*ItemSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, scopyerr.New(scopyerr.ErrCodeItemNotFound, "item not found: "+id, nil)
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}
