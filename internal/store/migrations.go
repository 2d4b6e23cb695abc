package store

import (
	"database/sql"
	"fmt"
)

// migration is one schema step. Steps run in order inside a single
// transaction per step; the meta schema_version row records progress.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{
		version: 1,
		name:    "base schema",
		apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE items (
					id            TEXT PRIMARY KEY,
					type          TEXT NOT NULL,
					content_hash  TEXT NOT NULL,
					plain_text    TEXT NOT NULL DEFAULT '',
					note          TEXT NOT NULL DEFAULT '',
					app_bundle_id TEXT NOT NULL DEFAULT '',
					created_at    INTEGER NOT NULL,
					last_used_at  INTEGER NOT NULL,
					use_count     INTEGER NOT NULL DEFAULT 1,
					is_pinned     INTEGER NOT NULL DEFAULT 0,
					size_bytes    INTEGER NOT NULL DEFAULT 0,
					storage_ref   TEXT NOT NULL DEFAULT '',
					payload       BLOB
				);

				CREATE UNIQUE INDEX idx_items_hash ON items(content_hash);
				CREATE INDEX idx_items_recency ON items(is_pinned DESC, last_used_at DESC);
				CREATE INDEX idx_items_app ON items(app_bundle_id);

				CREATE TABLE meta (
					key   TEXT PRIMARY KEY,
					value INTEGER NOT NULL
				);
				INSERT INTO meta (key, value) VALUES
					('item_count', 0),
					('total_size', 0),
					('mutation_seq', 0);
			`)
			return err
		},
	},
	{
		version: 2,
		name:    "full-text index",
		apply: func(tx *sql.Tx) error {
			// External-content FTS5 over the searchable columns. The
			// update trigger fires only when plain_text or note change,
			// so use-count bumps do not rewrite the text index.
			_, err := tx.Exec(`
				CREATE VIRTUAL TABLE items_fts USING fts5(
					plain_text,
					note,
					content='items',
					content_rowid='rowid',
					tokenize='unicode61'
				);

				CREATE TRIGGER items_ai AFTER INSERT ON items BEGIN
					INSERT INTO items_fts(rowid, plain_text, note)
					VALUES (new.rowid, new.plain_text, new.note);
				END;

				CREATE TRIGGER items_au AFTER UPDATE OF plain_text, note ON items BEGIN
					INSERT INTO items_fts(items_fts, rowid, plain_text, note)
					VALUES ('delete', old.rowid, old.plain_text, old.note);
					INSERT INTO items_fts(rowid, plain_text, note)
					VALUES (new.rowid, new.plain_text, new.note);
				END;

				CREATE TRIGGER items_ad AFTER DELETE ON items BEGIN
					INSERT INTO items_fts(items_fts, rowid, plain_text, note)
					VALUES ('delete', old.rowid, old.plain_text, old.note);
				END;
			`)
			return err
		},
	},
}

// schemaVersion reads the recorded schema version, 0 for a fresh file.
func schemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='meta'`).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	var v int
	err = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version'`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

// migrate applies all pending migrations. Each step commits atomically
// together with its version bump, so a crash never leaves a half-applied
// step recorded as done.
func migrate(db *sql.DB) error {
	current, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if err := m.apply(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
		current = m.version
	}

	return nil
}
