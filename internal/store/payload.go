package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	scopyerr "github.com/Suehn/Scopy-sub006/internal/errors"
)

// writePayloadFile writes an external payload atomically: temp file in
// the payload dir, fsync, rename. Returns the storage ref (file name).
func (s *Store) writePayloadFile(id string, payload []byte) (string, error) {
	ref := id + ".bin"
	final := filepath.Join(s.opts.PayloadDir, ref)

	tmp, err := os.CreateTemp(s.opts.PayloadDir, ref+".tmp*")
	if err != nil {
		return "", fmt.Errorf("create temp payload: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write payload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("sync payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close payload: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename payload: %w", err)
	}
	return ref, nil
}

// removePayloadFile deletes an external payload, logging failures.
func (s *Store) removePayloadFile(ref string) {
	if ref == "" || s.opts.PayloadDir == "" {
		return
	}
	path := filepath.Join(s.opts.PayloadDir, ref)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove payload file, orphan remains",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

// removeThumbnail deletes a derived thumbnail artifact if present.
func (s *Store) removeThumbnail(id string) {
	if s.opts.PayloadDir == "" {
		return
	}
	path := filepath.Join(s.opts.PayloadDir, "thumbs", id+".png")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove thumbnail",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

// GetPayload returns the raw payload bytes for an item, reading the
// external file when the row stores only a reference. Used by the
// ingestion/paste collaborators, never by search.
func (s *Store) GetPayload(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inline []byte
	var ref string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, storage_ref FROM items WHERE id = ?`, id).Scan(&inline, &ref)
	if err == sql.ErrNoRows {
		return nil, scopyerr.New(scopyerr.ErrCodeItemNotFound, "item not found: "+id, nil)
	}
	if err != nil {
		return nil, err
	}

	if ref == "" {
		return inline, nil
	}
	data, err := os.ReadFile(filepath.Join(s.opts.PayloadDir, ref))
	if err != nil {
		return nil, fmt.Errorf("read external payload: %w", err)
	}
	return data, nil
}
