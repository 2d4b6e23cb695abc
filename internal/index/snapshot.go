package index

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/s2"
)

// snapshotVersion guards the on-disk layout. Bump it when Slot changes;
// old snapshots are then ignored and the index rebuilds from the store.
const snapshotVersion = 1

// snapshotPayload is the gob-encoded snapshot body. Only live slots are
// written; postings are rebuilt on load, which is cheaper than storing
// them and keeps the file small.
type snapshotPayload struct {
	Version     int
	Fingerprint string
	Slots       []Slot
}

// SaveSnapshot persists the index to path, compressed, keyed by the
// store fingerprint the index was built from. Written atomically.
func (x *Index) SaveSnapshot(path, fingerprint string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}
	tmpName := tmp.Name()

	payload := snapshotPayload{
		Version:     snapshotVersion,
		Fingerprint: fingerprint,
		Slots:       x.Items(),
	}

	zw := s2.NewWriter(tmp)
	if err := gob.NewEncoder(zw).Encode(&payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot and rebuilds the index from it when the
// recorded fingerprint matches. Returns (nil, false) for any missing,
// unreadable, stale, or version-mismatched snapshot; staleness is a
// cache miss, never an error.
func LoadSnapshot(path, fingerprint string) (*Index, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var payload snapshotPayload
	if err := gob.NewDecoder(s2.NewReader(f)).Decode(&payload); err != nil {
		return nil, false
	}
	if payload.Version != snapshotVersion || payload.Fingerprint != fingerprint {
		return nil, false
	}

	idx := New()
	for i := range payload.Slots {
		idx.insertSlot(payload.Slots[i])
	}
	return idx, true
}

// insertSlot appends a pre-built live slot, reindexing its text.
func (x *Index) insertSlot(s Slot) {
	s.Dead = false
	i := int32(len(x.slots))
	x.slots = append(x.slots, s)
	x.byID[s.ID] = i
	x.live++
	for _, r := range uniqueRunes(s.Text) {
		x.postings[r] = append(x.postings[r], i)
	}
}
