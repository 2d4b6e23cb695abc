package store

import (
	"fmt"
	"time"
)

// ItemType classifies a captured clipboard item.
type ItemType string

const (
	TypeText     ItemType = "text"
	TypeRichText ItemType = "richtext"
	TypeMarkup   ItemType = "markup"
	TypeImage    ItemType = "image"
	TypeFile     ItemType = "file"
	TypeOther    ItemType = "other"
)

// ValidItemType reports whether t is one of the known item types.
func ValidItemType(t ItemType) bool {
	switch t {
	case TypeText, TypeRichText, TypeMarkup, TypeImage, TypeFile, TypeOther:
		return true
	}
	return false
}

// ItemSummary is the immutable value describing one stored clipboard
// capture. PlainText is the searchable surrogate and may be empty for
// binary types; Note is a user annotation, also searchable.
type ItemSummary struct {
	ID          string
	Type        ItemType
	ContentHash string
	PlainText   string
	Note        string
	AppBundleID string
	CreatedAt   time.Time
	LastUsedAt  time.Time
	UseCount    int
	IsPinned    bool
	SizeBytes   int64
	// StorageRef is the external payload file name, empty for inline rows.
	StorageRef string
}

// UpsertResult reports what Upsert did.
type UpsertResult struct {
	Item *ItemSummary
	// Updated is true when a duplicate content hash bumped the existing
	// row instead of inserting a new one.
	Updated bool
}

// Page is one page of summaries with a cheap HasMore probe.
type Page struct {
	Items   []*ItemSummary
	HasMore bool
}

// StorageStats is the O(1) aggregate snapshot kept in the meta table.
type StorageStats struct {
	ItemCount   int
	TotalBytes  int64
	MutationSeq int64
}

// EventKind tags a mutation event crossing from the writer domain to
// the search domain.
type EventKind int

const (
	EventInserted EventKind = iota
	EventUpdated
	EventDeleted
	EventCleared
)

func (k EventKind) String() string {
	switch k {
	case EventInserted:
		return "inserted"
	case EventUpdated:
		return "updated"
	case EventDeleted:
		return "deleted"
	case EventCleared:
		return "cleared"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// MutationEvent describes one committed mutation. Item is set for
// inserts and updates, ID for deletes. Cleared carries neither; the
// consumer drops its derived state and rebuilds.
type MutationEvent struct {
	Kind EventKind
	Item *ItemSummary
	ID   string
	// Seq is the store mutation counter after this event committed.
	Seq int64
}

// CleanupPolicy bounds the eviction pass.
type CleanupPolicy struct {
	MaxItems      int
	MaxTotalBytes int64
}

// Fingerprint is a cheap composite identifying a store state. Derived
// indexes and snapshots keyed by it are stale when it changes.
type Fingerprint struct {
	FileSize    int64
	ModTimeUnix int64
	MutationSeq int64
}

// String renders the fingerprint as a stable cache key.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%d-%d-%d", f.FileSize, f.ModTimeUnix, f.MutationSeq)
}
