// Package index maintains the in-memory fuzzy index: a dense slot table
// mirroring the searchable fields of every item, plus per-character
// postings lists used to intersect match candidates cheaply.
//
// The index is derived state. It can always be rebuilt from the store,
// or patched incrementally from mutation events; the two paths converge
// to the same logical contents for the same final corpus.
package index

import (
	"sort"
	"strings"

	"github.com/Suehn/Scopy-sub006/internal/store"
)

// compactThreshold is the dead-slot fraction above which Apply compacts
// the slot table.
const compactThreshold = 0.25

// Slot is a dense, index-local record mirroring the searchable subset
// of a stored item. Text is pre-lowercased.
type Slot struct {
	ID          string
	Text        string
	TextLen     int
	Pinned      bool
	LastUsedAt  int64
	AppBundleID string
	Type        store.ItemType
	Dead        bool
}

// Index is the fuzzy inverted index. Not safe for concurrent use; the
// search engine serializes all access.
type Index struct {
	slots    []Slot
	byID     map[string]int32
	postings map[rune][]int32
	live     int
}

// New returns an empty index.
func New() *Index {
	return &Index{
		byID:     make(map[string]int32),
		postings: make(map[rune][]int32),
	}
}

// NewFromItems builds a fresh index from a corpus scan.
func NewFromItems(items []*store.ItemSummary) *Index {
	idx := New()
	for _, it := range items {
		idx.insert(it)
	}
	return idx
}

// SearchText is the lowercased text surrogate indexed for an item:
// the plain text plus the user note.
func SearchText(it *store.ItemSummary) string {
	text := it.PlainText
	if it.Note != "" {
		if text != "" {
			text += "\n"
		}
		text += it.Note
	}
	return strings.ToLower(text)
}

// Len returns the slot-table length including tombstones.
func (x *Index) Len() int { return len(x.slots) }

// Live returns the number of live slots.
func (x *Index) Live() int { return x.live }

// Slot returns the slot at position i.
func (x *Index) Slot(i int32) *Slot { return &x.slots[i] }

// Lookup returns the slot for an id, or nil.
func (x *Index) Lookup(id string) *Slot {
	i, ok := x.byID[id]
	if !ok {
		return nil
	}
	return &x.slots[i]
}

// Items returns copies of all live slots sorted by id. Used to compare
// index states regardless of slot numbering.
func (x *Index) Items() []Slot {
	out := make([]Slot, 0, x.live)
	for i := range x.slots {
		if !x.slots[i].Dead {
			out = append(out, x.slots[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Add indexes one item, replacing any previous slot for the same id.
// Bulk rebuilds stream the corpus through this.
func (x *Index) Add(it *store.ItemSummary) {
	x.upsert(it)
}

// Apply patches the index from one committed mutation event. Unknown
// update ids degrade to inserts so a dropped insert event cannot wedge
// the index. Cleared resets everything; the caller rebuilds lazily.
func (x *Index) Apply(ev store.MutationEvent) {
	switch ev.Kind {
	case store.EventInserted:
		if ev.Item != nil {
			x.upsert(ev.Item)
		}
	case store.EventUpdated:
		if ev.Item != nil {
			x.upsert(ev.Item)
		}
	case store.EventDeleted:
		x.remove(ev.ID)
	case store.EventCleared:
		*x = *New()
	}

	if len(x.slots) > 64 && float64(len(x.slots)-x.live) > compactThreshold*float64(len(x.slots)) {
		x.Compact()
	}
}

// upsert patches an existing slot in place when the text is unchanged
// (pin/usage updates), otherwise reindexes the item.
func (x *Index) upsert(it *store.ItemSummary) {
	text := SearchText(it)
	if i, ok := x.byID[it.ID]; ok {
		s := &x.slots[i]
		if s.Text == text {
			s.Pinned = it.IsPinned
			s.LastUsedAt = it.LastUsedAt.UnixMilli()
			s.AppBundleID = it.AppBundleID
			s.Type = it.Type
			return
		}
		x.remove(it.ID)
	}
	x.insert(it)
}

// insert appends a new slot. The new slot number is always the current
// maximum, so appending it keeps every postings list sorted.
func (x *Index) insert(it *store.ItemSummary) {
	text := SearchText(it)
	i := int32(len(x.slots))
	x.slots = append(x.slots, Slot{
		ID:          it.ID,
		Text:        text,
		TextLen:     len([]rune(text)),
		Pinned:      it.IsPinned,
		LastUsedAt:  it.LastUsedAt.UnixMilli(),
		AppBundleID: it.AppBundleID,
		Type:        it.Type,
	})
	x.byID[it.ID] = i
	x.live++

	for _, r := range uniqueRunes(text) {
		x.postings[r] = append(x.postings[r], i)
	}
}

// remove tombstones a slot and deletes it from every postings list it
// appears in.
func (x *Index) remove(id string) {
	i, ok := x.byID[id]
	if !ok {
		return
	}
	s := &x.slots[i]
	for _, r := range uniqueRunes(s.Text) {
		x.postings[r] = removeSorted(x.postings[r], i)
		if len(x.postings[r]) == 0 {
			delete(x.postings, r)
		}
	}
	s.Dead = true
	s.Text = ""
	delete(x.byID, id)
	x.live--
}

// Compact rewrites the slot table without tombstones, renumbering the
// postings lists. Logical contents are unchanged.
func (x *Index) Compact() {
	slots := make([]Slot, 0, x.live)
	remap := make([]int32, len(x.slots))
	for i := range x.slots {
		if x.slots[i].Dead {
			remap[i] = -1
			continue
		}
		remap[i] = int32(len(slots))
		slots = append(slots, x.slots[i])
	}

	byID := make(map[string]int32, len(slots))
	for i := range slots {
		byID[slots[i].ID] = int32(i)
	}

	postings := make(map[rune][]int32, len(x.postings))
	for r, list := range x.postings {
		out := make([]int32, 0, len(list))
		for _, old := range list {
			if n := remap[old]; n >= 0 {
				out = append(out, n)
			}
		}
		if len(out) > 0 {
			postings[r] = out
		}
	}

	x.slots = slots
	x.byID = byID
	x.postings = postings
}

// Candidates intersects the postings lists for the distinct characters
// of the lowercased query, smallest list first. A query character with
// no postings means no candidate can contain every character, so the
// result is empty. Cost is roughly proportional to the shortest list.
func (x *Index) Candidates(query string) []int32 {
	runes := uniqueRunes(strings.ToLower(query))
	if len(runes) == 0 {
		return nil
	}

	lists := make([][]int32, 0, len(runes))
	for _, r := range runes {
		list, ok := x.postings[r]
		if !ok {
			return nil
		}
		lists = append(lists, list)
	}
	sort.Slice(lists, func(i, j int) bool { return len(lists[i]) < len(lists[j]) })

	result := lists[0]
	for _, list := range lists[1:] {
		result = intersectSorted(result, list)
		if len(result) == 0 {
			return nil
		}
	}

	// The smallest list may be shared storage; copy before returning.
	if len(lists) == 1 {
		result = append([]int32(nil), result...)
	}
	return result
}

// uniqueRunes returns the distinct runes of s in first-seen order.
func uniqueRunes(s string) []rune {
	seen := make(map[rune]struct{}, len(s))
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// intersectSorted intersects two ascending slices.
func intersectSorted(a, b []int32) []int32 {
	out := make([]int32, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// removeSorted deletes v from an ascending slice via binary search.
func removeSorted(list []int32, v int32) []int32 {
	i := sort.Search(len(list), func(i int) bool { return list[i] >= v })
	if i < len(list) && list[i] == v {
		return append(list[:i], list[i+1:]...)
	}
	return list
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
