package index

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suehn/Scopy-sub006/internal/store"
)

func item(id, text string) *store.ItemSummary {
	return &store.ItemSummary{
		ID:         id,
		Type:       store.TypeText,
		PlainText:  text,
		LastUsedAt: time.UnixMilli(1000),
	}
}

func TestSearchTextCombinesPayloadAndNote(t *testing.T) {
	it := item("a", "Hello World")
	assert.Equal(t, "hello world", SearchText(it))

	it.Note = "My Note"
	assert.Equal(t, "hello world\nmy note", SearchText(it))

	empty := item("b", "")
	empty.Note = "Only Note"
	assert.Equal(t, "only note", SearchText(empty))
}

func TestCandidatesIntersection(t *testing.T) {
	idx := NewFromItems([]*store.ItemSummary{
		item("1", "abc"),
		item("2", "abd"),
		item("3", "xyz"),
	})

	got := idx.Candidates("ab")
	require.Len(t, got, 2)

	// A query character absent from the corpus empties the result.
	assert.Empty(t, idx.Candidates("abq"))
	assert.Empty(t, idx.Candidates(""))

	// Candidates is a superset check only: char multiset, not order.
	assert.Len(t, idx.Candidates("ba"), 2)
}

func TestApplyDeleteRemovesFromPostings(t *testing.T) {
	idx := NewFromItems([]*store.ItemSummary{
		item("1", "abc"),
		item("2", "abd"),
	})

	idx.Apply(store.MutationEvent{Kind: store.EventDeleted, ID: "1"})

	assert.Equal(t, 1, idx.Live())
	got := idx.Candidates("ab")
	require.Len(t, got, 1)
	assert.Equal(t, "2", idx.Slot(got[0]).ID)
	assert.Nil(t, idx.Lookup("1"))
}

func TestApplyUpdatePatchesInPlaceWhenTextUnchanged(t *testing.T) {
	idx := NewFromItems([]*store.ItemSummary{item("1", "abc")})
	before := idx.Len()

	upd := item("1", "abc")
	upd.IsPinned = true
	upd.LastUsedAt = time.UnixMilli(9999)
	idx.Apply(store.MutationEvent{Kind: store.EventUpdated, Item: upd})

	assert.Equal(t, before, idx.Len(), "usage bump must not grow the slot table")
	s := idx.Lookup("1")
	require.NotNil(t, s)
	assert.True(t, s.Pinned)
	assert.Equal(t, int64(9999), s.LastUsedAt)
}

func TestApplyUpdateReindexesChangedText(t *testing.T) {
	idx := NewFromItems([]*store.ItemSummary{item("1", "abc")})

	idx.Apply(store.MutationEvent{Kind: store.EventUpdated, Item: item("1", "qrs")})

	assert.Empty(t, idx.Candidates("abc"))
	require.Len(t, idx.Candidates("qrs"), 1)
	assert.Equal(t, 1, idx.Live())
}

func TestApplyClearedResetsEverything(t *testing.T) {
	idx := NewFromItems([]*store.ItemSummary{item("1", "abc"), item("2", "def")})

	idx.Apply(store.MutationEvent{Kind: store.EventCleared})

	assert.Equal(t, 0, idx.Live())
	assert.Empty(t, idx.Candidates("a"))
}

func TestCompactPreservesLogicalContents(t *testing.T) {
	var items []*store.ItemSummary
	for i := 0; i < 100; i++ {
		items = append(items, item(fmt.Sprintf("id-%03d", i), fmt.Sprintf("text %d payload", i)))
	}
	idx := NewFromItems(items)

	for i := 0; i < 40; i++ {
		idx.remove(fmt.Sprintf("id-%03d", i*2))
	}
	before := idx.Items()

	idx.Compact()

	assert.Equal(t, idx.Live(), idx.Len(), "compact removes every tombstone")
	assert.Equal(t, before, idx.Items())
	require.NotEmpty(t, idx.Candidates("payload"))
}

// Rebuild and incremental patching must converge: applying a random
// mutation history event-by-event yields the same logical index as
// rebuilding from the final corpus.
func TestRebuildAndPatchConverge(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	corpus := map[string]*store.ItemSummary{}
	patched := New()

	texts := []string{"alpha beta", "gamma delta", "epsilon", "zeta eta theta", "iota kappa"}
	nextID := 0

	for step := 0; step < 500; step++ {
		switch op := rng.Intn(10); {
		case op < 5 || len(corpus) == 0: // insert
			id := fmt.Sprintf("id-%04d", nextID)
			nextID++
			it := item(id, texts[rng.Intn(len(texts))])
			it.LastUsedAt = time.UnixMilli(int64(1000 + step))
			corpus[id] = it
			patched.Apply(store.MutationEvent{Kind: store.EventInserted, Item: it})
		case op < 7: // update text or pin
			id := randomKey(rng, corpus)
			upd := *corpus[id]
			if rng.Intn(2) == 0 {
				upd.PlainText = texts[rng.Intn(len(texts))]
			} else {
				upd.IsPinned = !upd.IsPinned
			}
			upd.LastUsedAt = time.UnixMilli(int64(1000 + step))
			corpus[id] = &upd
			patched.Apply(store.MutationEvent{Kind: store.EventUpdated, Item: &upd})
		case op < 9: // delete
			id := randomKey(rng, corpus)
			delete(corpus, id)
			patched.Apply(store.MutationEvent{Kind: store.EventDeleted, ID: id})
		default: // clear
			corpus = map[string]*store.ItemSummary{}
			patched.Apply(store.MutationEvent{Kind: store.EventCleared})
		}
	}

	var final []*store.ItemSummary
	for _, it := range corpus {
		final = append(final, it)
	}
	rebuilt := NewFromItems(final)

	assert.Equal(t, rebuilt.Items(), patched.Items())
}

func randomKey(rng *rand.Rand, m map[string]*store.ItemSummary) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Map iteration order is random; sort for a reproducible pick.
	sort.Strings(keys)
	return keys[rng.Intn(len(keys))]
}
