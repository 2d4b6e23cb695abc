package search

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suehn/Scopy-sub006/internal/index"
)

func slot(id string, pinned bool, lastUsed int64) *index.Slot {
	return &index.Slot{ID: id, Pinned: pinned, LastUsedAt: lastUsed}
}

func TestRankLessOrdering(t *testing.T) {
	pinnedLow := scored{slot: slot("a", true, 1), score: 1}
	unpinnedHigh := scored{slot: slot("b", false, 9), score: 100}
	assert.True(t, rankLess(pinnedLow, unpinnedHigh, SortRelevance), "pinned beats any score")

	better := scored{slot: slot("c", false, 1), score: 10}
	worse := scored{slot: slot("d", false, 9), score: 5}
	assert.True(t, rankLess(better, worse, SortRelevance))
	assert.True(t, rankLess(worse, better, SortRecent), "recent sort ignores score")

	// Equal score and recency: id ascending for determinism.
	x := scored{slot: slot("x", false, 5), score: 7}
	y := scored{slot: slot("y", false, 5), score: 7}
	assert.True(t, rankLess(x, y, SortRelevance))
	assert.False(t, rankLess(y, x, SortRelevance))
}

func TestTopKSelectsBestWithoutFullSort(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	var all []scored
	for i := 0; i < 1000; i++ {
		all = append(all, scored{
			slot:  slot(fmt.Sprintf("id-%04d", i), false, int64(rng.Intn(100))),
			score: float64(rng.Intn(10_000)),
		})
	}

	const limit, offset = 10, 5
	tk := newTopK(limit, offset, SortRelevance)
	for _, s := range all {
		tk.Push(s)
	}
	page, hasMore := tk.Page(limit, offset)
	require.Len(t, page, limit)
	assert.True(t, hasMore)

	reference := append([]scored(nil), all...)
	sort.SliceStable(reference, func(i, j int) bool {
		return rankLess(reference[i], reference[j], SortRelevance)
	})
	for i := range page {
		assert.Equal(t, reference[offset+i].slot.ID, page[i].slot.ID, "mismatch at rank %d", i)
	}
}

func TestTopKSmallStreams(t *testing.T) {
	tk := newTopK(10, 0, SortRelevance)
	tk.Push(scored{slot: slot("only", false, 1), score: 5})

	page, hasMore := tk.Page(10, 0)
	require.Len(t, page, 1)
	assert.False(t, hasMore)

	// Offset past everything: empty page, nothing more.
	empty := newTopK(5, 20, SortRelevance)
	for i := 0; i < 3; i++ {
		empty.Push(scored{slot: slot(fmt.Sprintf("s%d", i), false, 1), score: float64(i)})
	}
	page, hasMore = empty.Page(5, 20)
	assert.Empty(t, page)
	assert.False(t, hasMore)
}

func TestTopKOverflowSetsHasMore(t *testing.T) {
	tk := newTopK(2, 0, SortRelevance)
	for i := 0; i < 3; i++ {
		tk.Push(scored{slot: slot(fmt.Sprintf("s%d", i), false, 1), score: float64(i)})
	}
	page, hasMore := tk.Page(2, 0)
	require.Len(t, page, 2)
	assert.True(t, hasMore)
	assert.Equal(t, "s2", page[0].slot.ID)
	assert.Equal(t, "s1", page[1].slot.ID)
}
