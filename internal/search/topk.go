package search

import (
	"container/heap"

	"github.com/Suehn/Scopy-sub006/internal/index"
)

// scored pairs a candidate slot with its relevance score.
type scored struct {
	slot  *index.Slot
	score float64
}

// rankLess reports whether a ranks strictly before b for the given sort
// mode: pinned first, then score (or recency), tie-broken by recency
// then id ascending so equal corpora always order identically.
func rankLess(a, b scored, sort SortMode) bool {
	if a.slot.Pinned != b.slot.Pinned {
		return a.slot.Pinned
	}
	if sort == SortRecent {
		if a.slot.LastUsedAt != b.slot.LastUsedAt {
			return a.slot.LastUsedAt > b.slot.LastUsedAt
		}
	} else if a.score != b.score {
		return a.score > b.score
	}
	if a.slot.LastUsedAt != b.slot.LastUsedAt {
		return a.slot.LastUsedAt > b.slot.LastUsedAt
	}
	return a.slot.ID < b.slot.ID
}

// topK selects the best offset+limit candidates from a stream without
// sorting the whole candidate set. It keeps a bounded min-heap with the
// worst kept element at the root; a push beyond capacity evicts it.
type topK struct {
	h        rankHeap
	capacity int
	overflow bool
}

func newTopK(limit, offset int, sort SortMode) *topK {
	return &topK{
		h:        rankHeap{sort: sort},
		capacity: limit + offset + 1,
	}
}

// Push offers one candidate.
func (t *topK) Push(s scored) {
	if t.h.Len() < t.capacity {
		heap.Push(&t.h, s)
		return
	}
	t.overflow = true
	// Replace the root only if the candidate ranks before it.
	if rankLess(s, t.h.items[0], t.h.sort) {
		t.h.items[0] = s
		heap.Fix(&t.h, 0)
	}
}

// Page returns the selected candidates in rank order, sliced to
// [offset, offset+limit), and whether more candidates ranked beyond the
// returned window.
func (t *topK) Page(limit, offset int) (page []scored, hasMore bool) {
	n := t.h.Len()
	ordered := make([]scored, n)
	// Popping the min-heap yields worst-first; fill back to front.
	for i := n - 1; i >= 0; i-- {
		ordered[i] = heap.Pop(&t.h).(scored)
	}

	if offset >= len(ordered) {
		return nil, false
	}
	end := offset + limit
	if end > len(ordered) {
		end = len(ordered)
	}
	hasMore = t.overflow || end < len(ordered)
	return ordered[offset:end], hasMore
}

// rankHeap is a min-heap whose root is the worst kept candidate.
type rankHeap struct {
	items []scored
	sort  SortMode
}

func (h *rankHeap) Len() int { return len(h.items) }

func (h *rankHeap) Less(i, j int) bool {
	// Inverted: the root must be the element evicted first.
	return rankLess(h.items[j], h.items[i], h.sort)
}

func (h *rankHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *rankHeap) Push(x any) { h.items = append(h.items, x.(scored)) }

func (h *rankHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}
