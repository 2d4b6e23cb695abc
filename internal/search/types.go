package search

import (
	"github.com/Suehn/Scopy-sub006/internal/store"
)

// Mode selects the query interpretation. The dispatch switch in Search
// is exhaustive; adding a mode means extending it, not type-checking.
type Mode string

const (
	ModeExact     Mode = "exact"
	ModeFuzzy     Mode = "fuzzy"
	ModeFuzzyPlus Mode = "fuzzyPlus"
	ModeRegex     Mode = "regex"
)

// SortMode orders results within the pinned/unpinned groups.
type SortMode string

const (
	SortRelevance SortMode = "relevance"
	SortRecent    SortMode = "recent"
)

// Request is one search request.
type Request struct {
	Query    string
	Mode     Mode
	SortMode SortMode

	// AppFilter restricts results to one origin app.
	AppFilter string
	// TypeFilter restricts to one item type; TypeFilters, when
	// non-empty, takes precedence.
	TypeFilter  store.ItemType
	TypeFilters []store.ItemType

	// ForceFullFuzzy disables the fast prefilter path and guarantees an
	// exact, deterministic full-corpus result.
	ForceFullFuzzy bool

	Limit  int
	Offset int
}

// filter converts the request filters to a store filter.
func (r *Request) filter() store.Filter {
	return store.Filter{
		AppBundleID: r.AppFilter,
		TypeFilter:  r.TypeFilter,
		TypeFilters: r.TypeFilters,
	}
}

// TotalUnknown is the Total sentinel for fast-path pages whose exact
// count has not been computed yet.
const TotalUnknown = -1

// ResultPage is one page of results.
type ResultPage struct {
	Items []*store.ItemSummary
	// Total is the exact match count, or TotalUnknown on the fast path.
	Total   int
	HasMore bool
	// IsPrefilter is true when the page came from the approximate fast
	// path; reissue with ForceFullFuzzy for the exact result.
	IsPrefilter bool
}

// IndexState describes the fuzzy index lifecycle for diagnostics.
type IndexState string

const (
	IndexEmpty    IndexState = "empty"
	IndexBuilding IndexState = "building"
	IndexReady    IndexState = "ready"
)

// EngineStats is the diagnostics snapshot exposed to the settings UI.
type EngineStats struct {
	ItemCount   int
	TotalBytes  int64
	MutationSeq int64

	IndexState IndexState
	IndexSlots int
	IndexLive  int

	// Corpus metrics, zero until the lazy recompute has run.
	AvgTextLength float64
	MaxTextLength int
}
