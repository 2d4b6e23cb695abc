package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/Suehn/Scopy-sub006/internal/store"
)

// recentCache holds the N most recent summaries, the scan source for
// the short-query, prefilter and regex fast paths. It refreshes on TTL
// expiry and is invalidated immediately by any mutation event, so a
// deleted item never outlives the TTL in search results.
type recentCache struct {
	reader *store.Reader
	window int
	ttl    time.Duration

	items     []*store.ItemSummary
	fetchedAt time.Time
	valid     bool
}

func newRecentCache(reader *store.Reader, window int, ttl time.Duration) *recentCache {
	return &recentCache{reader: reader, window: window, ttl: ttl}
}

// get returns the cached window, refetching when invalid or expired.
func (c *recentCache) get(ctx context.Context) ([]*store.ItemSummary, error) {
	if c.valid && time.Since(c.fetchedAt) < c.ttl {
		return c.items, nil
	}
	page, err := c.reader.FetchRecent(ctx, c.window, 0)
	if err != nil {
		if c.valid {
			// Serve the stale window rather than failing the search.
			return c.items, nil
		}
		return nil, err
	}
	c.items = page.Items
	c.fetchedAt = time.Now()
	c.valid = true
	return c.items, nil
}

func (c *recentCache) invalidate() {
	c.valid = false
	c.items = nil
}

// resultCache caches fast-path result pages for short queries, keyed by
// the full request signature. Entries expire on TTL and the whole cache
// is purged on any mutation.
type resultCache struct {
	lru *expirable.LRU[string, *ResultPage]
}

func newResultCache(size int, ttl time.Duration) *resultCache {
	return &resultCache{lru: expirable.NewLRU[string, *ResultPage](size, nil, ttl)}
}

// requestKey is the cache key for a request. Every field that changes
// the result participates.
func requestKey(r *Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%s|%s|", r.Mode, r.SortMode, r.Query, r.AppFilter, r.TypeFilter)
	for _, t := range r.TypeFilters {
		b.WriteString(string(t))
		b.WriteByte(',')
	}
	fmt.Fprintf(&b, "|%d|%d", r.Limit, r.Offset)
	return b.String()
}

func (c *resultCache) get(r *Request) (*ResultPage, bool) {
	page, ok := c.lru.Get(requestKey(r))
	if !ok {
		return nil, false
	}
	// Copy the item slice so callers never alias cached state.
	cp := *page
	cp.Items = append([]*store.ItemSummary(nil), page.Items...)
	return &cp, true
}

func (c *resultCache) put(r *Request, page *ResultPage) {
	cp := *page
	cp.Items = append([]*store.ItemSummary(nil), page.Items...)
	c.lru.Add(requestKey(r), &cp)
}

func (c *resultCache) purge() {
	c.lru.Purge()
}

// metricsCache keeps the corpus metrics that need a full scan. The scan
// runs in a background goroutine, deduplicated by singleflight, and is
// never awaited on the hot search path: callers get the last computed
// value immediately and the refresh lands for the next caller.
type metricsCache struct {
	reader *store.Reader

	mu      sync.Mutex
	current *store.CorpusMetrics
	stale   bool

	group singleflight.Group
}

func newMetricsCache(reader *store.Reader) *metricsCache {
	return &metricsCache{reader: reader, stale: true}
}

// get returns the last computed metrics (possibly nil) and kicks off a
// background recompute when stale.
func (m *metricsCache) get() *store.CorpusMetrics {
	m.mu.Lock()
	current, stale := m.current, m.stale
	m.mu.Unlock()

	if stale {
		go func() {
			_, _, _ = m.group.Do("corpus-metrics", func() (any, error) {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				computed, err := m.reader.ComputeCorpusMetrics(ctx)
				if err != nil {
					slog.Debug("corpus metrics recompute failed",
						slog.String("error", err.Error()))
					return nil, err
				}
				m.mu.Lock()
				m.current = computed
				m.stale = false
				m.mu.Unlock()
				return computed, nil
			})
		}()
	}
	return current
}

func (m *metricsCache) markStale() {
	m.mu.Lock()
	m.stale = true
	m.mu.Unlock()
}
