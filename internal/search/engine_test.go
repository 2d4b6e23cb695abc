package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suehn/Scopy-sub006/internal/config"
	scopyerr "github.com/Suehn/Scopy-sub006/internal/errors"
	"github.com/Suehn/Scopy-sub006/internal/index"
	"github.com/Suehn/Scopy-sub006/internal/store"
)

type testEnv struct {
	store  *store.Store
	reader *store.Reader
	engine *Engine
}

func newTestEnv(t *testing.T, cfg config.SearchConfig) *testEnv {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scopy.db")

	s, err := store.Open(store.Options{Path: path, PayloadDir: filepath.Join(dir, "payloads")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	r, err := store.OpenReader(path, 5000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	e := NewEngine(s, r, cfg, filepath.Join(dir, "fuzzy.snap"), nil)
	return &testEnv{store: s, reader: r, engine: e}
}

func defaultTestConfig() config.SearchConfig {
	return config.SearchConfig{
		DefaultLimit:         50,
		MaxLimit:             500,
		Deadline:             5 * time.Second,
		PrefilterThreshold:   100_000, // effectively disabled unless a test lowers it
		MaxCandidateFraction: 0.85,
		RecentWindow:         500,
		RecentTTL:            30 * time.Second,
		ResultCacheSize:      32,
		ResultCacheTTL:       10 * time.Second,
	}
}

func (te *testEnv) insert(t *testing.T, text string) *store.ItemSummary {
	t.Helper()
	hash := sha256.Sum256([]byte(text))
	res, err := te.store.Upsert(context.Background(), &store.ItemSummary{
		Type:        store.TypeText,
		ContentHash: hex.EncodeToString(hash[:]),
		PlainText:   text,
		SizeBytes:   int64(len(text)),
	}, []byte(text))
	require.NoError(t, err)
	// Recency ties make ordering assertions flaky; space the rows out.
	time.Sleep(3 * time.Millisecond)
	return res.Item
}

func TestExactPrefixScenario(t *testing.T) {
	te := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	te.insert(t, "abc")
	te.insert(t, "abd")
	te.insert(t, "xyz")

	page, err := te.engine.Search(ctx, Request{Query: "ab", Mode: ModeExact})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "abd", page.Items[0].PlainText, "most recent first on relevance tie")
	assert.Equal(t, "abc", page.Items[1].PlainText)
	assert.Equal(t, 2, page.Total)
	assert.False(t, page.HasMore)
	assert.False(t, page.IsPrefilter)
}

func TestEmptyQueryBrowsesPinnedFirst(t *testing.T) {
	te := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	b := te.insert(t, "item B, oldest")
	for i := 0; i < 5; i++ {
		te.insert(t, fmt.Sprintf("newer item %d", i))
	}
	_, err := te.store.SetPinned(ctx, b.ID, true)
	require.NoError(t, err)

	page, err := te.engine.Search(ctx, Request{SortMode: SortRecent})
	require.NoError(t, err)
	require.NotEmpty(t, page.Items)
	assert.Equal(t, b.ID, page.Items[0].ID, "pinned item first regardless of its timestamp")
}

func TestFuzzyPlusTokenScenario(t *testing.T) {
	te := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	want := te.insert(t, "Command note here")
	te.insert(t, "Comment")

	page, err := te.engine.Search(ctx, Request{Query: "cm note", Mode: ModeFuzzyPlus})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, want.ID, page.Items[0].ID)
	assert.Equal(t, 1, page.Total)
}

func TestFuzzyPlusMatchesWithoutSeparatorInText(t *testing.T) {
	te := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	// Both tokens are present but nothing in the text matches the space
	// between them; the candidate intersection must not demand one.
	want := te.insert(t, "command,note")
	te.insert(t, "Comment")

	for _, force := range []bool{false, true} {
		page, err := te.engine.Search(ctx, Request{
			Query: "cm note", Mode: ModeFuzzyPlus, ForceFullFuzzy: force,
		})
		require.NoError(t, err)
		require.Len(t, page.Items, 1, "force=%v", force)
		assert.Equal(t, want.ID, page.Items[0].ID, "force=%v", force)
	}
}

func TestDeleteThenSearchNeverReturnsDeleted(t *testing.T) {
	te := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	doomed := te.insert(t, "unique sentinel payload")

	page, err := te.engine.Search(ctx, Request{Query: "sentinel", Mode: ModeFuzzy})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	require.NoError(t, te.store.Delete(ctx, doomed.ID))

	// No TTL wait: the engine must drain the delete event before scanning.
	page, err = te.engine.Search(ctx, Request{Query: "sentinel", Mode: ModeFuzzy})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestDeleteThenSearchWithRunLoopActive(t *testing.T) {
	te := newTestEnv(t, defaultTestConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		te.engine.Run(ctx)
		close(done)
	}()

	doomed := te.insert(t, "run loop sentinel")

	page, err := te.engine.Search(context.Background(), Request{Query: "sentinel", Mode: ModeRegex})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	// The run loop must not be able to hide the delete event from the
	// search that follows it: whoever holds the token sees it first.
	require.NoError(t, te.store.Delete(context.Background(), doomed.ID))

	page, err = te.engine.Search(context.Background(), Request{Query: "sentinel", Mode: ModeRegex})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	cancel()
	<-done
}

func TestForceFullFuzzyIsDeterministicAndMatchesReference(t *testing.T) {
	te := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	texts := []string{
		"git push origin main",
		"git pull --rebase",
		"original content backup",
		"grep -rn pattern",
		"margin: 0 auto",
		"login credentials",
	}
	items := make(map[string]*store.ItemSummary)
	for _, txt := range texts {
		it := te.insert(t, txt)
		items[it.ID] = it
	}

	req := Request{Query: "gin", Mode: ModeFuzzy, ForceFullFuzzy: true}

	first, err := te.engine.Search(ctx, req)
	require.NoError(t, err)
	second, err := te.engine.Search(ctx, req)
	require.NoError(t, err)
	require.Equal(t, pageIDs(first), pageIDs(second), "repeated exact searches are deterministic")
	assert.Equal(t, first.Total, second.Total)
	assert.False(t, first.IsPrefilter)

	// Naive reference: score every item, sort with the same ordering.
	type ref struct {
		it    *store.ItemSummary
		score float64
	}
	var refs []ref
	for _, it := range items {
		if s, ok := Score(index.SearchText(it), "gin"); ok {
			refs = append(refs, ref{it: it, score: s})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.it.IsPinned != b.it.IsPinned {
			return a.it.IsPinned
		}
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.it.LastUsedAt.Equal(b.it.LastUsedAt) {
			return a.it.LastUsedAt.After(b.it.LastUsedAt)
		}
		return a.it.ID < b.it.ID
	})
	require.Equal(t, len(refs), first.Total)
	for i, r := range refs {
		assert.Equal(t, r.it.ID, first.Items[i].ID, "engine order matches reference at %d", i)
	}
}

func TestShortQueryFastPathThenExactRefinement(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.PrefilterThreshold = 10 // force the large-corpus behavior
	te := newTestEnv(t, cfg)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		te.insert(t, fmt.Sprintf("note ab%02d", i))
	}

	fast, err := te.engine.Search(ctx, Request{Query: "ab", Mode: ModeFuzzy, Limit: 5})
	require.NoError(t, err)
	assert.True(t, fast.IsPrefilter)
	assert.Equal(t, TotalUnknown, fast.Total)
	require.Len(t, fast.Items, 5)

	full, err := te.engine.Search(ctx, Request{Query: "ab", Mode: ModeFuzzy, Limit: 5, ForceFullFuzzy: true})
	require.NoError(t, err)
	assert.False(t, full.IsPrefilter)
	assert.Equal(t, 30, full.Total)
	require.Len(t, full.Items, 5)

	// Same scorer on both paths: the fast page agrees with the exact one.
	assert.Equal(t, pageIDs(full), pageIDs(fast))
}

func TestRegexOverRecentWindow(t *testing.T) {
	te := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	te.insert(t, "https://example.com/path")
	te.insert(t, "plain text, no link")
	te.insert(t, "http://internal.host")

	page, err := te.engine.Search(ctx, Request{Query: `^https?://`, Mode: ModeRegex})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Total)
	assert.True(t, page.IsPrefilter, "regex pages are window-bounded")
}

func TestRegexCompileErrorIsInvalidQuery(t *testing.T) {
	te := newTestEnv(t, defaultTestConfig())

	_, err := te.engine.Search(context.Background(), Request{Query: "([unclosed", Mode: ModeRegex})
	require.Error(t, err)
	assert.True(t, scopyerr.IsInvalidQuery(err))
}

func TestUnknownModeIsInvalidQuery(t *testing.T) {
	te := newTestEnv(t, defaultTestConfig())

	_, err := te.engine.Search(context.Background(), Request{Query: "x", Mode: Mode("semantic")})
	require.Error(t, err)
	assert.True(t, scopyerr.IsInvalidQuery(err))
}

func TestAppAndTypeFiltersApplyToFuzzy(t *testing.T) {
	te := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	hash := sha256.Sum256([]byte("filter target"))
	_, err := te.store.Upsert(ctx, &store.ItemSummary{
		Type:        store.TypeMarkup,
		ContentHash: hex.EncodeToString(hash[:]),
		PlainText:   "filter target",
		AppBundleID: "com.example.editor",
	}, []byte("filter target"))
	require.NoError(t, err)
	te.insert(t, "filter decoy")

	page, err := te.engine.Search(ctx, Request{
		Query: "filter", Mode: ModeFuzzy, AppFilter: "com.example.editor",
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "filter target", page.Items[0].PlainText)

	page, err = te.engine.Search(ctx, Request{
		Query: "filter", Mode: ModeFuzzy, TypeFilters: []store.ItemType{store.TypeMarkup},
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "filter target", page.Items[0].PlainText)
}

func TestCancelledSearchLeavesStateUntouched(t *testing.T) {
	te := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	te.insert(t, "survives cancellation")
	te.insert(t, "second row")

	// Warm the index, the result cache, and the recent window.
	_, err := te.engine.Search(ctx, Request{Query: "survives", Mode: ModeFuzzy})
	require.NoError(t, err)
	_, err = te.engine.Search(ctx, Request{Query: "row", Mode: ModeRegex})
	require.NoError(t, err)

	idxBefore := te.engine.idx.Items()
	recentBefore := append([]*store.ItemSummary(nil), te.engine.recent.items...)
	resultsBefore := te.engine.results.lru.Len()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = te.engine.Search(cancelled, Request{Query: "survives", Mode: ModeFuzzy, ForceFullFuzzy: true})
	require.Error(t, err)

	assert.Equal(t, idxBefore, te.engine.idx.Items(), "index unchanged by a cancelled scan")
	assert.Equal(t, recentBefore, te.engine.recent.items, "recent window unchanged")
	assert.Equal(t, resultsBefore, te.engine.results.lru.Len(), "result cache unchanged")

	// And the engine still answers correctly afterwards.
	page, err := te.engine.Search(ctx, Request{Query: "survives", Mode: ModeFuzzy, ForceFullFuzzy: true})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
}

func TestPaginationOffsetBeyondTotal(t *testing.T) {
	te := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		te.insert(t, fmt.Sprintf("page item %d", i))
	}

	page, err := te.engine.Search(ctx, Request{Limit: 10, Offset: 50})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
}

func TestSnapshotSkipsRebuildAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scopy.db")
	snap := filepath.Join(dir, "fuzzy.snap")

	s, err := store.Open(store.Options{Path: path})
	require.NoError(t, err)
	r, err := store.OpenReader(path, 5000)
	require.NoError(t, err)

	e := NewEngine(s, r, defaultTestConfig(), snap, nil)
	hash := sha256.Sum256([]byte("persist me"))
	_, err = s.Upsert(context.Background(), &store.ItemSummary{
		Type: store.TypeText, ContentHash: hex.EncodeToString(hash[:]), PlainText: "persist me",
	}, []byte("persist me"))
	require.NoError(t, err)

	_, err = e.Search(context.Background(), Request{Query: "persist", Mode: ModeFuzzy})
	require.NoError(t, err)
	e.Close()
	require.NoError(t, r.Close())
	require.NoError(t, s.Close())

	// Reopen: the snapshot fingerprint matches, so the index loads
	// without a corpus scan and immediately serves results.
	s2, err := store.Open(store.Options{Path: path})
	require.NoError(t, err)
	defer s2.Close()
	r2, err := store.OpenReader(path, 5000)
	require.NoError(t, err)
	defer r2.Close()

	e2 := NewEngine(s2, r2, defaultTestConfig(), snap, nil)
	page, err := e2.Search(context.Background(), Request{Query: "persist", Mode: ModeFuzzy})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	stats, err := e2.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, IndexReady, stats.IndexState)
}

func pageIDs(p *ResultPage) []string {
	ids := make([]string, len(p.Items))
	for i, it := range p.Items {
		ids[i] = it.ID
	}
	return ids
}
