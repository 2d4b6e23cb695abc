// Package search is the query façade over the store and the in-memory
// fuzzy index. One Engine serializes every search and every index
// mutation: searches are snapshot-consistent with the mutations
// committed before them, and the index never sees concurrent access.
package search

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/Suehn/Scopy-sub006/internal/config"
	scopyerr "github.com/Suehn/Scopy-sub006/internal/errors"
	"github.com/Suehn/Scopy-sub006/internal/index"
	"github.com/Suehn/Scopy-sub006/internal/store"
)

// prefilterCap bounds the candidate set the FTS prefilter may hand to
// the scorer on the fast path.
const prefilterCap = 4096

// ctxCheckInterval is how many scoring iterations run between context
// checks during a corpus scan.
const ctxCheckInterval = 512

// Engine answers search requests. All public methods serialize on one
// token and start by draining the store's mutation events, so a search
// issued after a committed delete can never return the deleted item.
type Engine struct {
	store  *store.Store
	reader *store.Reader
	cfg    config.SearchConfig
	logger *slog.Logger

	snapshotPath string

	idx     *index.Index
	state   IndexState
	lastSeq int64

	recent  *recentCache
	results *resultCache
	metrics *metricsCache

	// serial guards everything above. Named to make the single-searcher
	// discipline visible at call sites.
	serial chan struct{}
}

// NewEngine wires an engine over an open store and its read-only
// companion connection.
func NewEngine(st *store.Store, reader *store.Reader, cfg config.SearchConfig, snapshotPath string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:        st,
		reader:       reader,
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "search")),
		snapshotPath: snapshotPath,
		state:        IndexEmpty,
		recent:       newRecentCache(reader, cfg.RecentWindow, cfg.RecentTTL),
		results:      newResultCache(cfg.ResultCacheSize, cfg.ResultCacheTTL),
		metrics:      newMetricsCache(reader),
		serial:       make(chan struct{}, 1),
	}
	e.serial <- struct{}{}
	return e
}

// acquire takes the serialization token, honoring ctx.
func (e *Engine) acquire(ctx context.Context) error {
	select {
	case <-e.serial:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	e.serial <- struct{}{}
}

// drainEvents applies every pending mutation event without blocking.
// Any event invalidates the caches; the index is patched in place when
// it exists.
func (e *Engine) drainEvents() {
	dirty := false
	for {
		select {
		case ev, ok := <-e.store.Events():
			if !ok {
				if dirty {
					e.invalidateCaches()
				}
				return
			}
			dirty = true
			e.lastSeq = ev.Seq
			if e.idx != nil {
				e.idx.Apply(ev)
			}
		default:
			if dirty {
				e.invalidateCaches()
			}
			return
		}
	}
}

func (e *Engine) invalidateCaches() {
	e.recent.invalidate()
	e.results.purge()
	e.metrics.markStale()
}

// Invalidate discards the derived state: caches now, the index lazily
// on the next fuzzy search. Called when the store file changed outside
// the event stream.
func (e *Engine) Invalidate() {
	<-e.serial
	defer e.release()
	e.idx = nil
	e.state = IndexEmpty
	e.lastSeq = 0
	e.invalidateCaches()
}

// ensureIndex makes the fuzzy index current. A fingerprint mismatch
// (dropped events, external writes) forces a rebuild; the rebuild
// constructs a fresh index and swaps only on success, so cancellation
// leaves the previous state intact.
func (e *Engine) ensureIndex(ctx context.Context) error {
	fp, err := e.reader.Fingerprint()
	if err != nil {
		return err
	}
	if e.idx != nil && fp.MutationSeq == e.lastSeq {
		return nil
	}

	if e.idx == nil {
		if idx, ok := index.LoadSnapshot(e.snapshotPath, fp.String()); ok {
			e.logger.Info("fuzzy index restored from snapshot",
				slog.Int("slots", idx.Live()))
			e.idx = idx
			e.lastSeq = fp.MutationSeq
			e.state = IndexReady
			return nil
		}
	}

	e.state = IndexBuilding
	started := time.Now()
	fresh := index.New()
	err = e.reader.ForEachItem(ctx, func(it *store.ItemSummary) error {
		fresh.Add(it)
		return nil
	})
	if err != nil {
		if e.idx == nil {
			e.state = IndexEmpty
		} else {
			e.state = IndexReady
		}
		return err
	}

	e.idx = fresh
	e.lastSeq = fp.MutationSeq
	e.state = IndexReady
	e.logger.Info("fuzzy index rebuilt",
		slog.Int("slots", fresh.Live()),
		slog.Duration("elapsed", time.Since(started)))

	if err := fresh.SaveSnapshot(e.snapshotPath, fp.String()); err != nil {
		e.logger.Warn("snapshot save failed", slog.String("error", err.Error()))
	}
	return nil
}

// Search answers one request. Dispatch is exhaustive over the request
// mode; an unknown mode is a client error, not a panic.
func (e *Engine) Search(ctx context.Context, req Request) (*ResultPage, error) {
	e.normalize(&req)

	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()
	e.drainEvents()

	if strings.TrimSpace(req.Query) == "" {
		return e.browse(ctx, &req)
	}

	switch req.Mode {
	case ModeExact:
		return e.searchExact(ctx, &req)
	case ModeFuzzy, ModeFuzzyPlus:
		return e.searchFuzzy(ctx, &req)
	case ModeRegex:
		return e.searchRegex(ctx, &req)
	default:
		return nil, scopyerr.InvalidQuery("unknown search mode: "+string(req.Mode), nil)
	}
}

// normalize clamps paging and defaults the mode and sort.
func (e *Engine) normalize(req *Request) {
	if req.Mode == "" {
		req.Mode = ModeFuzzy
	}
	if req.SortMode == "" {
		req.SortMode = SortRelevance
	}
	if req.Limit <= 0 {
		req.Limit = e.cfg.DefaultLimit
	}
	if req.Limit > e.cfg.MaxLimit {
		req.Limit = e.cfg.MaxLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
}

// browse serves the empty query: a filtered page of history in
// pinned-first, most-recent-first order.
func (e *Engine) browse(ctx context.Context, req *Request) (*ResultPage, error) {
	page, err := e.reader.FetchFiltered(ctx, req.filter(), req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}
	return finishPage(page, req), nil
}

// searchFuzzy implements the progressive fuzzy modes. The fast path
// trades completeness for latency and says so via IsPrefilter; the
// exact path (ForceFullFuzzy) scores every candidate and reports an
// exact Total. Both paths use the same scorer, so an item ranked by the
// fast path keeps its score in the exact result.
func (e *Engine) searchFuzzy(ctx context.Context, req *Request) (*ResultPage, error) {
	if !req.ForceFullFuzzy {
		if page, ok := e.results.get(req); ok {
			return page, nil
		}
	}

	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}

	query := strings.ToLower(req.Query)
	runCtx := ctx
	if !req.ForceFullFuzzy && e.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Deadline)
		defer cancel()
	}

	// Short queries over a big corpus match nearly everything; scan the
	// recent window instead of scoring the world.
	if !req.ForceFullFuzzy &&
		len([]rune(query)) <= shortQueryRunes &&
		e.idx.Live() > e.cfg.PrefilterThreshold {
		page, err := e.fastPage(ctx, req, query)
		if err == nil {
			e.results.put(req, page)
		}
		return page, err
	}

	candidates := e.idx.Candidates(candidateRunes(query, req.Mode))

	// When the postings intersection covers most of the corpus the index
	// bought nothing; bound the work through the FTS prefilter instead.
	if !req.ForceFullFuzzy &&
		e.idx.Live() > e.cfg.PrefilterThreshold &&
		float64(len(candidates)) > e.cfg.MaxCandidateFraction*float64(e.idx.Live()) {
		page, err := e.prefilterPage(runCtx, req, query)
		if err == nil {
			e.results.put(req, page)
			return page, nil
		}
		if degraded, ok := e.degrade(ctx, runCtx, req, query, err); ok {
			return degraded, nil
		}
		return nil, err
	}

	page, err := e.scoreCandidates(runCtx, req, query, candidates)
	if err != nil {
		if degraded, ok := e.degrade(ctx, runCtx, req, query, err); ok {
			return degraded, nil
		}
		return nil, err
	}
	if !req.ForceFullFuzzy {
		e.results.put(req, page)
	}
	return page, nil
}

// degrade turns an internal deadline expiry into a fast-path page. A
// cancellation that came from the caller is returned as-is.
func (e *Engine) degrade(parent, run context.Context, req *Request, query string, err error) (*ResultPage, bool) {
	if parent.Err() != nil {
		return nil, false
	}
	if run.Err() == nil || !errors.Is(err, context.DeadlineExceeded) {
		return nil, false
	}
	e.logger.Debug("search deadline expired, degrading to fast path",
		slog.String("query", req.Query),
		slog.Duration("deadline", e.cfg.Deadline))
	page, ferr := e.fastPage(parent, req, query)
	if ferr != nil {
		return nil, false
	}
	return page, true
}

// scoreCandidates scores the candidate slots and selects the page. The
// exact Total is the number of candidates that actually matched after
// filters, so the full path always reports a real count.
func (e *Engine) scoreCandidates(ctx context.Context, req *Request, query string, candidates []int32) (*ResultPage, error) {
	tk := newTopK(req.Limit, req.Offset, req.SortMode)
	matched := 0

	for n, i := range candidates {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		s := e.idx.Slot(i)
		if s.Dead || !e.slotMatches(s, req) {
			continue
		}
		score, ok := e.scoreText(s.Text, query, req.Mode)
		if !ok {
			continue
		}
		matched++
		tk.Push(scored{slot: s, score: score})
	}

	page, hasMore := tk.Page(req.Limit, req.Offset)
	items, err := e.resolve(ctx, page)
	if err != nil {
		return nil, err
	}
	return &ResultPage{
		Items:   items,
		Total:   matched,
		HasMore: hasMore,
	}, nil
}

// prefilterPage scores only the ids the FTS prefilter admits. Bounded
// and approximate: Total stays unknown and the page is marked.
func (e *Engine) prefilterPage(ctx context.Context, req *Request, query string) (*ResultPage, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return &ResultPage{Total: TotalUnknown, IsPrefilter: true}, nil
	}
	ids, err := e.reader.PrefilterIDs(ctx, match, prefilterCap)
	if err != nil {
		return nil, err
	}

	tk := newTopK(req.Limit, req.Offset, req.SortMode)
	for n, id := range ids {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		s := e.idx.Lookup(id)
		if s == nil || !e.slotMatches(s, req) {
			continue
		}
		score, ok := e.scoreText(s.Text, query, req.Mode)
		if !ok {
			continue
		}
		tk.Push(scored{slot: s, score: score})
	}

	page, hasMore := tk.Page(req.Limit, req.Offset)
	items, err := e.resolve(ctx, page)
	if err != nil {
		return nil, err
	}
	return &ResultPage{
		Items:       items,
		Total:       TotalUnknown,
		HasMore:     hasMore || len(ids) == prefilterCap,
		IsPrefilter: true,
	}, nil
}

// fastPage scores the recent window only. This is the degraded answer
// when a deadline expires and the primary answer for very short
// queries on a large corpus.
func (e *Engine) fastPage(ctx context.Context, req *Request, query string) (*ResultPage, error) {
	items, err := e.recent.get(ctx)
	if err != nil {
		return nil, err
	}

	tk := newTopK(req.Limit, req.Offset, req.SortMode)
	for _, it := range items {
		if !e.itemMatchesFilter(it, req) {
			continue
		}
		text := index.SearchText(it)
		score, ok := e.scoreText(text, query, req.Mode)
		if !ok {
			continue
		}
		tk.Push(scored{slot: slotFor(it, text), score: score})
	}

	page, hasMore := tk.Page(req.Limit, req.Offset)
	out := make([]*store.ItemSummary, 0, len(page))
	byID := make(map[string]*store.ItemSummary, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	for _, sc := range page {
		if it, ok := byID[sc.slot.ID]; ok {
			out = append(out, it)
		}
	}
	return &ResultPage{
		Items:       out,
		Total:       TotalUnknown,
		HasMore:     hasMore || len(items) >= e.cfg.RecentWindow,
		IsPrefilter: true,
	}, nil
}

// searchRegex matches a compiled pattern against the recent window.
// Regex never scans the full corpus; the page is window-bounded and
// marked as such. Ordering is pinned-first recency, which the window
// already has.
func (e *Engine) searchRegex(ctx context.Context, req *Request) (*ResultPage, error) {
	re, err := regexp.Compile("(?i)" + req.Query)
	if err != nil {
		return nil, scopyerr.InvalidQuery("invalid regular expression", err)
	}

	items, err := e.recent.get(ctx)
	if err != nil {
		return nil, err
	}

	var matchedItems []*store.ItemSummary
	for n, it := range items {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !e.itemMatchesFilter(it, req) {
			continue
		}
		if re.MatchString(index.SearchText(it)) {
			matchedItems = append(matchedItems, it)
		}
	}

	start := req.Offset
	if start > len(matchedItems) {
		start = len(matchedItems)
	}
	end := start + req.Limit
	if end > len(matchedItems) {
		end = len(matchedItems)
	}
	return &ResultPage{
		Items:       matchedItems[start:end],
		Total:       len(matchedItems),
		HasMore:     end < len(matchedItems),
		IsPrefilter: true,
	}, nil
}

// candidateRunes returns the runes the postings intersection must see
// in a candidate. Token mode matches each token independently, so the
// separators between tokens must not constrain the candidate set: an
// item like "command,note" contains both tokens of "cm note" without
// containing a space.
func candidateRunes(query string, mode Mode) string {
	if mode != ModeFuzzyPlus {
		return query
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, query)
}

// scoreText applies the scorer for the request mode.
func (e *Engine) scoreText(text, query string, mode Mode) (float64, bool) {
	if mode == ModeFuzzyPlus {
		return ScoreTokens(text, query)
	}
	return Score(text, query)
}

// slotMatches applies the request filters at the slot level, before
// any row fetch.
func (e *Engine) slotMatches(s *index.Slot, req *Request) bool {
	if req.AppFilter != "" && s.AppBundleID != req.AppFilter {
		return false
	}
	return typeAllowed(s.Type, req)
}

func (e *Engine) itemMatchesFilter(it *store.ItemSummary, req *Request) bool {
	if req.AppFilter != "" && it.AppBundleID != req.AppFilter {
		return false
	}
	return typeAllowed(it.Type, req)
}

func typeAllowed(t store.ItemType, req *Request) bool {
	if len(req.TypeFilters) > 0 {
		for _, want := range req.TypeFilters {
			if t == want {
				return true
			}
		}
		return false
	}
	if req.TypeFilter != "" {
		return t == req.TypeFilter
	}
	return true
}

// resolve fetches the summaries for a ranked page, preserving rank
// order. A slot whose row vanished between ranking and fetch is
// dropped silently; the next drain removes it from the index too.
func (e *Engine) resolve(ctx context.Context, page []scored) ([]*store.ItemSummary, error) {
	if len(page) == 0 {
		return nil, nil
	}
	ids := make([]string, len(page))
	for i, sc := range page {
		ids[i] = sc.slot.ID
	}
	rows, err := e.reader.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*store.ItemSummary, 0, len(page))
	for _, id := range ids {
		if it, ok := rows[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// slotFor builds a transient slot for ranking items that are not in
// the index (recent-window fast path).
func slotFor(it *store.ItemSummary, text string) *index.Slot {
	return &index.Slot{
		ID:          it.ID,
		Text:        text,
		TextLen:     len([]rune(text)),
		Pinned:      it.IsPinned,
		LastUsedAt:  it.LastUsedAt.UnixMilli(),
		AppBundleID: it.AppBundleID,
		Type:        it.Type,
	}
}

// Stats reports the engine and corpus diagnostics snapshot.
func (e *Engine) Stats(ctx context.Context) (*EngineStats, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()
	e.drainEvents()

	st, err := e.reader.Stats(ctx)
	if err != nil {
		return nil, err
	}

	out := &EngineStats{
		ItemCount:   st.ItemCount,
		TotalBytes:  st.TotalBytes,
		MutationSeq: st.MutationSeq,
		IndexState:  e.state,
	}
	if e.idx != nil {
		out.IndexSlots = e.idx.Len()
		out.IndexLive = e.idx.Live()
	}
	if m := e.metrics.get(); m != nil {
		out.AvgTextLength = m.AvgTextLength
		out.MaxTextLength = m.MaxTextLength
	}
	return out, nil
}

// Run keeps the index warm between searches and persists a snapshot
// periodically, until ctx ends. Optional: the engine works without it,
// draining lazily at each call.
//
// Events are only ever consumed while holding the serialization token.
// Run waits on the store's wake signal, not the event channel itself:
// pulling an event out before taking the token would hide it from a
// concurrently running Search, which would then serve its caches
// without knowing about the mutation.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.persistSnapshot()
			return
		case _, ok := <-e.store.Wake():
			if !ok {
				return
			}
			<-e.serial
			e.drainEvents()
			e.release()
		case <-ticker.C:
			e.persistSnapshot()
		}
	}
}

// persistSnapshot saves the index if it is current with the store. A
// WAL checkpoint runs first so the fingerprint it is keyed by survives
// the store's own close-time checkpoint.
func (e *Engine) persistSnapshot() {
	<-e.serial
	defer e.release()

	if e.idx == nil || e.state != IndexReady {
		return
	}
	if err := e.store.Checkpoint(); err != nil {
		e.logger.Debug("pre-snapshot checkpoint failed", slog.String("error", err.Error()))
	}
	fp, err := e.reader.Fingerprint()
	if err != nil || fp.MutationSeq != e.lastSeq {
		return
	}
	if err := e.idx.SaveSnapshot(e.snapshotPath, fp.String()); err != nil {
		e.logger.Warn("snapshot save failed", slog.String("error", err.Error()))
	}
}

// Close persists the snapshot. The store and reader are owned by the
// caller and closed separately.
func (e *Engine) Close() {
	e.persistSnapshot()
}
