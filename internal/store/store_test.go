package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scopyerr "github.com/Suehn/Scopy-sub006/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Options{
		Path:             filepath.Join(dir, "scopy.db"),
		PayloadDir:       filepath.Join(dir, "payloads"),
		InlineSizeCutoff: 64,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testItem(text string) *ItemSummary {
	hash := sha256.Sum256([]byte(text))
	return &ItemSummary{
		Type:        TypeText,
		ContentHash: hex.EncodeToString(hash[:]),
		PlainText:   text,
		SizeBytes:   int64(len(text)),
	}
}

func mustUpsert(t *testing.T, s *Store, text string) *ItemSummary {
	t.Helper()
	res, err := s.Upsert(context.Background(), testItem(text), []byte(text))
	require.NoError(t, err)
	return res.Item
}

func TestOpenCreatesSchema(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ItemCount)
	assert.Equal(t, int64(0), stats.TotalBytes)
}

func TestOpenRefusesSecondWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scopy.db")

	first, err := Open(Options{Path: path})
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(Options{Path: path})
	require.Error(t, err)
	assert.Equal(t, scopyerr.ErrCodeStoreLocked, scopyerr.GetCode(err))
}

func TestUpsertDeduplicatesByHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Upsert(ctx, testItem("hello world"), []byte("hello world"))
	require.NoError(t, err)
	assert.False(t, first.Updated)
	assert.Equal(t, 1, first.Item.UseCount)

	second, err := s.Upsert(ctx, testItem("hello world"), []byte("hello world"))
	require.NoError(t, err)
	assert.True(t, second.Updated)
	assert.Equal(t, first.Item.ID, second.Item.ID)
	assert.Equal(t, 2, second.Item.UseCount)
	assert.False(t, second.Item.LastUsedAt.Before(first.Item.LastUsedAt))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemCount)
}

func TestUpsertWritesExternalPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	big := make([]byte, 256) // above the 64-byte test cutoff
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	item := testItem(string(big))
	res, err := s.Upsert(ctx, item, big)
	require.NoError(t, err)
	require.NotEmpty(t, res.Item.StorageRef)

	ref := filepath.Join(s.opts.PayloadDir, res.Item.StorageRef)
	_, err = os.Stat(ref)
	require.NoError(t, err)

	payload, err := s.GetPayload(ctx, res.Item.ID)
	require.NoError(t, err)
	assert.Equal(t, big, payload)

	require.NoError(t, s.Delete(ctx, res.Item.ID))
	_, err = os.Stat(ref)
	assert.True(t, os.IsNotExist(err), "external payload must be removed with the row")
}

func TestDeletePublishesEventAndUpdatesStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := mustUpsert(t, s, "doomed")
	drainEventsForTest(s)

	require.NoError(t, s.Delete(ctx, it.ID))

	ev := <-s.Events()
	assert.Equal(t, EventDeleted, ev.Kind)
	assert.Equal(t, it.ID, ev.ID)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ItemCount)
	assert.Equal(t, int64(0), stats.TotalBytes)
}

func TestPublishWakesWithoutConsumingEvents(t *testing.T) {
	s := newTestStore(t)

	mustUpsert(t, s, "wake me up")

	select {
	case <-s.Wake():
	default:
		t.Fatal("mutation must signal the wake channel")
	}
	// The wake signal is only a hint; the event itself stays queued for
	// whoever drains Events.
	select {
	case ev := <-s.Events():
		assert.Equal(t, EventInserted, ev.Kind)
	default:
		t.Fatal("event must remain on the channel after a wake receive")
	}
}

func TestClearAllKeepPinned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pinned := mustUpsert(t, s, "keep me")
	_, err := s.SetPinned(ctx, pinned.ID, true)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		mustUpsert(t, s, fmt.Sprintf("discard %d", i))
	}

	require.NoError(t, s.ClearAll(ctx, true))

	page, err := s.FetchRecent(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, pinned.ID, page.Items[0].ID)
	assert.True(t, page.Items[0].IsPinned)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemCount)
}

func TestFetchRecentOrderingAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, mustUpsert(t, s, fmt.Sprintf("item %d", i)).ID)
	}
	// Pin an older item; it must float to the top.
	_, err := s.SetPinned(ctx, ids[1], true)
	require.NoError(t, err)

	page, err := s.FetchRecent(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.True(t, page.HasMore)
	assert.Equal(t, ids[1], page.Items[0].ID, "pinned item first")

	// Offset beyond the corpus yields an empty page, not an error.
	empty, err := s.FetchRecent(ctx, 3, 100)
	require.NoError(t, err)
	assert.Empty(t, empty.Items)
	assert.False(t, empty.HasMore)
}

func TestTouchBumpsRecencyNotContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := mustUpsert(t, s, "paste me")
	touched, err := s.Touch(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, touched.UseCount)
	assert.Equal(t, it.PlainText, touched.PlainText)
}

func TestSetNoteRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := mustUpsert(t, s, "snippet")
	noted, err := s.SetNote(ctx, it.ID, "deploy command")
	require.NoError(t, err)
	assert.Equal(t, "deploy command", noted.Note)

	got, err := s.GetByID(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "deploy command", got.Note)
}

func TestCleanupEvictsOldestUnpinned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keep := mustUpsert(t, s, "oldest but pinned")
	_, err := s.SetPinned(ctx, keep.ID, true)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		mustUpsert(t, s, fmt.Sprintf("filler %d", i))
	}

	evicted, err := s.Cleanup(ctx, CleanupPolicy{MaxItems: 5, MaxTotalBytes: 1 << 30})
	require.NoError(t, err)
	assert.Equal(t, 6, evicted)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.ItemCount)

	// The pinned item survives even though it is the oldest.
	_, err = s.GetByID(ctx, keep.ID)
	assert.NoError(t, err)
}

func TestCleanupStopsWhenOnlyPinnedRemain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		it := mustUpsert(t, s, fmt.Sprintf("pinned %d", i))
		_, err := s.SetPinned(ctx, it.ID, true)
		require.NoError(t, err)
	}

	// Everything is pinned and over limit; cleanup must terminate.
	evicted, err := s.Cleanup(ctx, CleanupPolicy{MaxItems: 1, MaxTotalBytes: 1 << 30})
	require.NoError(t, err)
	assert.Equal(t, 0, evicted)
}

func TestFingerprintChangesWithMutations(t *testing.T) {
	s := newTestStore(t)

	before, err := s.Fingerprint()
	require.NoError(t, err)

	mustUpsert(t, s, "bump the counter")

	after, err := s.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, before.MutationSeq, after.MutationSeq)
	assert.NotEqual(t, before.String(), after.String())
}

func TestMutationSeqIsMonotonic(t *testing.T) {
	s := newTestStore(t)

	var last int64
	for i := 0; i < 4; i++ {
		mustUpsert(t, s, fmt.Sprintf("seq %d", i))
		ev := <-s.Events()
		assert.Greater(t, ev.Seq, last)
		last = ev.Seq
	}
}

// drainEventsForTest empties the event channel without blocking.
func drainEventsForTest(s *Store) {
	for {
		select {
		case <-s.Events():
		default:
			return
		}
	}
}
