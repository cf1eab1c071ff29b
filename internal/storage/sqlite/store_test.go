package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newscorpus/internal/harvest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "urls.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func record(locator, category, published string) harvest.Record {
	return harvest.Record{
		Locator:      locator,
		Title:        "title " + locator,
		Summary:      "summary",
		Category:     harvest.Category(category),
		PublishedAt:  published,
		DiscoveredAt: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		CrawlState:   harvest.CrawlPending,
	}
}

func TestOpenMustExist(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "missing.db"), MustExist: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, harvest.ErrStateMissing))
}

func TestOpenExistingDatabase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "urls.db")
	first, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	_, err = first.Upsert(context.Background(), record("https://a", "kinhte", "2024-01-01 00:00:00"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), Config{Path: path, MustExist: true})
	require.NoError(t, err)
	defer second.Close() //nolint:errcheck // test cleanup

	stats, err := second.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTemp(t)

	res, err := store.Upsert(ctx, record("https://a", "kinhte", "2024-01-01 00:00:00"))
	require.NoError(t, err)
	assert.Equal(t, harvest.Inserted, res)

	dup := record("https://a", "thoisu", "2030-01-01 00:00:00")
	dup.Title = "changed"
	res, err = store.Upsert(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, harvest.Duplicate, res)

	cands, err := store.FetchCandidates(ctx, "kinhte", 0)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "title https://a", cands[0].Title)
	assert.Equal(t, harvest.CrawlPending, cands[0].CrawlState)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), cands[0].DiscoveredAt)

	other, err := store.FetchCandidates(ctx, "thoisu", 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestFetchCandidatesOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTemp(t)

	for _, rec := range []harvest.Record{
		record("https://c", "kinhte", "2024-01-03 00:00:00"),
		record("https://a", "kinhte", "2024-01-01 00:00:00"),
		record("https://tie-1", "kinhte", "2024-01-02 00:00:00"),
		record("https://tie-2", "kinhte", "2024-01-02 00:00:00"),
		record("https://x", "thoisu", "2023-01-01 00:00:00"),
	} {
		_, err := store.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	cands, err := store.FetchCandidates(ctx, "kinhte", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a", "https://tie-1", "https://tie-2", "https://c"}, locators(cands))
	assert.Less(t, cands[1].Seq, cands[2].Seq)

	limited, err := store.FetchCandidates(ctx, "kinhte", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a", "https://tie-1"}, locators(limited))
}

func TestMarkTransitionsAndStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTemp(t)

	for _, loc := range []string{"https://a", "https://b", "https://c"} {
		_, err := store.Upsert(ctx, record(loc, "kinhte", "2024-01-01 00:00:00"))
		require.NoError(t, err)
	}
	_, err := store.Upsert(ctx, record("https://d", "thoisu", ""))
	require.NoError(t, err)

	require.NoError(t, store.MarkAccepted(ctx, "https://a"))
	require.NoError(t, store.MarkAttempted(ctx, "https://a"))
	require.NoError(t, store.MarkAttempted(ctx, "https://b"))
	require.NoError(t, store.MarkAttempted(ctx, "https://b"))
	require.NoError(t, store.MarkAttempted(ctx, "https://unknown"))

	cands, err := store.FetchCandidates(ctx, "kinhte", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://c"}, locators(cands))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.Attempted)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(1), stats.Used)
	assert.Equal(t, harvest.CategoryStats{Total: 3, Pending: 1, Attempted: 2, Used: 1}, stats.ByCategory["kinhte"])
	assert.Equal(t, harvest.CategoryStats{Total: 1, Pending: 1}, stats.ByCategory["thoisu"])
}

func TestResetKeepsAccepted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTemp(t)

	for _, loc := range []string{"https://a", "https://b"} {
		_, err := store.Upsert(ctx, record(loc, "kinhte", "2024-01-01 00:00:00"))
		require.NoError(t, err)
	}
	require.NoError(t, store.MarkAccepted(ctx, "https://a"))
	require.NoError(t, store.MarkAttempted(ctx, "https://b"))

	n, err := store.Reset(ctx, "kinhte")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	cands, err := store.FetchCandidates(ctx, "kinhte", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://b"}, locators(cands))
}

func locators(recs []harvest.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Locator)
	}
	return out
}
