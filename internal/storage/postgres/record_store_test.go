package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newscorpus/internal/harvest"
)

func newMockStore(t *testing.T) (*RecordStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS articles").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	store, err := NewWithPool(context.Background(), mock, false)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(context.Background(), nil, false)
	require.Error(t, err)
}

func TestNewWithPoolMustExist(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT to_regclass").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	_, err = NewWithPool(context.Background(), mock, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, harvest.ErrStateMissing))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReportsDuplicates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := harvest.Record{
		Locator:      "https://example.com/a",
		Title:        "A",
		Category:     "kinhte",
		PublishedAt:  "2024-01-01 00:00:00",
		DiscoveredAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		CrawlState:   harvest.CrawlPending,
	}
	args := []any{rec.Locator, rec.Title, "kinhte", rec.PublishedAt, "", "2024-01-02 00:00:00", false, false}

	mock.ExpectExec("INSERT INTO articles").WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO articles").WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	res, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, harvest.Inserted, res)

	res, err = store.Upsert(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, harvest.Duplicate, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchCandidatesScansRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	title := "A"
	category := "kinhte"
	published := "2024-01-01 00:00:00"
	collected := "2024-01-02 03:04:05"
	rows := pgxmock.NewRows([]string{
		"id", "url", "title", "category", "published_date",
		"description", "collected_at", "crawled", "used_in_dataset",
	}).AddRow(int64(7), "https://example.com/a", &title, &category, &published, (*string)(nil), &collected, false, false)

	mock.ExpectQuery(`SELECT .* FROM articles WHERE .* ORDER BY published_date COLLATE "C" ASC, id ASC LIMIT 4`).
		WithArgs("kinhte", false).
		WillReturnRows(rows)

	got, err := store.FetchCandidates(context.Background(), "kinhte", 4)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, harvest.Record{
		Seq:          7,
		Locator:      "https://example.com/a",
		Title:        "A",
		Category:     "kinhte",
		PublishedAt:  published,
		DiscoveredAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		CrawlState:   harvest.CrawlPending,
	}, got[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAndReset(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE articles SET crawled").
		WithArgs(true, "https://a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE articles SET crawled .* used_in_dataset").
		WithArgs(true, true, "https://b").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE articles SET crawled").
		WithArgs(false, "kinhte", true, false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	ctx := context.Background()
	require.NoError(t, store.MarkAttempted(ctx, "https://a"))
	require.NoError(t, store.MarkAccepted(ctx, "https://b"))
	n, err := store.Reset(ctx, "kinhte")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsAggregates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT category, crawled, used_in_dataset, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"category", "crawled", "used_in_dataset", "count"}).
			AddRow("kinhte", false, false, int64(5)).
			AddRow("kinhte", true, false, int64(2)).
			AddRow("kinhte", true, true, int64(3)))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Total)
	assert.Equal(t, harvest.CategoryStats{Total: 10, Pending: 5, Attempted: 5, Used: 3}, stats.ByCategory["kinhte"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	boom := errors.New("connection reset")
	mock.ExpectExec("UPDATE articles").WillReturnError(boom)

	err := store.MarkAttempted(context.Background(), "https://a")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
