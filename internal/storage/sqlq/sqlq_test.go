package sqlq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newscorpus/internal/harvest"
)

func TestInsertUsesConflictClause(t *testing.T) {
	t.Parallel()

	rec := harvest.Record{
		Locator:      "https://example.com/a",
		Title:        "A",
		Category:     "kinhte",
		PublishedAt:  "2024-01-01 00:00:00",
		DiscoveredAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		CrawlState:   harvest.CrawlPending,
	}
	query, args, err := Question().Insert(rec)
	require.NoError(t, err)
	assert.Contains(t, query, "INSERT INTO articles")
	assert.Contains(t, query, "ON CONFLICT(url) DO NOTHING")
	assert.Equal(t, []any{
		"https://example.com/a", "A", "kinhte", "2024-01-01 00:00:00", "",
		"2024-01-02 03:04:05", false, false,
	}, args)
}

func TestCandidatesOrderingAndLimit(t *testing.T) {
	t.Parallel()

	query, args, err := Dollar().Candidates("kinhte", 6)
	require.NoError(t, err)
	assert.Contains(t, query, `ORDER BY published_date COLLATE "C" ASC, id ASC`)
	assert.Contains(t, query, "LIMIT 6")
	assert.Contains(t, query, "$1")
	assert.Len(t, args, 2)

	query, _, err = Question().Candidates("kinhte", 0)
	require.NoError(t, err)
	assert.NotContains(t, query, "LIMIT")
	assert.Contains(t, query, "ORDER BY published_date ASC, id ASC", "sqlite compares text bytewise already")
}

func TestResetOnlyTouchesSkipped(t *testing.T) {
	t.Parallel()

	query, args, err := Question().Reset("thoisu")
	require.NoError(t, err)
	assert.Contains(t, query, "UPDATE articles SET crawled = ?")
	assert.Contains(t, query, "used_in_dataset = ?")
	assert.Contains(t, args, "thoisu")
}

func TestTimeRoundTrip(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, ts, ParseTime(FormatTime(ts)))
	assert.Equal(t, "", FormatTime(time.Time{}))
	assert.True(t, ParseTime("garbage").IsZero())
	assert.Equal(t, time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC), ParseTime("2025-03-04T05:06:07"))
}

func TestState(t *testing.T) {
	t.Parallel()

	assert.Equal(t, harvest.CrawlAttempted, State(true))
	assert.Equal(t, harvest.CrawlPending, State(false))
}
