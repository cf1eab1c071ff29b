package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/newscorpus/internal/fetcher/colly"
	"github.com/JakeFAU/newscorpus/internal/harvest"
	"github.com/JakeFAU/newscorpus/internal/storage/memory"
)

func rssWith(links ...string) string {
	body := `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>`
	for i, link := range links {
		body += `<item><title>item</title><link>` + link + `</link><pubDate>Mon, 0` +
			string(rune('1'+i)) + ` Jan 2024 00:00:00 +0000</pubDate></item>`
	}
	return body + `</channel></rss>`
}

func TestIngestorEndToEndOverHTTP(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/kinhte.rss", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(rssWith(
			"https://news.test/A", "https://news.test/B", "https://news.test/A#dup",
			"https://news.test/D", "https://news.test/E",
		)))
	})
	mux.HandleFunc("/broken.rss", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := memory.NewRecordStore()
	clock := &fakeClock{}
	ing := NewIngestor(collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}), store, clock, Config{
		Sources: []Source{
			{Category: "broken", URL: srv.URL + "/broken.rss"},
			{Category: "kinhte", URL: srv.URL + "/kinhte.rss"},
		},
		Delay: time.Second,
	}, zap.NewNop())

	report, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.New)
	assert.Equal(t, 1, report.Duplicate)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Feeds, 2)

	var feedErr *Error
	require.True(t, errors.As(report.Feeds[0].Err, &feedErr))
	assert.Equal(t, KindStatus, feedErr.Kind)
	assert.Equal(t, http.StatusInternalServerError, feedErr.StatusCode)

	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.sleeps())

	cands, err := store.FetchCandidates(context.Background(), "kinhte", 0)
	require.NoError(t, err)
	require.Len(t, cands, 4)
	assert.Equal(t, "https://news.test/A", cands[0].Locator)
	assert.Equal(t, "2024-01-01 00:00:00", cands[0].PublishedAt)
	assert.Equal(t, clock.Now(), cands[0].DiscoveredAt)
}

func TestIngestorIsIdempotent(t *testing.T) {
	t.Parallel()

	transport := &staticTransport{body: rssWith("https://news.test/1", "https://news.test/2")}
	store := memory.NewRecordStore()
	ing := NewIngestor(transport, store, &fakeClock{}, Config{
		Sources: []Source{{Category: "thoisu", URL: "https://feeds.test/thoisu.rss"}},
	}, zap.NewNop())

	first, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.New)

	before, err := store.Stats(context.Background())
	require.NoError(t, err)

	second, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.New)
	assert.Equal(t, 2, second.Duplicate)

	after, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestIngestorIsolatesNetworkAndParseFailures(t *testing.T) {
	t.Parallel()

	transport := transportFunc(func(_ context.Context, req harvest.FetchRequest) (harvest.FetchResponse, error) {
		switch req.URL {
		case "https://feeds.test/down.rss":
			return harvest.FetchResponse{}, errors.New("dial tcp: connection refused")
		case "https://feeds.test/html.rss":
			return harvest.FetchResponse{StatusCode: http.StatusOK, Body: []byte("<<<not a feed")}, nil
		default:
			return harvest.FetchResponse{StatusCode: http.StatusOK, Body: []byte(rssWith("https://news.test/ok"))}, nil
		}
	})
	ing := NewIngestor(transport, memory.NewRecordStore(), &fakeClock{}, Config{
		Sources: []Source{
			{Category: "a", URL: "https://feeds.test/down.rss"},
			{Category: "b", URL: "https://feeds.test/html.rss"},
			{Category: "c", URL: "https://feeds.test/ok.rss"},
		},
	}, zap.NewNop())

	report, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.New)

	var feedErr *Error
	require.True(t, errors.As(report.Feeds[0].Err, &feedErr))
	assert.Equal(t, KindNetwork, feedErr.Kind)
	require.True(t, errors.As(report.Feeds[1].Err, &feedErr))
	assert.Equal(t, KindParse, feedErr.Kind)
	assert.NoError(t, report.Feeds[2].Err)
}

func TestIngestorStoreFaultIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	ing := NewIngestor(&staticTransport{body: rssWith("https://news.test/1")}, &failingStore{err: boom}, &fakeClock{}, Config{
		Sources: []Source{
			{Category: "a", URL: "https://feeds.test/a.rss"},
			{Category: "b", URL: "https://feeds.test/b.rss"},
		},
	}, zap.NewNop())

	report, err := ing.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, report.Feeds, 1)
}

func TestIngestorStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ing := NewIngestor(&staticTransport{body: rssWith("https://news.test/1")}, memory.NewRecordStore(), &fakeClock{}, Config{
		Sources: []Source{{Category: "a", URL: "https://feeds.test/a.rss"}},
	}, zap.NewNop())

	_, err := ing.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestScheduleRunsUntilCancelled(t *testing.T) {
	t.Parallel()

	transport := &staticTransport{body: rssWith("https://news.test/1")}
	ing := NewIngestor(transport, memory.NewRecordStore(), &fakeClock{}, Config{
		Sources: []Source{{Category: "a", URL: "https://feeds.test/a.rss"}},
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Schedule(ctx, ing, "@every 1s", zap.NewNop()) }()

	require.Eventually(t, func() bool { return transport.calls() >= 1 }, 5*time.Second, 20*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Schedule did not return after cancellation")
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateSchedule("*/30 * * * *"))
	require.NoError(t, ValidateSchedule("@hourly"))
	require.Error(t, ValidateSchedule("every now and then"))
}

type transportFunc func(context.Context, harvest.FetchRequest) (harvest.FetchResponse, error)

func (f transportFunc) Fetch(ctx context.Context, req harvest.FetchRequest) (harvest.FetchResponse, error) {
	return f(ctx, req)
}

type staticTransport struct {
	mu   sync.Mutex
	body string
	n    int
}

func (s *staticTransport) Fetch(ctx context.Context, _ harvest.FetchRequest) (harvest.FetchResponse, error) {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return harvest.FetchResponse{}, err
	}
	return harvest.FetchResponse{StatusCode: http.StatusOK, Body: []byte(s.body)}, nil
}

func (s *staticTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

type failingStore struct {
	memory.RecordStore
	err error
}

func (f *failingStore) Upsert(context.Context, harvest.Record) (harvest.UpsertResult, error) {
	return 0, f.err
}

type fakeClock struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}
