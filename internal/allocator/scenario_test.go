package allocator_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/newscorpus/internal/allocator"
	"github.com/JakeFAU/newscorpus/internal/extract"
	"github.com/JakeFAU/newscorpus/internal/feed"
	"github.com/JakeFAU/newscorpus/internal/fetcher"
	collyfetcher "github.com/JakeFAU/newscorpus/internal/fetcher/colly"
	"github.com/JakeFAU/newscorpus/internal/harvest"
	"github.com/JakeFAU/newscorpus/internal/output"
	"github.com/JakeFAU/newscorpus/internal/storage/memory"
)

const articleTemplate = `<html><body>
<h1 class="detail-title">%s</h1>
<h2 class="detail-sapo">Tóm tắt của bài %s</h2>
<div class="detail-content"><p>Nội dung chính của bài viết %s được đăng tải.</p></div>
</body></html>`

func newsServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/kinhte.rss", func(w http.ResponseWriter, _ *http.Request) {
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Kinh tế</title>`)
		items := []struct{ path, day string }{
			{"/A", "01"}, {"/B", "02"}, {"/A", "01"}, {"/D", "04"}, {"/E", "05"},
		}
		for _, it := range items {
			fmt.Fprintf(&b, `<item><title>%s</title><link>%s%s</link><pubDate>Mon, %s Jan 2024 08:00:00 +0000</pubDate></item>`,
				it.path, srv.URL, it.path, it.day)
		}
		b.WriteString(`</channel></rss>`)
		_, _ = w.Write([]byte(b.String()))
	})
	for _, name := range []string{"A", "D", "E"} {
		mux.HandleFunc("/"+name, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = fmt.Fprintf(w, articleTemplate, "Bài "+name, name, name)
		})
	}
	mux.HandleFunc("/B", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div class="advert">quảng cáo</div></body></html>`))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCollectThenCrawlFillsSplitsInOrder(t *testing.T) {
	t.Parallel()

	srv := newsServer(t)
	ctx := context.Background()
	store := memory.NewRecordStore()
	clock := &noopClock{}
	transport := collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second})

	ing := feed.NewIngestor(transport, store, clock, feed.Config{
		Sources: []feed.Source{{Category: "kinhte", URL: srv.URL + "/kinhte.rss"}},
	}, zap.NewNop())
	collected, err := ing.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, collected.New)
	assert.Equal(t, 1, collected.Duplicate)

	root := t.TempDir()
	writer, err := output.NewLocalWriter(root, output.DefaultLayout())
	require.NoError(t, err)
	contentFetcher := fetcher.New(transport, extract.New(extract.Selectors{}), clock, fetcher.Config{MaxRetries: 1}, zap.NewNop())

	orch := allocator.New(store, contentFetcher, writer, clock, allocator.Config{
		Quotas:           map[harvest.Category]harvest.Quota{"kinhte": {Train: 2, Test: 1}},
		OversampleFactor: 2,
	}, zap.NewNop())
	report, err := orch.Run(ctx, []harvest.Category{"kinhte"})
	require.NoError(t, err)
	require.Len(t, report.Categories, 1)

	cr := report.Categories[0]
	assert.False(t, report.Shortfall())
	assert.Equal(t, 3, report.Accepted())
	assert.Equal(t, 1, cr.Failures[harvest.ReasonNoContent])

	read := func(rel string) string {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		require.NoError(t, err)
		return string(data)
	}
	assert.Contains(t, read("train/kinhte/kinhte_0001.txt"), "Bài A")
	assert.Contains(t, read("train/kinhte/kinhte_0002.txt"), "Bài D")
	assert.Contains(t, read("test/kinhte/kinhte_0001.txt"), "Bài E")

	stats, err := output.CollectStats(ctx, writer, []harvest.Category{"kinhte"})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total())

	rec, ok := store.Get(srv.URL + "/B")
	require.True(t, ok)
	assert.Equal(t, harvest.CrawlAttempted, rec.CrawlState)
	assert.False(t, rec.Used)

	// A second crawl finds the quota already met on disk.
	again := allocator.New(store, contentFetcher, writer, clock, allocator.Config{
		Quotas:           map[harvest.Category]harvest.Quota{"kinhte": {Train: 2, Test: 1}},
		OversampleFactor: 2,
		ResumeFromOutput: true,
	}, zap.NewNop())
	second, err := again.Run(ctx, []harvest.Category{"kinhte"})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Accepted())
	assert.False(t, second.Shortfall())
}

type noopClock struct{}

func (c *noopClock) Now() time.Time { return time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC) }

func (c *noopClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestCrawlWithoutResumeKeepsStaleOutput(t *testing.T) {
	t.Parallel()

	srv := newsServer(t)
	ctx := context.Background()
	store := memory.NewRecordStore()
	clock := &noopClock{}
	transport := collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second})

	ing := feed.NewIngestor(transport, store, clock, feed.Config{
		Sources: []feed.Source{{Category: "kinhte", URL: srv.URL + "/kinhte.rss"}},
	}, zap.NewNop())
	_, err := ing.Run(ctx)
	require.NoError(t, err)

	root := t.TempDir()
	stale := filepath.Join(root, "train", "kinhte", "kinhte_0001.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o750))
	require.NoError(t, os.WriteFile(stale, []byte("from an earlier run"), 0o600))

	writer, err := output.NewLocalWriter(root, output.DefaultLayout())
	require.NoError(t, err)
	contentFetcher := fetcher.New(transport, extract.New(extract.Selectors{}), clock, fetcher.Config{MaxRetries: 1}, zap.NewNop())

	orch := allocator.New(store, contentFetcher, writer, clock, allocator.Config{
		Quotas:           map[harvest.Category]harvest.Quota{"kinhte": {Train: 1, Test: 1}},
		OversampleFactor: 2,
	}, zap.NewNop())
	report, err := orch.Run(ctx, []harvest.Category{"kinhte"})
	require.NoError(t, err)

	cr := report.Categories[0]
	assert.False(t, report.Shortfall())
	assert.Zero(t, cr.Failures[harvest.ReasonWrite])

	data, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.Equal(t, "from an earlier run", string(data))

	data, err = os.ReadFile(filepath.Join(root, "train", "kinhte", "kinhte_0002.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Bài A")
	data, err = os.ReadFile(filepath.Join(root, "test", "kinhte", "kinhte_0001.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Bài D")
}
