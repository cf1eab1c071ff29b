package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newscorpus/internal/harvest"
	"github.com/JakeFAU/newscorpus/internal/metrics"
)

// Source pairs a category with its feed URL.
type Source struct {
	Category harvest.Category
	URL      string
}

// Config controls an ingestion run.
type Config struct {
	Sources []Source
	// Delay is the politeness pause after each feed.
	Delay   time.Duration
	Headers http.Header
}

// FeedReport summarizes one feed.
type FeedReport struct {
	Category  harvest.Category
	URL       string
	New       int
	Duplicate int
	Skipped   int
	Err       error
}

// Report summarizes an ingestion run.
type Report struct {
	Feeds     []FeedReport
	New       int
	Duplicate int
	Skipped   int
	Failed    int
}

func (r *Report) add(fr FeedReport) {
	r.Feeds = append(r.Feeds, fr)
	r.New += fr.New
	r.Duplicate += fr.Duplicate
	r.Skipped += fr.Skipped
	if fr.Err != nil {
		r.Failed++
	}
}

// Ingestor pulls every configured feed into the record store.
type Ingestor struct {
	transport harvest.Transport
	store     harvest.RecordStore
	clock     harvest.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewIngestor wires an Ingestor.
func NewIngestor(transport harvest.Transport, store harvest.RecordStore, clock harvest.Clock, cfg Config, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		transport: transport,
		store:     store,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run ingests every source in order. Feed failures are logged and recorded
// in the report; store failures abort the run.
func (i *Ingestor) Run(ctx context.Context) (Report, error) {
	var report Report
	for _, src := range i.cfg.Sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fr, err := i.CollectFeed(ctx, src)
		report.add(fr)
		if err != nil {
			return report, err
		}
		if err := i.clock.Sleep(ctx, i.cfg.Delay); err != nil {
			return report, err
		}
	}
	i.logger.Info("collection finished",
		zap.Int("feeds", len(report.Feeds)),
		zap.Int("new", report.New),
		zap.Int("duplicate", report.Duplicate),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed_feeds", report.Failed),
	)
	return report, nil
}

// CollectFeed ingests a single feed. The returned error is non-nil only for
// store faults; feed problems are reported in FeedReport.Err.
func (i *Ingestor) CollectFeed(ctx context.Context, src Source) (FeedReport, error) {
	fr := FeedReport{Category: src.Category, URL: src.URL}
	logger := i.logger.With(zap.String("category", string(src.Category)), zap.String("feed", src.URL))

	parsed, err := i.fetchFeed(ctx, src.URL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fr, ctxErr
		}
		fr.Err = err
		metrics.ObserveFeedFailure(string(src.Category))
		logger.Warn("feed unavailable, skipping", zap.Error(err))
		return fr, nil
	}

	fr.Skipped = parsed.Skipped
	for n := 0; n < parsed.Skipped; n++ {
		metrics.ObserveFeedEntry(string(src.Category), "skipped")
	}
	for _, entry := range parsed.Entries {
		res, err := i.store.Upsert(ctx, harvest.Record{
			Locator:      entry.Locator,
			Title:        entry.Title,
			Summary:      entry.Summary,
			Category:     src.Category,
			PublishedAt:  entry.PublishedAt,
			DiscoveredAt: i.clock.Now(),
			CrawlState:   harvest.CrawlPending,
		})
		if err != nil {
			return fr, fmt.Errorf("store %s: %w", entry.Locator, err)
		}
		switch res {
		case harvest.Inserted:
			fr.New++
		case harvest.Duplicate:
			fr.Duplicate++
		}
		metrics.ObserveFeedEntry(string(src.Category), res.String())
	}
	logger.Info("feed collected",
		zap.Int("new", fr.New),
		zap.Int("duplicate", fr.Duplicate),
		zap.Int("skipped", fr.Skipped),
	)
	return fr, nil
}

func (i *Ingestor) fetchFeed(ctx context.Context, url string) (Parsed, error) {
	resp, err := i.transport.Fetch(ctx, harvest.FetchRequest{URL: url, Headers: i.cfg.Headers})
	if err != nil {
		return Parsed{}, &Error{Kind: KindNetwork, URL: url, Cause: err}
	}
	if !resp.OK() {
		return Parsed{}, statusError(resp.StatusCode, url)
	}
	parsed, err := ParseFeed(ctx, resp.Body)
	if err != nil {
		return Parsed{}, &Error{Kind: KindParse, URL: url, Cause: err}
	}
	return parsed, nil
}
