// Package app initializes and holds long-lived services for one CLI run,
// acting as a dependency injection container for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/newscorpus/internal/allocator"
	"github.com/JakeFAU/newscorpus/internal/clock/system"
	"github.com/JakeFAU/newscorpus/internal/config"
	"github.com/JakeFAU/newscorpus/internal/extract"
	"github.com/JakeFAU/newscorpus/internal/feed"
	"github.com/JakeFAU/newscorpus/internal/fetcher"
	collyfetcher "github.com/JakeFAU/newscorpus/internal/fetcher/colly"
	"github.com/JakeFAU/newscorpus/internal/fetcher/headless"
	"github.com/JakeFAU/newscorpus/internal/harvest"
	"github.com/JakeFAU/newscorpus/internal/id/uuid"
	"github.com/JakeFAU/newscorpus/internal/metrics"
	"github.com/JakeFAU/newscorpus/internal/output"
	"github.com/JakeFAU/newscorpus/internal/output/gcs"
	"github.com/JakeFAU/newscorpus/internal/policy/ratelimit"
	pubsubpub "github.com/JakeFAU/newscorpus/internal/publisher/pubsub"
	"github.com/JakeFAU/newscorpus/internal/storage"
)

// StoreOpener opens the record store; replaced in tests.
type StoreOpener func(ctx context.Context, opts storage.Options) (harvest.RecordStore, error)

// Option customizes an App.
type Option func(*App)

// WithStoreOpener overrides how the record store is opened.
func WithStoreOpener(open StoreOpener) Option {
	return func(a *App) {
		if open != nil {
			a.openStore = open
		}
	}
}

// WithWriter injects a ready output writer.
func WithWriter(w harvest.Writer) Option {
	return func(a *App) {
		a.writer = w
	}
}

// WithTransport injects the HTTP transport shared by feeds and articles.
func WithTransport(t harvest.Transport) Option {
	return func(a *App) {
		if t != nil {
			a.transport = t
		}
	}
}

// WithPublisher injects the accepted-item publisher.
func WithPublisher(p harvest.Publisher) Option {
	return func(a *App) {
		a.publisher = p
	}
}

// WithClock injects the time source.
func WithClock(c harvest.Clock) Option {
	return func(a *App) {
		if c != nil {
			a.clock = c
		}
	}
}

// App holds the shared services of a run. The record store and the writer
// are opened on first use so that commands only touch what they need.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	runID     string
	clock     harvest.Clock
	transport harvest.Transport
	renderer  *headless.Renderer
	openStore StoreOpener

	mu        sync.Mutex
	store     harvest.RecordStore
	writer    harvest.Writer
	gcsClient *gcsstorage.Client
	publisher harvest.Publisher
	pubsub    *pubsubpub.Publisher
	metrics   *metrics.Server
}

// New builds the container. The metrics server starts immediately when an
// address is configured.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.New().MustNewID()
	a := &App{
		cfg:       cfg,
		logger:    logger.With(zap.String("run_id", runID)),
		runID:     runID,
		clock:     system.New(),
		openStore: storage.Open,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.transport == nil {
		if err := a.buildTransport(); err != nil {
			return nil, err
		}
	}
	a.transport = ratelimit.New(ratelimit.Config{
		PerHost: cfg.HTTP.RatePerHost,
		Burst:   cfg.HTTP.RateBurst,
	}).Transport(a.transport)

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Start(cfg.Metrics.Addr, a.logger.Named("metrics"))
		if err != nil {
			return nil, err
		}
		a.metrics = srv
	}
	return a, nil
}

// buildTransport creates the configured shared transport. Feeds and articles
// always go through the same one.
func (a *App) buildTransport() error {
	switch a.cfg.HTTP.Renderer {
	case "chromedp":
		r, err := headless.New(headless.Config{
			Headers:           a.cfg.HeaderSet(),
			NavigationTimeout: a.cfg.HTTP.Timeout,
			Settle:            a.cfg.HTTP.RenderSettle,
			ExecPath:          a.cfg.HTTP.ChromePath,
		})
		if err != nil {
			return fmt.Errorf("create chromedp renderer: %w", err)
		}
		a.renderer = r
		a.transport = r
		a.logger.Info("rendering pages with headless chrome")
	case "colly", "":
		a.transport = collyfetcher.New(collyfetcher.Config{
			Headers:       a.cfg.HeaderSet(),
			RespectRobots: a.cfg.HTTP.RespectRobots,
			Timeout:       a.cfg.HTTP.Timeout,
		})
	default:
		return fmt.Errorf("unknown renderer: %s", a.cfg.HTTP.Renderer)
	}
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Transport returns the shared transport, rate limiter included.
func (a *App) Transport() harvest.Transport { return a.transport }

// RunID identifies this run in logs.
func (a *App) RunID() string { return a.runID }

// MetricsAddr reports the bound metrics address, or "" when disabled.
func (a *App) MetricsAddr() string {
	if a.metrics == nil {
		return ""
	}
	return a.metrics.Addr()
}

// Store opens the record store on first use. With mustExist the store must
// already hold state from a previous collect; otherwise harvest.ErrStateMissing
// is returned.
func (a *App) Store(ctx context.Context, mustExist bool) (harvest.RecordStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return a.store, nil
	}
	store, err := a.openStore(ctx, storage.Options{
		Driver:    a.cfg.Store.Driver,
		Path:      a.cfg.Store.Path,
		DSN:       a.cfg.Store.DSN,
		MustExist: mustExist,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Store.Driver, err)
	}
	a.logger.Debug("record store opened", zap.String("driver", a.cfg.Store.Driver))
	a.store = store
	return store, nil
}

// Writer builds the configured output writer on first use.
func (a *App) Writer(ctx context.Context) (harvest.Writer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.writer != nil {
		return a.writer, nil
	}
	layout := output.Layout{Width: a.cfg.Output.Width, Ext: a.cfg.Output.Ext}
	switch a.cfg.Output.Backend {
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		w, err := gcs.New(client, gcs.Config{
			Bucket: a.cfg.Output.GCSBucket,
			Prefix: a.cfg.Output.GCSPrefix,
			Layout: layout,
		})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		a.gcsClient = client
		a.writer = w
		a.logger.Info("writing corpus to gcs",
			zap.String("bucket", a.cfg.Output.GCSBucket),
			zap.String("prefix", a.cfg.Output.GCSPrefix),
		)
	case "local", "":
		w, err := output.NewLocalWriter(a.cfg.Output.Root, layout)
		if err != nil {
			return nil, err
		}
		a.writer = w
		a.logger.Info("writing corpus to disk", zap.String("root", a.cfg.Output.Root))
	default:
		return nil, fmt.Errorf("unknown output backend: %s", a.cfg.Output.Backend)
	}
	return a.writer, nil
}

// Ingestor wires the feed ingestor over every configured feed.
func (a *App) Ingestor(ctx context.Context) (*feed.Ingestor, error) {
	store, err := a.Store(ctx, false)
	if err != nil {
		return nil, err
	}
	sources := make([]feed.Source, 0, len(a.cfg.Feeds))
	for _, category := range a.cfg.Categories() {
		sources = append(sources, feed.Source{Category: category, URL: a.cfg.Feeds[string(category)]})
	}
	return feed.NewIngestor(a.transport, store, a.clock, feed.Config{
		Sources: sources,
		Delay:   a.cfg.Feed.Delay,
		Headers: a.cfg.HeaderSet(),
	}, a.logger.Named("feed")), nil
}

// Orchestrator wires the allocator. overrides replaces the configured quota
// of the named categories.
func (a *App) Orchestrator(ctx context.Context, overrides map[harvest.Category]harvest.Quota) (*allocator.Orchestrator, error) {
	store, err := a.Store(ctx, true)
	if err != nil {
		return nil, err
	}
	writer, err := a.Writer(ctx)
	if err != nil {
		return nil, err
	}

	quotas := make(map[harvest.Category]harvest.Quota, len(a.cfg.Quotas))
	for _, category := range a.cfg.Categories() {
		quotas[category] = a.cfg.QuotaFor(category)
	}
	for category, q := range overrides {
		quotas[category] = q
	}

	ex := extract.New(extract.Selectors{
		Title:             a.cfg.Extract.Title,
		Sapo:              a.cfg.Extract.Sapo,
		Body:              a.cfg.Extract.Body,
		Paragraph:         a.cfg.Extract.Paragraph,
		MinParagraphRunes: a.cfg.Extract.MinParagraphRunes,
	})
	f := fetcher.New(a.transport, ex, a.clock, fetcher.Config{
		MaxRetries: a.cfg.HTTP.MaxRetries,
		RetryDelay: a.cfg.HTTP.RetryDelay,
	}, a.logger.Named("fetcher"))

	var opts []allocator.Option
	publisher, err := a.Publisher(ctx)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		opts = append(opts, allocator.WithPublisher(publisher, a.runID))
	}

	return allocator.New(store, f, writer, a.clock, allocator.Config{
		Quotas:           quotas,
		OversampleFactor: a.cfg.Crawl.OversampleFactor,
		Delay:            a.cfg.Crawl.Delay,
		Jitter:           a.cfg.Crawl.Jitter,
		ResumeFromOutput: a.cfg.Crawl.ResumeFromOutput,
	}, a.logger.Named("allocator"), opts...), nil
}

// Publisher connects the Pub/Sub notifier on first use. It returns nil when
// notifications are disabled.
func (a *App) Publisher(ctx context.Context) (harvest.Publisher, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.publisher != nil || !a.cfg.Notify.Enabled() {
		return a.publisher, nil
	}
	p, err := pubsubpub.New(ctx, pubsubpub.Config{
		ProjectID: a.cfg.Notify.PubSubProject,
		TopicID:   a.cfg.Notify.PubSubTopic,
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("publishing accepted items", zap.String("topic", a.cfg.Notify.PubSubTopic))
	a.pubsub = p
	a.publisher = p
	return p, nil
}

// Close releases every opened service and flushes the logger.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		a.store = nil
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
		a.pubsub = nil
	}
	if a.renderer != nil {
		_ = a.renderer.Close()
		a.renderer = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
		a.gcsClient = nil
	}
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.metrics = nil
	}
	// Sync fails on terminals for stderr; it is not worth failing the run.
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
