// Package allocator drives the crawl: it pulls pending candidates per
// category, fetches them, and assigns accepted articles to the train and
// test splits until each quota is met or candidates run out.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newscorpus/internal/harvest"
	"github.com/JakeFAU/newscorpus/internal/metrics"
)

// maxOccupiedSkips bounds how many occupied output slots one item may step
// over before the write counts as failed.
const maxOccupiedSkips = 10000

// Config controls allocation.
type Config struct {
	Quotas map[harvest.Category]harvest.Quota
	// OversampleFactor multiplies the remaining quota to size the candidate
	// pull, absorbing fetch failures.
	OversampleFactor int
	Delay            time.Duration
	Jitter           time.Duration
	// ResumeFromOutput counts items already persisted against the quota and
	// continues numbering after the highest one. Without it quotas count this
	// run only, and occupied indices are still never overwritten.
	ResumeFromOutput bool
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithJitterSource replaces the random jitter generator.
func WithJitterSource(fn func(limit time.Duration) time.Duration) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.jitter = fn
		}
	}
}

// WithPublisher announces every accepted item. runID tags the events.
func WithPublisher(p harvest.Publisher, runID string) Option {
	return func(o *Orchestrator) {
		o.publisher = p
		o.runID = runID
	}
}

// Orchestrator runs the per-category quota state machine. It is single
// threaded: one candidate is in flight at a time.
type Orchestrator struct {
	store   harvest.RecordStore
	fetcher harvest.ContentFetcher
	writer  harvest.Writer
	clock   harvest.Clock
	cfg     Config
	logger  *zap.Logger
	jitter  func(limit time.Duration) time.Duration

	publisher harvest.Publisher
	runID     string
}

// New wires an Orchestrator.
func New(
	store harvest.RecordStore,
	fetcher harvest.ContentFetcher,
	writer harvest.Writer,
	clock harvest.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OversampleFactor < 1 {
		cfg.OversampleFactor = 1
	}
	o := &Orchestrator{
		store:   store,
		fetcher: fetcher,
		writer:  writer,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		jitter:  randomJitter,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run allocates every category in order. Quota shortfalls are reported, not
// returned as errors; store faults and cancellation abort the run.
func (o *Orchestrator) Run(ctx context.Context, categories []harvest.Category) (Report, error) {
	var report Report
	for _, category := range categories {
		cr, err := o.RunCategory(ctx, category, o.cfg.Quotas[category])
		report.Categories = append(report.Categories, cr)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// RunCategory fills the train split, then the test split, of one category.
func (o *Orchestrator) RunCategory(ctx context.Context, category harvest.Category, quota harvest.Quota) (CategoryReport, error) {
	logger := o.logger.With(zap.String("category", string(category)))
	report := newCategoryReport(category, quota)

	if o.cfg.ResumeFromOutput {
		if err := o.resume(ctx, category, &report); err != nil {
			return report, err
		}
	}

	remaining := report.remaining()
	if remaining == 0 {
		report.finish()
		logger.Info("quota already satisfied",
			zap.Int("train", report.Train.Filled),
			zap.Int("test", report.Test.Filled),
		)
		return report, nil
	}

	limit := o.cfg.OversampleFactor * remaining
	candidates, err := o.store.FetchCandidates(ctx, category, limit)
	if err != nil {
		return report, fmt.Errorf("fetch candidates for %s: %w", category, err)
	}
	report.Candidates = len(candidates)
	logger.Info("allocating",
		zap.Int("train_quota", quota.Train),
		zap.Int("test_quota", quota.Test),
		zap.Int("train_existing", report.Train.Filled),
		zap.Int("test_existing", report.Test.Filled),
		zap.Int("candidates", len(candidates)),
		zap.Int("limit", limit),
	)

	for _, rec := range candidates {
		split, ok := report.next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := o.process(ctx, logger, rec, split, &report); err != nil {
			return report, err
		}
		if err := o.clock.Sleep(ctx, o.pause()); err != nil {
			return report, err
		}
	}

	report.finish()
	o.logOutcome(logger, report)
	return report, nil
}

// resume counts the files already persisted for each split and continues
// numbering after the highest one.
func (o *Orchestrator) resume(ctx context.Context, category harvest.Category, report *CategoryReport) error {
	for _, split := range harvest.Splits {
		count, err := o.writer.Count(ctx, category, split)
		if err != nil {
			return fmt.Errorf("count %s/%s output: %w", split, category, err)
		}
		highest, err := o.writer.Highest(ctx, category, split)
		if err != nil {
			return fmt.Errorf("inspect %s/%s output: %w", split, category, err)
		}
		sr := report.split(split)
		sr.Filled = count
		sr.Existing = count
		sr.LastIndex = highest
	}
	return nil
}

// process handles one candidate. Only store faults and cancellation are
// returned; every other failure is absorbed into the report.
func (o *Orchestrator) process(
	ctx context.Context,
	logger *zap.Logger,
	rec harvest.Record,
	split harvest.Split,
	report *CategoryReport,
) error {
	report.Attempted++
	content, err := o.fetcher.Fetch(ctx, rec.Locator)
	if err == nil {
		var (
			index int
			path  string
		)
		index, path, err = o.place(ctx, logger, content, report.Category, split, report.split(split))
		if err == nil {
			if markErr := o.store.MarkAccepted(ctx, rec.Locator); markErr != nil {
				markErr = fmt.Errorf("mark accepted %s: %w", rec.Locator, markErr)
				// The record stays pending, so the item must not survive it.
				if rmErr := o.writer.Remove(context.WithoutCancel(ctx), report.Category, split, index); rmErr != nil {
					return errors.Join(markErr, fmt.Errorf("roll back %s: %w", path, rmErr))
				}
				return markErr
			}
			sr := report.split(split)
			sr.Filled++
			sr.LastIndex = index
			report.Accepted++
			metrics.ObserveAccepted(string(report.Category), string(split))
			logger.Info("accepted",
				zap.String("url", rec.Locator),
				zap.String("split", string(split)),
				zap.Int("index", index),
				zap.String("path", path),
			)
			o.announce(ctx, logger, harvest.AcceptedEvent{
				RunID:      o.runID,
				Locator:    rec.Locator,
				Category:   report.Category,
				Split:      split,
				Index:      index,
				Path:       path,
				AcceptedAt: o.clock.Now(),
			})
			return nil
		}
		err = &harvest.Failure{Locator: rec.Locator, Reason: harvest.ReasonWrite, Attempts: 1, Cause: err}
	}

	// Cancelled fetches leave the record pending.
	if ctxErr := ctx.Err(); ctxErr != nil {
		report.Attempted--
		return ctxErr
	}

	reason := harvest.ReasonOf(err)
	report.Failures[reason]++
	if markErr := o.store.MarkAttempted(ctx, rec.Locator); markErr != nil {
		return fmt.Errorf("mark attempted %s: %w", rec.Locator, markErr)
	}
	level := logger.Warn
	if reason == harvest.ReasonNoContent || errors.Is(err, harvest.ErrBlocked) {
		level = logger.Info
	}
	level("skipped",
		zap.String("url", rec.Locator),
		zap.String("reason", string(reason)),
		zap.Error(err),
	)
	return nil
}

// place writes content at the first index after sr.LastIndex. Slots that
// are already occupied, for example by a run without resume, are stepped
// over instead of failing the candidate.
func (o *Orchestrator) place(
	ctx context.Context,
	logger *zap.Logger,
	content harvest.Content,
	category harvest.Category,
	split harvest.Split,
	sr *SplitReport,
) (int, string, error) {
	for skipped := 0; ; skipped++ {
		index := sr.LastIndex + 1
		path, err := o.writer.Write(ctx, content, category, split, index)
		if !errors.Is(err, harvest.ErrExists) || skipped >= maxOccupiedSkips {
			return index, path, err
		}
		logger.Debug("output slot occupied",
			zap.String("split", string(split)),
			zap.Int("index", index),
		)
		sr.LastIndex = index
	}
}

// announce publishes event when a publisher is configured. The item is
// already persisted, so failures are only logged.
func (o *Orchestrator) announce(ctx context.Context, logger *zap.Logger, event harvest.AcceptedEvent) {
	if o.publisher == nil {
		return
	}
	if _, err := o.publisher.Publish(ctx, event); err != nil {
		logger.Warn("publish accepted event failed", zap.String("url", event.Locator), zap.Error(err))
	}
}

func (o *Orchestrator) pause() time.Duration {
	d := o.cfg.Delay
	if o.cfg.Jitter > 0 {
		d += o.jitter(o.cfg.Jitter)
	}
	return d
}

func (o *Orchestrator) logOutcome(logger *zap.Logger, report CategoryReport) {
	fields := []zap.Field{
		zap.Int("train", report.Train.Filled),
		zap.Int("train_quota", report.Train.Quota),
		zap.Int("test", report.Test.Filled),
		zap.Int("test_quota", report.Test.Quota),
		zap.Int("attempted", report.Attempted),
		zap.Int("accepted", report.Accepted),
	}
	for _, split := range harvest.Splits {
		sr := report.split(split)
		metrics.SetShortfall(string(report.Category), string(split), sr.Missing())
	}
	if report.Shortfall() {
		logger.Warn("quota shortfall: candidates exhausted", fields...)
		return
	}
	logger.Info("quota satisfied", fields...)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit) + 1))
}
