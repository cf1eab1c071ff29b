// Package fetcher retrieves article pages through the shared transport,
// retrying transport failures, and hands successful pages to the extractor.
package fetcher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newscorpus/internal/harvest"
	"github.com/JakeFAU/newscorpus/internal/metrics"
)

// Config controls the retry loop.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

// RetryPolicy decides whether and when a transport failure is retried.
type RetryPolicy interface {
	MaxAttempts() int
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Fetcher implements harvest.ContentFetcher.
type Fetcher struct {
	transport harvest.Transport
	extractor harvest.Extractor
	clock     harvest.Clock
	retry     RetryPolicy
	logger    *zap.Logger
}

// New wires a Fetcher.
func New(transport harvest.Transport, extractor harvest.Extractor, clock harvest.Clock, cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		transport: transport,
		extractor: extractor,
		clock:     clock,
		retry:     NewFixedRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
		logger:    logger,
	}
}

// Fetch retrieves locator and extracts its text. Every failure is a
// *harvest.Failure tagged with its reason.
func (f *Fetcher) Fetch(ctx context.Context, locator string) (harvest.Content, error) {
	page, attempts, err := f.fetchPage(ctx, locator)
	if err != nil {
		return harvest.Content{}, &harvest.Failure{
			Locator:  locator,
			Reason:   harvest.ReasonTransport,
			Attempts: attempts,
			Cause:    err,
		}
	}

	text, err := f.extractor.Extract(page)
	if err != nil {
		reason := harvest.ReasonExtractError
		if errors.Is(err, harvest.ErrNoContent) {
			reason = harvest.ReasonNoContent
		}
		metrics.ObserveFetch(string(reason), page.Duration)
		f.logger.Debug("extraction failed",
			zap.String("url", locator),
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
		return harvest.Content{}, &harvest.Failure{
			Locator:  locator,
			Reason:   reason,
			Attempts: attempts,
			Cause:    err,
		}
	}
	metrics.ObserveFetch("ok", page.Duration)
	return harvest.Content{Locator: locator, FinalURL: page.URL, Text: text}, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, locator string) (harvest.FetchResponse, int, error) {
	var lastErr error
	attempt := 0
	for attempt < f.retry.MaxAttempts() {
		attempt++
		resp, err := f.transport.Fetch(ctx, harvest.FetchRequest{URL: locator})
		if err == nil && !resp.OK() {
			err = &harvest.StatusError{URL: locator, StatusCode: resp.StatusCode}
		}
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err
		metrics.ObserveFetch(string(harvest.ReasonTransport), resp.Duration)
		f.logger.Warn("fetch attempt failed",
			zap.String("url", locator),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", f.retry.MaxAttempts()),
			zap.Error(err),
		)
		if !f.retry.ShouldRetry(err, attempt) {
			break
		}
		if err := f.clock.Sleep(ctx, f.retry.Backoff(attempt)); err != nil {
			return harvest.FetchResponse{}, attempt, err
		}
	}
	return harvest.FetchResponse{}, attempt, lastErr
}
