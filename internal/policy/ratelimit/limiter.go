// Package ratelimit caps the request rate per host on top of a
// harvest.Transport, using token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/newscorpus/internal/harvest"
	"github.com/JakeFAU/newscorpus/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// PerHost is the sustained requests per second allowed against one host.
	// Zero or less disables limiting.
	PerHost float64
	Burst   int
}

// Limiter manages one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.PerHost)
	if cfg.PerHost <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    r,
		burst:    burst,
	}
}

// Wait blocks until the host of rawURL may be contacted again.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Transport wraps next so every request first waits for its host's bucket.
func (l *Limiter) Transport(next harvest.Transport) harvest.Transport {
	if l.limit == rate.Inf {
		return next
	}
	return &limitedTransport{limiter: l, next: next}
}

type limitedTransport struct {
	limiter *Limiter
	next    harvest.Transport
}

func (t *limitedTransport) Fetch(ctx context.Context, req harvest.FetchRequest) (harvest.FetchResponse, error) {
	if err := t.limiter.Wait(ctx, req.URL); err != nil {
		return harvest.FetchResponse{}, err
	}
	return t.next.Fetch(ctx, req)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
