// Package collyfetcher implements harvest.Transport using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/newscorpus/internal/harvest"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	// Headers are sent on every request unless the request overrides them.
	Headers       http.Header
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher is shared by the feed ingestor and the content fetcher. Every call
// clones a template collector so callbacks never leak between requests.
type Fetcher struct {
	cfg      Config
	template *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	c.WithTransport(pooledTransport())
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.SetRequestTimeout(cfg.Timeout)
	if ua := cfg.Headers.Get("User-Agent"); ua != "" {
		c.UserAgent = ua
	}
	return &Fetcher{cfg: cfg, template: c}
}

// Fetch performs one GET. A non-2xx answer is a response, not an error.
func (f *Fetcher) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return harvest.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
	}
	v := &visit{defaults: f.cfg.Headers, request: request, started: time.Now()}
	c := f.template.Clone()
	c.OnRequest(v.onRequest)
	c.OnResponse(v.onResponse)
	c.OnError(v.onError)

	done := make(chan error, 1)
	go func() { done <- c.Visit(request.URL) }()

	var err error
	select {
	case <-ctx.Done():
		return harvest.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctx.Err())
	case err = <-done:
	}
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		return harvest.FetchResponse{}, fmt.Errorf("visit %s: %w", request.URL, harvest.ErrBlocked)
	case err != nil:
		return harvest.FetchResponse{}, fmt.Errorf("visit %s: %w", request.URL, err)
	case v.failure != nil:
		return harvest.FetchResponse{}, fmt.Errorf("response from %s: %w", request.URL, v.failure)
	}
	return v.response, nil
}

// visit carries the state of a single Fetch through the collector callbacks.
type visit struct {
	defaults http.Header
	request  harvest.FetchRequest
	started  time.Time

	response harvest.FetchResponse
	failure  error
}

// Configured headers go first so per-request values replace them.
func (v *visit) onRequest(r *colly.Request) {
	for _, src := range []http.Header{v.defaults, v.request.Headers} {
		for key, values := range src {
			r.Headers.Del(key)
			for _, value := range values {
				r.Headers.Add(key, value)
			}
		}
	}
}

func (v *visit) onResponse(r *colly.Response) {
	v.response = harvest.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    r.Headers.Clone(),
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.started),
	}
}

func (v *visit) onError(_ *colly.Response, err error) {
	v.failure = err
}

func pooledTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
