// Package headless implements harvest.Transport with a headless Chrome
// driven by chromedp, for sites whose article body is assembled by
// JavaScript.
package headless

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/newscorpus/internal/harvest"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettle            = 500 * time.Millisecond
)

// Config controls the renderer.
type Config struct {
	// Headers are sent on every navigation unless the request overrides
	// them. User-Agent is applied through browser emulation.
	Headers           http.Header
	NavigationTimeout time.Duration
	// Settle is how long scripts may run after the document is ready.
	Settle time.Duration
	// ExecPath overrides Chrome discovery.
	ExecPath string
}

// Renderer fetches pages in browser tabs. HTML documents come back as the
// rendered DOM; any other document, such as an RSS feed, comes back as the
// bytes the server sent. One tab is open at a time.
type Renderer struct {
	cfg         Config
	slot        chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New prepares a renderer. Chrome itself starts on the first Fetch.
func New(cfg Config) (*Renderer, error) {
	if cfg.NavigationTimeout < 0 || cfg.Settle < 0 {
		return nil, errors.New("renderer timeouts must not be negative")
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.Settle == 0 {
		cfg.Settle = defaultSettle
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		slot:        make(chan struct{}, 1),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close stops the browser.
func (r *Renderer) Close() error {
	r.allocCancel()
	return nil
}

// Fetch navigates to request.URL. Non-2xx documents are returned with their
// status like any other response.
func (r *Renderer) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return harvest.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}
	select {
	case r.slot <- struct{}{}:
		defer func() { <-r.slot }()
	case <-ctx.Done():
		return harvest.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, ctx.Err())
	}

	tabCtx, closeTab := chromedp.NewContext(r.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, r.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &document{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	started := time.Now()
	ua, extra := splitHeaders(r.cfg.Headers, request.Headers)
	var finalURL, html string
	err := chromedp.Run(tabCtx,
		prepareTab(ua, extra),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(":root", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.Settle),
		chromedp.Location(&finalURL),
	)
	if err == nil {
		err = r.readBody(tabCtx, doc, &html)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return harvest.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, ctxErr)
		}
		return harvest.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	meta := doc.snapshot()
	return harvest.FetchResponse{
		URL:        firstNonEmpty(meta.url, finalURL, request.URL),
		StatusCode: meta.statusOr(http.StatusOK),
		Headers:    meta.headers,
		Body:       []byte(html),
		Duration:   time.Since(started),
	}, nil
}

func (r *Renderer) readBody(ctx context.Context, doc *document, out *string) error {
	meta := doc.snapshot()
	if meta.requestID == "" || isMarkup(meta.mimeType) {
		return chromedp.Run(ctx, chromedp.OuterHTML("html", out, chromedp.ByQuery))
	}
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		body, err := network.GetResponseBody(meta.requestID).Do(ctx)
		if err != nil {
			return fmt.Errorf("read document body: %w", err)
		}
		*out = string(body)
		return nil
	}))
}

func prepareTab(userAgent string, extra network.Headers) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// splitHeaders merges defaults and per-request headers, request values
// winning, and pulls out the User-Agent.
func splitHeaders(defaults, request http.Header) (string, network.Headers) {
	merged := http.Header{}
	for _, src := range []http.Header{defaults, request} {
		for key, values := range src {
			merged.Del(key)
			for _, v := range values {
				merged.Add(key, v)
			}
		}
	}
	ua := merged.Get("User-Agent")
	merged.Del("User-Agent")

	out := network.Headers{}
	for key, values := range merged {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = strings.Join(values, ", ")
		}
	}
	return ua, out
}

func isMarkup(mimeType string) bool {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// document records the main document response of a tab. Redirects replace
// earlier values, so the last document response wins.
type document struct {
	mu   sync.Mutex
	meta documentMeta
}

type documentMeta struct {
	requestID network.RequestID
	status    int
	headers   http.Header
	url       string
	mimeType  string
}

func (m documentMeta) statusOr(fallback int) int {
	if m.status == 0 {
		return fallback
	}
	return m.status
}

func (d *document) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			// Chrome joins repeated headers with newlines.
			for _, line := range strings.Split(v, "\n") {
				headers.Add(key, line)
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.meta = documentMeta{
		requestID: resp.RequestID,
		status:    int(resp.Response.Status),
		headers:   headers,
		url:       resp.Response.URL,
		mimeType:  resp.Response.MimeType,
	}
}

func (d *document) snapshot() documentMeta {
	d.mu.Lock()
	defer d.mu.Unlock()
	meta := d.meta
	meta.headers = meta.headers.Clone()
	if meta.headers == nil {
		meta.headers = http.Header{}
	}
	return meta
}
