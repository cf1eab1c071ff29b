// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	feedEntriesTotal           *prometheus.CounterVec
	feedFailuresTotal          *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       prometheus.Histogram
	acceptedTotal              *prometheus.CounterVec
	quotaShortfall             *prometheus.GaugeVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		feedEntriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newscorpus_feed_entries_total",
				Help: "Feed entries seen during ingestion, labeled by category and result.",
			},
			[]string{"category", "result"},
		)

		feedFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newscorpus_feed_failures_total",
				Help: "Feeds that could not be fetched or parsed, labeled by category.",
			},
			[]string{"category"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newscorpus_fetch_attempts_total",
				Help: "Content fetch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "newscorpus_fetch_duration_seconds",
				Help:    "Histogram of article fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		acceptedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newscorpus_accepted_total",
				Help: "Articles written to the corpus, labeled by category and split.",
			},
			[]string{"category", "split"},
		)

		quotaShortfall = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "newscorpus_quota_shortfall",
				Help: "Items missing from a split quota after the last crawl.",
			},
			[]string{"category", "split"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newscorpus_rate_limit_delay_seconds",
				Help:    "Time spent waiting for a per-host rate limit token.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newscorpus_http_requests_total",
				Help: "Requests served by the metrics endpoint, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newscorpus_http_request_duration_seconds",
				Help:    "Histogram of metrics endpoint latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFeedEntry counts one feed entry with result new, duplicate or skipped.
func ObserveFeedEntry(category, result string) {
	Init()
	feedEntriesTotal.WithLabelValues(category, result).Inc()
}

// ObserveFeedFailure counts a feed that failed to fetch or parse.
func ObserveFeedFailure(category string) {
	Init()
	feedFailuresTotal.WithLabelValues(category).Inc()
}

// ObserveFetch records the outcome of one fetch attempt and its latency.
func ObserveFetch(outcome string, duration time.Duration) {
	Init()
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		fetchDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveAccepted counts an article written to split.
func ObserveAccepted(category, split string) {
	Init()
	acceptedTotal.WithLabelValues(category, split).Inc()
}

// SetShortfall records how many items a split is still missing.
func SetShortfall(category, split string, missing int) {
	Init()
	quotaShortfall.WithLabelValues(category, split).Set(float64(missing))
}

// ObserveRateLimitDelay records a wait imposed by the per-host limiter.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
