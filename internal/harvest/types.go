// Package harvest defines the core types shared across the corpus pipeline:
// discovered records, their crawl lifecycle, fetch payloads, and the ports
// the ingestor and allocator are wired through.
package harvest

import (
	"net/http"
	"time"
)

// Category is a topic label from the configured closed set.
type Category string

// Split names a partition of the output corpus.
type Split string

// Supported corpus splits.
const (
	SplitTrain Split = "train"
	SplitTest  Split = "test"
)

// Splits lists the corpus partitions in allocation order.
var Splits = []Split{SplitTrain, SplitTest}

// CrawlState represents where a record sits in the crawl lifecycle.
type CrawlState string

// Crawl states persisted in the record store.
const (
	CrawlPending   CrawlState = "pending"
	CrawlAttempted CrawlState = "attempted"
)

// PublishedLayout is the normalized form of Record.PublishedAt. It sorts
// lexically in chronological order.
const PublishedLayout = "2006-01-02 15:04:05"

// Record is one discovered article and its lifecycle flags.
type Record struct {
	Seq          int64      `json:"seq"`
	Locator      string     `json:"locator"`
	Title        string     `json:"title"`
	Summary      string     `json:"summary"`
	Category     Category   `json:"category"`
	PublishedAt  string     `json:"published_at"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	CrawlState   CrawlState `json:"crawl_state"`
	Used         bool       `json:"used"`
}

// UpsertResult reports what an upsert did.
type UpsertResult int

// Upsert outcomes.
const (
	Inserted UpsertResult = iota + 1
	Duplicate
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Quota is the target number of accepted items per split for one category.
type Quota struct {
	Train int `json:"train"`
	Test  int `json:"test"`
}

// For returns the quota of a single split.
func (q Quota) For(split Split) int {
	if split == SplitTest {
		return q.Test
	}
	return q.Train
}

// Total is the combined train and test quota.
func (q Quota) Total() int {
	return q.Train + q.Test
}

// CategoryStats aggregates record counts for one category.
type CategoryStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Attempted int64 `json:"attempted"`
	Used      int64 `json:"used"`
}

// Stats is a read-only snapshot of the record store.
type Stats struct {
	CategoryStats
	ByCategory map[Category]CategoryStats `json:"by_category"`
}

// Add folds count records with the given flags into the snapshot.
func (s *Stats) Add(category Category, crawled, used bool, count int64) {
	if s.ByCategory == nil {
		s.ByCategory = make(map[Category]CategoryStats)
	}
	cs := s.ByCategory[category]
	cs.add(crawled, used, count)
	s.ByCategory[category] = cs
	s.CategoryStats.add(crawled, used, count)
}

func (c *CategoryStats) add(crawled, used bool, count int64) {
	c.Total += count
	if crawled {
		c.Attempted += count
	} else {
		c.Pending += count
	}
	if used {
		c.Used += count
	}
}

// Content is the extracted, normalized text of an accepted article.
type Content struct {
	Locator  string
	FinalURL string
	Text     string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Transport implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the response carries a 2xx status.
func (r FetchResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// AcceptedEvent describes one item added to the corpus.
type AcceptedEvent struct {
	RunID      string    `json:"run_id,omitempty"`
	Locator    string    `json:"url"`
	Category   Category  `json:"category"`
	Split      Split     `json:"split"`
	Index      int       `json:"index"`
	Path       string    `json:"path"`
	AcceptedAt time.Time `json:"accepted_at"`
}
