package harvest

import (
	"context"
	"time"
)

// RecordStore is the durable table of discovered records. It is the sole
// source of truth across runs and assumes a single writer.
type RecordStore interface {
	// Upsert inserts the record unless its locator is already known.
	// Duplicates are reported, never returned as errors.
	Upsert(ctx context.Context, rec Record) (UpsertResult, error)
	// FetchCandidates returns pending records of category, oldest published
	// first with ties broken by discovery order. limit <= 0 means no limit.
	FetchCandidates(ctx context.Context, category Category, limit int) ([]Record, error)
	// MarkAttempted flags the record as crawled. Idempotent.
	MarkAttempted(ctx context.Context, locator string) error
	// MarkAccepted flags the record as crawled and used. Idempotent.
	MarkAccepted(ctx context.Context, locator string) error
	// Stats aggregates counts by category and lifecycle flags.
	Stats(ctx context.Context) (Stats, error)
	// Reset returns skipped records of category to pending and reports how
	// many changed. Accepted records are never reset.
	Reset(ctx context.Context, category Category) (int64, error)
	Close() error
}

// Transport is the shared HTTP client capability with preset headers.
type Transport interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns a fetched page into normalized text. It returns
// ErrNoContent when the page has no extractable article.
type Extractor interface {
	Extract(page FetchResponse) (string, error)
}

// ContentFetcher retrieves and extracts a locator. Failures are *Failure.
type ContentFetcher interface {
	Fetch(ctx context.Context, locator string) (Content, error)
}

// Writer persists accepted content at a quota-indexed location.
type Writer interface {
	// Write stores content all-or-nothing and returns its location.
	Write(ctx context.Context, content Content, category Category, split Split, index int) (string, error)
	// Highest returns the largest index already persisted for the pair.
	Highest(ctx context.Context, category Category, split Split) (int, error)
	// Count returns how many items are persisted for the pair.
	Count(ctx context.Context, category Category, split Split) (int, error)
	// Remove deletes the item at index. A missing item is not an error.
	Remove(ctx context.Context, category Category, split Split, index int) error
}

// Clock returns the current time and sleeps (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Publisher announces accepted items to downstream consumers. Publish
// failures never undo an acceptance.
type Publisher interface {
	Publish(ctx context.Context, event AcceptedEvent) (string, error)
}
