package harvest

import (
	"errors"
	"fmt"
)

var (
	// ErrNoContent is returned by an Extractor when the page has no article text.
	ErrNoContent = errors.New("no content found")
	// ErrStateMissing means the persisted record store does not exist yet.
	ErrStateMissing = errors.New("persisted state missing: run collect first")
	// ErrExists is returned by a Writer asked to overwrite persisted output.
	ErrExists = errors.New("output already exists")
	// ErrBlocked is returned by a Transport when robots.txt forbids the URL.
	ErrBlocked = errors.New("blocked by robots.txt")
)

// FailureReason tags why a locator did not produce content.
type FailureReason string

// Failure reasons. ReasonWrite is assigned by the allocator, never by a fetcher.
const (
	ReasonTransport    FailureReason = "transport"
	ReasonNoContent    FailureReason = "no-content"
	ReasonExtractError FailureReason = "extract-error"
	ReasonWrite        FailureReason = "write"
)

// Failure is the error returned by a ContentFetcher.
type Failure struct {
	Locator  string
	Reason   FailureReason
	Attempts int
	Cause    error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("fetch %s (%s after %d attempt(s)): %v", f.Locator, f.Reason, f.Attempts, f.Cause)
	}
	return fmt.Sprintf("fetch %s (%s after %d attempt(s))", f.Locator, f.Reason, f.Attempts)
}

func (f *Failure) Unwrap() error { return f.Cause }

// ReasonOf extracts the failure reason from err, defaulting to transport.
func ReasonOf(err error) FailureReason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ReasonTransport
}

// StatusError reports a transport response outside the 2xx range.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}
