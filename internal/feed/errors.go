package feed

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies why a feed could not be ingested.
type ErrorKind string

// Feed failure kinds.
const (
	KindNetwork ErrorKind = "network"
	KindStatus  ErrorKind = "status"
	KindParse   ErrorKind = "parse"
)

// Error is a per-feed failure. It never aborts a run.
type Error struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("feed %s: HTTP %d for %s", e.Kind, e.StatusCode, e.URL)
	}
	return fmt.Sprintf("feed %s: %v for %s", e.Kind, e.Cause, e.URL)
}

func (e *Error) Unwrap() error { return e.Cause }

func statusError(code int, url string) *Error {
	return &Error{
		Kind:       KindStatus,
		URL:        url,
		StatusCode: code,
		Cause:      errors.New(http.StatusText(code)),
	}
}
