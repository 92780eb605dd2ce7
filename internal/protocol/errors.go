package protocol

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedScheme is returned when no client serves a URL's scheme.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")

	// ErrTooLarge is wrapped by failures for resources over the content limit.
	ErrTooLarge = errors.New("content length exceeds limit")

	// ErrRobotsDisallowed is wrapped by failures for URLs robots.txt forbids.
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

	// ErrWatchdogTimeout is wrapped by failures that exceeded the fetch deadline.
	ErrWatchdogTimeout = errors.New("fetch timed out")
)

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	// ErrorTimeout means the watchdog deadline expired.
	ErrorTimeout ErrorKind = "timeout"
	// ErrorTooLarge means the resource exceeded its content limit.
	ErrorTooLarge ErrorKind = "too_large"
	// ErrorStatus means the backend answered with an error status.
	ErrorStatus ErrorKind = "status"
	// ErrorAccess means the resource could not be read.
	ErrorAccess ErrorKind = "access"
	// ErrorRobots means robots.txt disallows the URL. No result is stored.
	ErrorRobots ErrorKind = "robots"
	// ErrorCanceled means the session was stopped mid-fetch. No result is stored.
	ErrorCanceled ErrorKind = "canceled"
	// ErrorParse means the response could not be transformed.
	ErrorParse ErrorKind = "parse"
	// ErrorNoRule means no rule matched the response.
	ErrorNoRule ErrorKind = "no_rule"
	// ErrorUnsupported means no client serves the URL's scheme.
	ErrorUnsupported ErrorKind = "unsupported"
	// ErrorConnect means the backend could not be initialized. It aborts
	// the session.
	ErrorConnect ErrorKind = "connect"
)

// FetchError describes a failed fetch.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

// NewFetchError returns a FetchError of kind for url wrapping err.
func NewFetchError(kind ErrorKind, url string, err error) *FetchError {
	return &FetchError{Kind: kind, URL: url, Err: err}
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s (status %d): %v", e.Kind, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the failure must abort the session.
func (e *FetchError) Fatal() bool {
	return e.Kind == ErrorConnect
}

// Recorded reports whether the failure is stored as a failed result.
// Robots denials and cancellations leave no trace.
func (e *FetchError) Recorded() bool {
	return e.Kind != ErrorRobots && e.Kind != ErrorCanceled
}

// IsFatal reports whether err is a FetchError that aborts the session.
func IsFatal(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Fatal()
}

// classify maps a backend error to a FetchError, recognizing deadlines and
// cancellation.
func classify(ctx context.Context, url string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return NewFetchError(ErrorTimeout, url, fmt.Errorf("%w: %w", ErrWatchdogTimeout, err))
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return NewFetchError(ErrorCanceled, url, err)
	default:
		return NewFetchError(ErrorAccess, url, err)
	}
}
