package protocol

import (
	"context"
	"sync"
	"time"
)

// DefaultConnectTimeout bounds a backend initialization run by InitOnce.
const DefaultConnectTimeout = 30 * time.Second

// InitOnce runs a backend initialization exactly once. Every caller after
// the first observes the same error, so a failed connect is replayed rather
// than retried.
//
// The initialization does not inherit the first caller's deadline or
// cancellation: it runs under its own Timeout, so the cached error describes
// the backend and not the fetch that happened to trigger it.
type InitOnce struct {
	// Timeout bounds the initialization. Zero means DefaultConnectTimeout.
	Timeout time.Duration

	once sync.Once
	err  error
}

// Do runs fn on the first call and returns its cached error on every call.
func (o *InitOnce) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	o.once.Do(func() {
		timeout := o.Timeout
		if timeout <= 0 {
			timeout = DefaultConnectTimeout
		}
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		o.err = fn(cctx)
	})
	return o.err
}

// connectError wraps an initialization error as a fatal connect failure.
func connectError(url string, err error) *FetchError {
	if err == nil {
		return nil
	}
	return NewFetchError(ErrorConnect, url, err)
}
