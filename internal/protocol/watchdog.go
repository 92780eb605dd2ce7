package protocol

import (
	"context"
	"time"
)

// WithWatchdog runs fetch under a deadline of d. When the deadline expires
// the fetch's context is canceled, which interrupts blocking I/O, and the
// outcome becomes a timeout failure. A non-positive d disables the deadline.
func WithWatchdog(ctx context.Context, url string, d time.Duration, fetch func(ctx context.Context) Outcome) Outcome {
	if d <= 0 {
		return fetch(ctx)
	}

	wctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() {
		done <- fetch(wctx)
	}()

	select {
	case out := <-done:
		if out.Kind == KindFailed && out.Err != nil && wctx.Err() != nil && ctx.Err() == nil {
			out.Err = NewFetchError(ErrorTimeout, url, ErrWatchdogTimeout)
		}
		return out
	case <-wctx.Done():
		// The fetch ignored cancellation; release whatever it returns later.
		go func() {
			out := <-done
			_ = out.Close()
		}()
		if ctx.Err() != nil {
			return Failed(NewFetchError(ErrorCanceled, url, ctx.Err()), nil)
		}
		return Failed(NewFetchError(ErrorTimeout, url, ErrWatchdogTimeout), nil)
	}
}
