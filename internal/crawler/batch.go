package crawler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/crawlkit/internal/model"
)

// DefaultBatchConcurrency is the number of sessions a Batch runs at once
// unless WithConcurrency says otherwise.
const DefaultBatchConcurrency = 4

// BatchResult is the outcome of one crawler in a batch.
type BatchResult struct {
	SessionID string
	Status    model.SessionStatus
	Session   model.CrawlSession
	Err       error
}

// Batch runs independent crawlers concurrently. The crawlers share nothing
// but whatever stores they were built with; a failing session does not stop
// the others.
type Batch struct {
	concurrency int
	logger      *slog.Logger
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithBatchLogger sets the batch logger.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *Batch) {
		b.logger = logger
	}
}

// WithConcurrency sets how many sessions run at the same time.
func WithConcurrency(n int) BatchOption {
	return func(b *Batch) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatch returns a Batch.
func NewBatch(opts ...BatchOption) *Batch {
	b := &Batch{concurrency: DefaultBatchConcurrency}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Run executes every crawler and waits for all of them. Results are in the
// order of crawlers; per-session errors are reported in BatchResult.Err.
// The returned error is only set when ctx ends before every session started.
func (b *Batch) Run(ctx context.Context, crawlers []*Crawler) ([]BatchResult, error) {
	results := make([]BatchResult, len(crawlers))
	err := b.RunWithCallback(ctx, crawlers, func(r BatchResult, i int) {
		results[i] = r
	})
	return results, err
}

// RunWithCallback executes every crawler and calls fn as each one
// terminates. fn is called from the goroutine that ran the session, and
// once with ctx's error for each session that never started.
func (b *Batch) RunWithCallback(ctx context.Context, crawlers []*Crawler, fn func(BatchResult, int)) error {
	b.logger.Info("starting batch crawl",
		"sessions", len(crawlers),
		"concurrency", b.concurrency,
	)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, c := range crawlers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				session := c.Session()
				b.logger.Warn("session not started", "session", session.SessionID, "index", i+1, "error", err)
				fn(BatchResult{
					SessionID: session.SessionID,
					Status:    session.Status,
					Session:   session,
					Err:       err,
				}, i)
				return err
			}

			sid, err := c.Execute(gctx)
			if err == nil {
				err = c.AwaitTermination()
			}
			session := c.Session()
			if err != nil {
				b.logger.Warn("session failed", "session", sid, "index", i+1, "error", err)
			} else {
				b.logger.Info("session completed",
					"session", sid,
					"index", i+1,
					"status", session.Status.String(),
					"access_count", session.AccessCount,
				)
			}
			fn(BatchResult{
				SessionID: sid,
				Status:    session.Status,
				Session:   session,
				Err:       err,
			}, i)
			return nil
		})
	}

	err := g.Wait()
	b.logger.Info("batch crawl complete",
		"sessions", len(crawlers),
		"elapsed", time.Since(start),
	)
	return err
}
