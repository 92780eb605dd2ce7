package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/crawlkit/internal/frontier"
	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/protocol"
	"github.com/nao1215/crawlkit/internal/rule"
)

// run is the immutable configuration the workers of one session share.
type run struct {
	session       model.CrawlSession
	logger        *slog.Logger
	limiter       *rate.Limiter
	fetchTimeout  time.Duration
	checkInterval time.Duration
}

func (r *run) depthExceeded(depth int) bool {
	return r.session.MaxDepth != model.UnlimitedDepth && depth > r.session.MaxDepth
}

// reserve takes an access slot. Every slot ends in exactly one commit or
// release, so the number of stored results never exceeds the limit.
func (c *Crawler) reserve(limit int64) bool {
	for {
		n := c.reserved.Load()
		if limit > 0 && n >= limit {
			return false
		}
		if c.reserved.CompareAndSwap(n, n+1) {
			c.inFlight.Add(1)
			return true
		}
	}
}

func (c *Crawler) release() {
	c.reserved.Add(-1)
	c.inFlight.Add(-1)
}

func (c *Crawler) commit() {
	c.stored.Add(1)
	c.inFlight.Add(-1)
}

// sleep waits for d or until ctx is done. It reports whether the worker
// should keep going.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// worker drains the session's frontier until it is stopped, the access limit
// is reached or it sees MaxThreadCheckCount consecutive empty polls. A
// returned error is fatal to the session.
func (c *Crawler) worker(ctx context.Context, r *run, n int) error {
	sid := r.session.SessionID
	logger := r.logger.With("worker", n)
	idle := 0

	for {
		if c.stopped.Load() || ctx.Err() != nil {
			return nil
		}

		if !c.reserve(r.session.MaxAccessCount) {
			// Slots held by other workers may still be released.
			if c.inFlight.Load() == 0 {
				logger.Debug("access limit reached")
				return nil
			}
			if !sleep(ctx, r.checkInterval) {
				return nil
			}
			continue
		}

		entry, err := c.deps.Frontier.Poll(ctx, sid)
		if errors.Is(err, frontier.ErrEmpty) {
			c.release()
			idle++
			if idle >= r.session.MaxThreadCheckCount {
				logger.Debug("frontier drained", "empty_polls", idle)
				return nil
			}
			if !sleep(ctx, r.checkInterval) {
				return nil
			}
			continue
		}
		if err != nil {
			c.release()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to poll frontier: %w", err)
		}
		idle = 0

		c.metrics.WorkerBusy(1)
		err = c.process(ctx, r, logger, entry)
		c.metrics.WorkerBusy(-1)
		if err != nil {
			return err
		}
	}
}

// process handles one reserved entry. It commits the slot when a result is
// stored and releases it otherwise. An entry interrupted by a stop goes back
// to the frontier so a resumed session fetches it.
func (c *Crawler) process(ctx context.Context, r *run, logger *slog.Logger, entry *model.QueueEntry) error {
	committed := false
	defer func() {
		if !committed {
			c.release()
		}
	}()
	save := func(result *model.FetchResult) error {
		if err := c.save(ctx, result); err != nil {
			return err
		}
		committed = true
		return nil
	}

	if !c.deps.Filter.Match(entry.URL) {
		logger.Debug("url rejected by filter", "url", entry.URL)
		return nil
	}
	if r.depthExceeded(entry.Depth) {
		logger.Debug("url beyond max depth", "url", entry.URL, "depth", entry.Depth)
		return nil
	}

	client, err := c.deps.Clients.Lookup(entry.URL)
	if err != nil {
		logger.Warn("no client for url", "url", entry.URL)
		return save(failedResult(entry, protocol.NewFetchError(protocol.ErrorUnsupported, entry.URL, err), nil))
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			c.deps.Frontier.Requeue(entry)
			return nil
		}
	}
	if c.stopped.Load() || ctx.Err() != nil {
		c.deps.Frontier.Requeue(entry)
		return nil
	}

	start := time.Now()
	includeBody := entry.Method != model.MethodHead
	outcome := protocol.WithWatchdog(ctx, entry.URL, r.fetchTimeout, func(ctx context.Context) protocol.Outcome {
		return client.Fetch(ctx, entry.URL, includeBody)
	})
	defer func() {
		if cerr := outcome.Close(); cerr != nil {
			logger.Debug("failed to release response body", "url", entry.URL, "error", cerr)
		}
	}()
	c.metrics.Fetched(protocol.Scheme(entry.URL), outcome.Kind.String(), time.Since(start))

	switch outcome.Kind {
	case protocol.KindExpand:
		logger.Debug("url expanded", "url", entry.URL, "children", len(outcome.ChildURLs))
		if err := c.enqueueChildren(ctx, r, entry, outcome.ChildURLs); err != nil {
			return err
		}
		return c.markVisited(ctx, entry)

	case protocol.KindFailed:
		fe := outcome.Err
		if fe == nil {
			fe = protocol.NewFetchError(protocol.ErrorAccess, entry.URL, errors.New("fetch failed"))
		}
		if fe.Fatal() {
			c.deps.Frontier.Requeue(entry)
			return fe
		}
		if fe.Kind == protocol.ErrorCanceled {
			logger.Debug("fetch interrupted", "url", entry.URL)
			c.deps.Frontier.Requeue(entry)
			return nil
		}
		if !fe.Recorded() {
			logger.Debug("fetch skipped", "url", entry.URL, "kind", fe.Kind)
			return c.markVisited(ctx, entry)
		}
		logger.Info("fetch failed", "url", entry.URL, "kind", fe.Kind, "error", fe.Err)
		return save(failedResult(entry, fe, outcome.Response))
	}

	resp := outcome.Response
	if resp == nil {
		return save(failedResult(entry, protocol.NewFetchError(protocol.ErrorAccess, entry.URL, errors.New("empty response")), nil))
	}
	resp.SessionID = entry.SessionID
	resp.ParentURL = entry.ParentURL
	resp.Depth = entry.Depth
	resp.Method = entry.Method
	if resp.URL == "" {
		resp.URL = entry.URL
	}

	matched, ok := c.deps.Rules.Rule(resp)
	if !ok {
		return save(failedResult(entry, protocol.NewFetchError(protocol.ErrorNoRule, entry.URL, rule.ErrNoRule), resp))
	}
	resp.RuleID = matched.ID()

	data, err := matched.Transformer().Transform(ctx, resp)
	if err != nil {
		if ctx.Err() != nil {
			c.deps.Frontier.Requeue(entry)
			return nil
		}
		logger.Info("transform failed", "url", entry.URL, "rule", resp.RuleID, "error", err)
		return save(failedResult(entry, protocol.NewFetchError(protocol.ErrorParse, entry.URL, err), resp))
	}

	result := newResult(entry, resp)
	if data != nil {
		result.Data = data.Data
		result.Encoding = data.Encoding
		result.Attributes = data.Attributes
	}
	if err := save(result); err != nil {
		return err
	}
	logger.Debug("url fetched", "url", entry.URL, "rule", resp.RuleID, "status", resp.HTTPStatus)

	if data == nil {
		return nil
	}
	return c.enqueueChildren(ctx, r, entry, data.ChildURLs)
}

// save stores result. Results of fetches that already happened are written
// even when the session is stopping.
func (c *Crawler) save(ctx context.Context, result *model.FetchResult) error {
	if err := c.deps.Results.StoreResult(context.WithoutCancel(ctx), result); err != nil {
		return fmt.Errorf("failed to store result for %s: %w", result.URL, err)
	}
	c.commit()
	c.metrics.Stored(result.Status.String())
	return nil
}

// markVisited leaves a durable trace of an entry that stores no result.
func (c *Crawler) markVisited(ctx context.Context, entry *model.QueueEntry) error {
	return c.deps.Frontier.MarkVisited(context.WithoutCancel(ctx), entry)
}

// enqueueChildren offers the filtered children of entry one level deeper.
// Children of a handled entry are offered even when the session is stopping,
// so they are flushed with the rest of the frontier.
func (c *Crawler) enqueueChildren(ctx context.Context, r *run, entry *model.QueueEntry, urls []string) error {
	if len(urls) == 0 || r.depthExceeded(entry.Depth+1) {
		return nil
	}
	children := make([]*model.QueueEntry, 0, len(urls))
	for _, u := range urls {
		if !c.deps.Filter.Match(u) {
			continue
		}
		children = append(children, entry.Child(u))
	}
	if len(children) == 0 {
		return nil
	}
	if _, err := c.deps.Frontier.OfferAll(context.WithoutCancel(ctx), entry.SessionID, children); err != nil {
		return fmt.Errorf("failed to enqueue children of %s: %w", entry.URL, err)
	}
	return nil
}

func newResult(entry *model.QueueEntry, resp *model.ResponseData) *model.FetchResult {
	result := model.NewFetchResult(entry)
	if resp == nil {
		return result
	}
	result.RuleID = resp.RuleID
	result.HTTPStatus = resp.HTTPStatus
	result.MimeType = resp.MimeType
	result.ContentLength = resp.ContentLength
	result.ExecutionTime = resp.ExecutionTime.Milliseconds()
	result.LastModified = resp.LastModified
	return result
}

func failedResult(entry *model.QueueEntry, fe *protocol.FetchError, resp *model.ResponseData) *model.FetchResult {
	result := newResult(entry, resp)
	result.Status = model.StatusFailed
	result.ErrorKind = string(fe.Kind)
	result.ErrorMessage = fe.Error()
	if result.HTTPStatus == 0 {
		result.HTTPStatus = fe.StatusCode
	}
	return result
}
