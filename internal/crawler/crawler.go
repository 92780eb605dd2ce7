package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nao1215/crawlkit/internal/frontier"
	"github.com/nao1215/crawlkit/internal/metrics"
	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/protocol"
	"github.com/nao1215/crawlkit/internal/rule"
	"github.com/nao1215/crawlkit/internal/store"
	"github.com/nao1215/crawlkit/internal/urlfilter"
)

// Defaults applied by New.
const (
	DefaultNumOfThreads        = 10
	DefaultMaxThreadCheckCount = 20
	DefaultThreadCheckInterval = 500 * time.Millisecond
	DefaultFetchTimeout        = 60 * time.Second
)

// ErrInvalidState is returned for operations the session's status does not
// allow, such as executing a session twice.
var ErrInvalidState = errors.New("invalid session state")

// Dependencies are the collaborators of a Crawler. Frontier, Results and
// Sessions may be shared between crawlers; Filter belongs to one crawler.
type Dependencies struct {
	Frontier *frontier.Frontier
	Filter   urlfilter.Filter
	Rules    *rule.Manager
	Clients  *protocol.Registry
	Results  store.ResultStore
	Sessions store.SessionStore
}

func (d Dependencies) validate() error {
	switch {
	case d.Frontier == nil:
		return errors.New("crawler: frontier is required")
	case d.Filter == nil:
		return errors.New("crawler: url filter is required")
	case d.Rules == nil:
		return errors.New("crawler: rule manager is required")
	case d.Clients == nil:
		return errors.New("crawler: client registry is required")
	case d.Results == nil:
		return errors.New("crawler: result store is required")
	case d.Sessions == nil:
		return errors.New("crawler: session store is required")
	}
	return nil
}

// Crawler runs one crawl session.
type Crawler struct {
	deps    Dependencies
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu                  sync.Mutex
	session             model.CrawlSession
	seeds               []string
	threadCheckInterval time.Duration
	fetchTimeout        time.Duration
	limiter             *rate.Limiter
	cancel              context.CancelFunc
	done                chan struct{}
	err                 error

	reserved atomic.Int64 // access slots taken, stored results plus in-flight
	stored   atomic.Int64
	inFlight atomic.Int64
	stopped  atomic.Bool
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Crawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Crawler) {
		c.metrics = m
	}
}

// New returns a READY crawler.
func New(deps Dependencies, opts ...Option) (*Crawler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	c := &Crawler{
		deps:   deps,
		logger: slog.Default(),
		session: model.CrawlSession{
			Status:              model.SessionReady,
			MaxDepth:            model.UnlimitedDepth,
			NumOfThreads:        DefaultNumOfThreads,
			MaxThreadCheckCount: DefaultMaxThreadCheckCount,
		},
		threadCheckInterval: DefaultThreadCheckInterval,
		fetchTimeout:        DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AddURL adds a seed URL. Seeds are filtered and enqueued at depth 0 by
// Execute.
func (c *Crawler) AddURL(urls ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seeds = append(c.seeds, urls...)
}

// SetSessionID sets the session id. Execute generates one when unset.
func (c *Crawler) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.SessionID = id
}

// SetMaxAccessCount bounds the number of stored results; zero means
// unlimited.
func (c *Crawler) SetMaxAccessCount(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.MaxAccessCount = max(n, 0)
}

// SetMaxDepth bounds entry depth; a negative depth means unlimited.
func (c *Crawler) SetMaxDepth(depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if depth < 0 {
		depth = model.UnlimitedDepth
	}
	c.session.MaxDepth = depth
}

// SetNumOfThreads sets the worker count.
func (c *Crawler) SetNumOfThreads(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.session.NumOfThreads = n
	}
}

// SetMaxThreadCheckCount sets how many consecutive empty polls a worker
// tolerates before exiting.
func (c *Crawler) SetMaxThreadCheckCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.session.MaxThreadCheckCount = n
	}
}

// SetThreadCheckInterval sets the pause after an empty poll.
func (c *Crawler) SetThreadCheckInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d >= 0 {
		c.threadCheckInterval = d
	}
}

// SetInterval sets the minimum delay between two fetches of the session.
func (c *Crawler) SetInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	} else {
		c.limiter = nil
	}
}

// SetFetchTimeout sets the watchdog deadline of a single fetch.
func (c *Crawler) SetFetchTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchTimeout = d
}

// SetBackground makes Execute return as soon as the workers start.
func (c *Crawler) SetBackground(background bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Background = background
}

// Status returns the session status.
func (c *Crawler) Status() model.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Status
}

// AccessCount returns the number of results stored so far.
func (c *Crawler) AccessCount() int64 {
	return c.stored.Load()
}

// Session returns a snapshot of the session.
func (c *Crawler) Session() model.CrawlSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	s.AccessCount = c.stored.Load()
	return s
}

// transition moves the session to next or fails with ErrInvalidState.
// The caller holds c.mu.
func (c *Crawler) transition(next model.SessionStatus) error {
	if !c.session.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidState, c.session.Status, next)
	}
	c.session.Status = next
	return nil
}

// Execute starts the session and returns its id. Unless the crawler runs in
// the background it blocks until the session terminates and returns the
// fatal error, if any. Canceling ctx stops the session.
func (c *Crawler) Execute(ctx context.Context) (string, error) {
	c.mu.Lock()
	if err := c.transition(model.SessionRunning); err != nil {
		c.mu.Unlock()
		return c.session.SessionID, err
	}
	if c.session.SessionID == "" {
		c.session.SessionID = uuid.NewString()
	}
	c.session.StartTime = time.Now()
	c.done = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	session := c.session
	seeds := append([]string(nil), c.seeds...)
	r := &run{
		session:       session,
		logger:        c.logger.With("session", session.SessionID),
		limiter:       c.limiter,
		fetchTimeout:  c.fetchTimeout,
		checkInterval: c.threadCheckInterval,
	}
	c.mu.Unlock()

	c.metrics.SessionStarted()

	if err := c.prepare(runCtx, session, seeds); err != nil {
		c.finish(ctx, err)
		return session.SessionID, err
	}
	r.logger.Info("crawl session started",
		"threads", session.NumOfThreads,
		"max_depth", session.MaxDepth,
		"max_access_count", session.MaxAccessCount,
		"seeds", len(seeds),
	)

	g, gctx := errgroup.WithContext(runCtx)
	for i := range session.NumOfThreads {
		g.Go(func() error {
			return c.worker(gctx, r, i)
		})
	}
	go func() {
		c.finish(ctx, g.Wait())
	}()

	if session.Background {
		return session.SessionID, nil
	}
	return session.SessionID, c.AwaitTermination()
}

// prepare commits the filter, records the session and enqueues the seeds.
func (c *Crawler) prepare(ctx context.Context, session model.CrawlSession, seeds []string) error {
	for _, seed := range seeds {
		c.deps.Filter.ProcessURL(seed)
	}
	if err := c.deps.Filter.Init(ctx, session.SessionID); err != nil {
		return fmt.Errorf("failed to initialize url filter: %w", err)
	}
	if err := c.deps.Sessions.SaveSession(ctx, &session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	for _, seed := range seeds {
		if !c.deps.Filter.Match(seed) {
			c.logger.Warn("seed rejected by url filter", "session", session.SessionID, "url", seed)
			continue
		}
		visited, err := c.deps.Frontier.Visited(ctx, model.NewQueueEntry(session.SessionID, seed))
		if err != nil {
			return fmt.Errorf("failed to check seed %s: %w", seed, err)
		}
		if visited {
			c.logger.Debug("seed already known", "session", session.SessionID, "url", seed)
			continue
		}
		if err := c.deps.Frontier.Add(ctx, session.SessionID, seed); err != nil {
			c.logger.Warn("seed ignored", "session", session.SessionID, "url", seed, "error", err)
		}
	}
	return nil
}

// finish flushes the frontier, records the final status and releases
// AwaitTermination.
func (c *Crawler) finish(ctx context.Context, err error) {
	bg := context.WithoutCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(c.done)
	c.cancel()

	sid := c.session.SessionID
	if ferr := c.deps.Frontier.SaveSession(bg, sid); ferr != nil {
		c.logger.Error("failed to flush frontier", "session", sid, "error", ferr)
		err = errors.Join(err, ferr)
	}

	next := model.SessionDone
	if err != nil || c.stopped.Load() || ctx.Err() != nil {
		next = model.SessionAborted
	}
	_ = c.transition(next)
	c.session.EndTime = time.Now()
	c.session.AccessCount = c.stored.Load()
	c.err = err

	snapshot := c.session
	if serr := c.deps.Sessions.SaveSession(bg, &snapshot); serr != nil {
		c.logger.Error("failed to save session", "session", sid, "error", serr)
		if c.err == nil {
			c.err = serr
		}
	}
	c.metrics.SessionEnded(next.String())

	attrs := []any{
		"session", sid,
		"status", next.String(),
		"access_count", c.session.AccessCount,
		"duration", c.session.Duration(),
	}
	if err != nil {
		c.logger.Error("crawl session aborted", append(attrs, "error", err)...)
		return
	}
	c.logger.Info("crawl session finished", attrs...)
}

// AwaitTermination blocks until the session terminates and returns the
// error that aborted it, if any. A stopped session returns nil.
func (c *Crawler) AwaitTermination() error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return fmt.Errorf("%w: session has not been executed", ErrInvalidState)
	}
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stop asks the workers to exit and interrupts in-flight fetches. The
// session ends ABORTED. Stopping a session that is not running does nothing.
func (c *Crawler) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status != model.SessionRunning {
		return
	}
	c.stopped.Store(true)
	if c.cancel != nil {
		c.cancel()
	}
}
