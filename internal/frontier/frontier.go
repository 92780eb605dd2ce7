package frontier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nao1215/crawlkit/internal/metrics"
	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/store"
)

const (
	// DefaultPageSize is how many entries a refill loads from the store.
	DefaultPageSize = 1000

	// DefaultCacheSize is the per-session LRU dedup cache capacity.
	DefaultCacheSize = 1000
)

var (
	// ErrEmpty is returned by Poll when neither memory nor the store holds
	// an entry for the session.
	ErrEmpty = errors.New("frontier is empty")

	// ErrBlankURL is returned by Add for an empty URL.
	ErrBlankURL = errors.New("blank url")

	// ErrSessionExists is returned by UpdateSessionID when the new id is in use.
	ErrSessionExists = errors.New("session id already in use")
)

// Store is the persistence the frontier needs: the overflow queue plus a
// lookup of already stored results.
type Store interface {
	store.QueueStore
	ExistsResult(ctx context.Context, sessionID, url string) (bool, error)
}

// sessionQueue is the in-memory state of one session.
type sessionQueue struct {
	mu      sync.Mutex
	id      string
	pending []*model.QueueEntry
	seen    *lru.Cache[string, struct{}]
}

// Frontier is the URL queue shared by all sessions of a process.
type Frontier struct {
	store     Store
	pageSize  int
	cacheSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// mu is held exclusively only while a session is renamed.
	mu       sync.RWMutex
	sessions *registry[*sessionQueue]
}

// Option configures a Frontier.
type Option func(*Frontier)

// WithPageSize sets how many entries a refill loads from the store.
func WithPageSize(n int) Option {
	return func(f *Frontier) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

// WithCacheSize sets the per-session LRU dedup cache capacity.
func WithCacheSize(n int) Option {
	return func(f *Frontier) {
		if n > 0 {
			f.cacheSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Frontier) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics records enqueue and dequeue counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Frontier) {
		f.metrics = m
	}
}

// New returns a Frontier backed by s.
func New(s Store, opts ...Option) *Frontier {
	f := &Frontier{
		store:     s,
		pageSize:  DefaultPageSize,
		cacheSize: DefaultCacheSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.sessions = newRegistry(f.newSessionQueue)
	return f
}

func (f *Frontier) newSessionQueue(sessionID string) *sessionQueue {
	// lru.New only fails for a non-positive size, which the options rule out.
	seen, _ := lru.New[string, struct{}](f.cacheSize)
	return &sessionQueue{id: sessionID, seen: seen}
}

// Add appends a depth-0 GET entry for url to the session's memory list.
func (f *Frontier) Add(_ context.Context, sessionID, url string) error {
	if strings.TrimSpace(url) == "" {
		return ErrBlankURL
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	q := f.sessions.get(sessionID)
	q.mu.Lock()
	defer q.mu.Unlock()

	e := model.NewQueueEntry(sessionID, url)
	q.seen.Add(e.Key(), struct{}{})
	q.pending = append(q.pending, e)
	f.metrics.Enqueued(1)
	return nil
}

// OfferAll deduplicates entries and persists the new ones to the store.
// It returns how many entries were accepted.
func (f *Frontier) OfferAll(ctx context.Context, sessionID string, entries []*model.QueueEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	q := f.sessions.get(sessionID)
	q.mu.Lock()
	defer q.mu.Unlock()

	accepted := make([]*model.QueueEntry, 0, len(entries))
	for _, e := range entries {
		e.SessionID = sessionID
		ok, err := f.isNewURL(ctx, q, e)
		if err != nil {
			return 0, err
		}
		if ok {
			accepted = append(accepted, e)
		}
	}
	if len(accepted) == 0 {
		return 0, nil
	}

	if err := f.store.Enqueue(ctx, sessionID, accepted); err != nil {
		return 0, fmt.Errorf("failed to enqueue %d entries: %w", len(accepted), err)
	}
	f.metrics.Enqueued(len(accepted))
	f.logger.Debug("entries offered", "session", sessionID, "offered", len(entries), "accepted", len(accepted))
	return len(accepted), nil
}

// isNewURL applies the dedup checks in order, cheapest first. A cache miss
// records the key, so a later offer of the same entry stops at the cache.
// The caller holds q.mu.
func (f *Frontier) isNewURL(ctx context.Context, q *sessionQueue, e *model.QueueEntry) (bool, error) {
	if strings.TrimSpace(e.URL) == "" {
		return false, nil
	}

	key := e.Key()
	if found, _ := q.seen.ContainsOrAdd(key, struct{}{}); found {
		return false, nil
	}

	if containsEntry(q.pending, e) {
		return false, nil
	}

	pending, err := f.store.ExistsPending(ctx, q.id, e.URL, e.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to check pending queue: %w", err)
	}
	if pending {
		return false, nil
	}

	done, err := f.store.ExistsResult(ctx, q.id, e.URL)
	if err != nil {
		return false, fmt.Errorf("failed to check results: %w", err)
	}
	if done {
		return false, nil
	}

	marked, err := f.store.ExistsVisited(ctx, q.id, e.URL)
	if err != nil {
		return false, fmt.Errorf("failed to check visited urls: %w", err)
	}
	return !marked, nil
}

func containsEntry(list []*model.QueueEntry, e *model.QueueEntry) bool {
	for _, p := range list {
		if p.URL == e.URL && p.Metadata == e.Metadata {
			return true
		}
	}
	return false
}

// Poll removes and returns the head of the session's queue, refilling
// memory from the store when it is empty. It returns ErrEmpty when there
// is nothing left.
func (f *Frontier) Poll(ctx context.Context, sessionID string) (*model.QueueEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q := f.sessions.get(sessionID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		if err := f.refill(ctx, q); err != nil {
			return nil, err
		}
		if len(q.pending) == 0 {
			return nil, ErrEmpty
		}
	}

	e := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	f.metrics.Dequeued()
	return e, nil
}

// refill moves one page from the store into memory. Rows are only appended
// once their removal succeeded. The caller holds q.mu.
func (f *Frontier) refill(ctx context.Context, q *sessionQueue) error {
	page, err := f.store.DequeuePage(ctx, q.id, f.pageSize)
	if err != nil {
		return fmt.Errorf("failed to load queue page: %w", err)
	}
	if len(page) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(page))
	for _, e := range page {
		ids = append(ids, e.ID)
	}
	if err := f.store.RemoveByIDs(ctx, ids); err != nil {
		return fmt.Errorf("failed to remove queue page: %w", err)
	}

	for _, e := range page {
		e.ID = 0
		e.SessionID = q.id
	}
	q.pending = append(q.pending, page...)
	f.logger.Debug("frontier refilled", "session", q.id, "entries", len(page))
	return nil
}

// Visited reports whether entry is already known to its session: cached,
// pending in memory or in the store, or already fetched. Unlike OfferAll it
// leaves the dedup cache untouched. A blank URL is never visited.
func (f *Frontier) Visited(ctx context.Context, entry *model.QueueEntry) (bool, error) {
	if strings.TrimSpace(entry.URL) == "" {
		return false, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if q, ok := f.sessions.lookup(entry.SessionID); ok {
		q.mu.Lock()
		hit := q.seen.Contains(entry.Key()) || containsEntry(q.pending, entry)
		q.mu.Unlock()
		if hit {
			return true, nil
		}
	}

	pending, err := f.store.ExistsPending(ctx, entry.SessionID, entry.URL, entry.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to check pending queue: %w", err)
	}
	if pending {
		return true, nil
	}
	done, err := f.store.ExistsResult(ctx, entry.SessionID, entry.URL)
	if err != nil {
		return false, fmt.Errorf("failed to check results: %w", err)
	}
	if done {
		return true, nil
	}
	marked, err := f.store.ExistsVisited(ctx, entry.SessionID, entry.URL)
	if err != nil {
		return false, fmt.Errorf("failed to check visited urls: %w", err)
	}
	return marked, nil
}

// MarkVisited records entry as handled without a result, so it stays
// deduplicated after it leaves the cache.
func (f *Frontier) MarkVisited(ctx context.Context, entry *model.QueueEntry) error {
	if err := f.store.MarkVisited(ctx, entry.SessionID, entry.URL); err != nil {
		return fmt.Errorf("failed to mark %s visited: %w", entry.URL, err)
	}
	return nil
}

// Requeue puts an entry that was polled but not handled back at the head of
// its session's memory list. It skips the dedup checks, which already
// accepted the entry once.
func (f *Frontier) Requeue(entry *model.QueueEntry) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q := f.sessions.get(entry.SessionID)
	q.mu.Lock()
	defer q.mu.Unlock()

	e := entry.Clone()
	e.ID = 0
	e.SessionID = q.id
	q.pending = append([]*model.QueueEntry{e}, q.pending...)
	f.metrics.Enqueued(1)
	f.logger.Debug("entry requeued", "session", q.id, "url", e.URL)
}

// UpdateSessionID rebinds the in-memory state of oldID to newID. Entries
// already in the store keep their original session id. Renaming an unknown
// session is a no-op.
func (f *Frontier) UpdateSessionID(oldID, newID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.sessions.lookup(oldID); !ok {
		return nil
	}
	q, ok := f.sessions.rename(oldID, newID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, newID)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.id = newID
	for _, e := range q.pending {
		e.SessionID = newID
	}
	return nil
}

// SaveSession writes the session's in-memory entries back to the store and
// empties the memory list, so the session can be resumed later.
func (f *Frontier) SaveSession(ctx context.Context, sessionID string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.sessions.lookup(sessionID)
	if !ok {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	flush := make([]*model.QueueEntry, 0, len(q.pending))
	for _, e := range q.pending {
		c := e.Clone()
		c.ID = 0
		flush = append(flush, c)
	}
	if err := f.store.Enqueue(ctx, sessionID, flush); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}
	q.pending = nil
	f.logger.Debug("frontier saved", "session", sessionID, "entries", len(flush))
	return nil
}

// Delete removes the session's stored queue and in-memory state.
// Deleting an unknown session is not an error.
func (f *Frontier) Delete(ctx context.Context, sessionID string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.store.DeleteQueue(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete queue of %s: %w", sessionID, err)
	}
	f.sessions.remove(sessionID)
	return nil
}

// DeleteAll removes every session's stored queue and in-memory state.
func (f *Frontier) DeleteAll(ctx context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.store.DeleteAllQueues(ctx); err != nil {
		return fmt.Errorf("failed to delete queues: %w", err)
	}
	f.sessions.clear()
	return nil
}

// Len returns the number of in-memory pending entries of sessionID.
func (f *Frontier) Len(sessionID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.sessions.lookup(sessionID)
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Sessions returns the number of sessions with in-memory state.
func (f *Frontier) Sessions() int {
	return f.sessions.len()
}
