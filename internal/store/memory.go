package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nao1215/crawlkit/internal/model"
)

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	nextID   int64
	queue    map[string][]*model.QueueEntry
	visited  map[string]map[string]struct{}
	results  map[string][]*model.FetchResult
	patterns map[string][]model.FilterPattern
	sessions map[string]*model.CrawlSession
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		queue:    make(map[string][]*model.QueueEntry),
		visited:  make(map[string]map[string]struct{}),
		results:  make(map[string][]*model.FetchResult),
		patterns: make(map[string][]model.FilterPattern),
		sessions: make(map[string]*model.CrawlSession),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// Enqueue appends copies of entries.
func (m *Memory) Enqueue(_ context.Context, sessionID string, entries []*model.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		c := e.Clone()
		c.ID = m.id()
		c.SessionID = sessionID
		if c.CreateTime.IsZero() {
			c.CreateTime = time.Now()
		}
		if c.Method == "" {
			c.Method = model.MethodGet
		}
		m.queue[sessionID] = append(m.queue[sessionID], c)
	}
	return nil
}

// DequeuePage returns copies of the oldest pageSize entries.
func (m *Memory) DequeuePage(_ context.Context, sessionID string, pageSize int) ([]*model.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue[sessionID]
	n := min(pageSize, len(q))
	page := make([]*model.QueueEntry, 0, n)
	for _, e := range q[:n] {
		page = append(page, e.Clone())
	}
	return page, nil
}

// RemoveByIDs deletes queue entries by id.
func (m *Memory) RemoveByIDs(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	for sid, q := range m.queue {
		m.queue[sid] = slices.DeleteFunc(q, func(e *model.QueueEntry) bool {
			_, ok := drop[e.ID]
			return ok
		})
	}
	return nil
}

// ExistsPending reports whether (url, metadata) is queued.
func (m *Memory) ExistsPending(_ context.Context, sessionID, url, metadata string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.ContainsFunc(m.queue[sessionID], func(e *model.QueueEntry) bool {
		return e.URL == url && e.Metadata == metadata
	}), nil
}

// QueueCount returns the number of queued entries of sessionID.
func (m *Memory) QueueCount(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.queue[sessionID])), nil
}

// MarkVisited records url as visited in sessionID.
func (m *Memory) MarkVisited(_ context.Context, sessionID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.visited[sessionID]
	if !ok {
		set = make(map[string]struct{})
		m.visited[sessionID] = set
	}
	set[url] = struct{}{}
	return nil
}

// ExistsVisited reports whether url was marked visited in sessionID.
func (m *Memory) ExistsVisited(_ context.Context, sessionID, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.visited[sessionID][url]
	return ok, nil
}

// DeleteQueue removes the queue and visited marks of sessionID.
func (m *Memory) DeleteQueue(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queue, sessionID)
	delete(m.visited, sessionID)
	return nil
}

// DeleteAllQueues removes every queue and visited mark.
func (m *Memory) DeleteAllQueues(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.queue)
	clear(m.visited)
	return nil
}

func cloneResult(r *model.FetchResult) *model.FetchResult {
	c := *r
	c.Data = slices.Clone(r.Data)
	if r.Attributes != nil {
		c.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// StoreResult stores a copy of r and sets r.ID.
func (m *Memory) StoreResult(_ context.Context, r *model.FetchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = m.id()
	m.results[r.SessionID] = append(m.results[r.SessionID], cloneResult(r))
	return nil
}

// UpdateResult replaces a stored result.
func (m *Memory) UpdateResult(_ context.Context, r *model.FetchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := m.results[r.SessionID]
	for i := len(rs) - 1; i >= 0; i-- {
		if (r.ID != 0 && rs[i].ID == r.ID) || (r.ID == 0 && rs[i].URL == r.URL) {
			r.ID = rs[i].ID
			rs[i] = cloneResult(r)
			return nil
		}
	}
	return ErrNotFound
}

// GetResult returns the latest result for url.
func (m *Memory) GetResult(_ context.Context, sessionID, url string) (*model.FetchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := m.results[sessionID]
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i].URL == url {
			return cloneResult(rs[i]), nil
		}
	}
	return nil, ErrNotFound
}

// Count returns the number of results of sessionID.
func (m *Memory) Count(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.results[sessionID])), nil
}

// DeleteBySession removes the results of sessionID.
func (m *Memory) DeleteBySession(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.results[sessionID]))
	delete(m.results, sessionID)
	return n, nil
}

// DeleteAll removes every result.
func (m *Memory) DeleteAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, rs := range m.results {
		n += int64(len(rs))
	}
	clear(m.results)
	return n, nil
}

// Iterate calls fn on a snapshot of the session's results ordered by create time.
func (m *Memory) Iterate(ctx context.Context, sessionID string, fn func(*model.FetchResult) error) error {
	m.mu.Lock()
	snapshot := make([]*model.FetchResult, 0, len(m.results[sessionID]))
	for _, r := range m.results[sessionID] {
		snapshot = append(snapshot, cloneResult(r))
	}
	m.mu.Unlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].CreateTime.Before(snapshot[j].CreateTime)
	})
	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// ExistsResult reports whether url has a result in sessionID.
func (m *Memory) ExistsResult(_ context.Context, sessionID, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.ContainsFunc(m.results[sessionID], func(r *model.FetchResult) bool {
		return r.URL == url
	}), nil
}

// SavePatterns adds patterns not already stored.
func (m *Memory) SavePatterns(_ context.Context, sessionID string, patterns []model.FilterPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range patterns {
		exists := slices.ContainsFunc(m.patterns[sessionID], func(q model.FilterPattern) bool {
			return q.Direction == p.Direction && q.Regex == p.Regex
		})
		if exists {
			continue
		}
		p.SessionID = sessionID
		if p.CreateTime.IsZero() {
			p.CreateTime = time.Now()
		}
		m.patterns[sessionID] = append(m.patterns[sessionID], p)
	}
	return nil
}

// Patterns returns the patterns of sessionID.
func (m *Memory) Patterns(_ context.Context, sessionID string) ([]model.FilterPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.patterns[sessionID]), nil
}

// DeletePatterns removes the patterns of sessionID.
func (m *Memory) DeletePatterns(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.patterns, sessionID)
	return nil
}

// SaveSession stores a copy of s.
func (m *Memory) SaveSession(_ context.Context, s *model.CrawlSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.sessions[s.SessionID] = &c
	return nil
}

// GetSession returns the session with id.
func (m *Memory) GetSession(_ context.Context, id string) (*model.CrawlSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

// ListSessions returns all sessions, most recently started first.
func (m *Memory) ListSessions(_ context.Context) ([]*model.CrawlSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := make([]*model.CrawlSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		c := *s
		sessions = append(sessions, &c)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].StartTime.After(sessions[j].StartTime)
		}
		return sessions[i].SessionID < sessions[j].SessionID
	})
	return sessions, nil
}

// DeleteSession removes the session record with id.
func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
