package store

import (
	"context"
	"errors"

	"github.com/nao1215/crawlkit/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// QueueStore holds the overflow part of each session's frontier.
type QueueStore interface {
	// Enqueue inserts entries for sessionID. Entry IDs are assigned by the store.
	Enqueue(ctx context.Context, sessionID string, entries []*model.QueueEntry) error

	// DequeuePage returns up to pageSize entries in insertion order without
	// removing them. Callers remove them with RemoveByIDs.
	DequeuePage(ctx context.Context, sessionID string, pageSize int) ([]*model.QueueEntry, error)

	// RemoveByIDs deletes queue entries by id.
	RemoveByIDs(ctx context.Context, ids []int64) error

	// ExistsPending reports whether an entry with url and metadata is queued.
	ExistsPending(ctx context.Context, sessionID, url, metadata string) (bool, error)

	// QueueCount returns the number of queued entries for sessionID.
	QueueCount(ctx context.Context, sessionID string) (int64, error)

	// MarkVisited records that url was handled in sessionID without leaving
	// a result, such as a directory or a redirect. Marking twice is allowed.
	MarkVisited(ctx context.Context, sessionID, url string) error

	// ExistsVisited reports whether url was marked visited in sessionID.
	ExistsVisited(ctx context.Context, sessionID, url string) (bool, error)

	// DeleteQueue removes every queued entry and visited mark of sessionID.
	DeleteQueue(ctx context.Context, sessionID string) error

	// DeleteAllQueues removes every queued entry and visited mark.
	DeleteAllQueues(ctx context.Context) error
}

// ResultStore holds fetch results.
type ResultStore interface {
	// StoreResult inserts r and sets r.ID.
	StoreResult(ctx context.Context, r *model.FetchResult) error

	// UpdateResult overwrites the stored result with r.ID, or the latest
	// result for (r.SessionID, r.URL) when r.ID is zero.
	UpdateResult(ctx context.Context, r *model.FetchResult) error

	// GetResult returns the latest result for url in sessionID.
	GetResult(ctx context.Context, sessionID, url string) (*model.FetchResult, error)

	// Count returns the number of results of sessionID.
	Count(ctx context.Context, sessionID string) (int64, error)

	// DeleteBySession removes the results of sessionID and returns how many
	// were removed.
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)

	// DeleteAll removes every result and returns how many were removed.
	DeleteAll(ctx context.Context) (int64, error)

	// Iterate calls fn for each result of sessionID ordered by create time.
	// Iteration stops at the first error fn returns.
	Iterate(ctx context.Context, sessionID string, fn func(*model.FetchResult) error) error

	// ExistsResult reports whether url has a result in sessionID.
	ExistsResult(ctx context.Context, sessionID, url string) (bool, error)
}

// PatternStore holds committed URL filter patterns.
type PatternStore interface {
	// SavePatterns adds patterns that are not already stored for sessionID.
	SavePatterns(ctx context.Context, sessionID string, patterns []model.FilterPattern) error

	// Patterns returns the stored patterns of sessionID in insertion order.
	Patterns(ctx context.Context, sessionID string) ([]model.FilterPattern, error)

	// DeletePatterns removes the patterns of sessionID.
	DeletePatterns(ctx context.Context, sessionID string) error
}

// SessionStore holds session records.
type SessionStore interface {
	// SaveSession inserts or replaces s.
	SaveSession(ctx context.Context, s *model.CrawlSession) error

	// GetSession returns the session with id, or ErrNotFound.
	GetSession(ctx context.Context, id string) (*model.CrawlSession, error)

	// ListSessions returns all sessions, most recently started first.
	ListSessions(ctx context.Context) ([]*model.CrawlSession, error)

	// DeleteSession removes the session record with id.
	DeleteSession(ctx context.Context, id string) error
}

// Store is the full persistence surface used by the crawler.
type Store interface {
	QueueStore
	ResultStore
	PatternStore
	SessionStore

	// Close releases the underlying resources.
	Close() error
}

// PurgeSession removes every trace of sessionID from s: queue, results,
// patterns and the session record. It returns the number of results removed.
func PurgeSession(ctx context.Context, s Store, sessionID string) (int64, error) {
	if err := s.DeleteQueue(ctx, sessionID); err != nil {
		return 0, err
	}
	n, err := s.DeleteBySession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if err := s.DeletePatterns(ctx, sessionID); err != nil {
		return n, err
	}
	if err := s.DeleteSession(ctx, sessionID); err != nil {
		return n, err
	}
	return n, nil
}
