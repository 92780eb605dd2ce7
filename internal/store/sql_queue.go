package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nao1215/crawlkit/internal/model"
)

type queueRow struct {
	ID         int64   `db:"id"`
	SessionID  string  `db:"session_id"`
	URL        string  `db:"url"`
	ParentURL  string  `db:"parent_url"`
	Depth      int     `db:"depth"`
	Method     string  `db:"method"`
	Weight     float64 `db:"weight"`
	Metadata   string  `db:"metadata"`
	CreateTime int64   `db:"create_time"`
}

func (r *queueRow) entry() *model.QueueEntry {
	return &model.QueueEntry{
		ID:         r.ID,
		SessionID:  r.SessionID,
		URL:        r.URL,
		ParentURL:  r.ParentURL,
		Depth:      r.Depth,
		Method:     model.ParseMethod(r.Method),
		Weight:     r.Weight,
		Metadata:   r.Metadata,
		CreateTime: fromNanos(r.CreateTime),
	}
}

// Enqueue inserts entries in a single transaction.
func (s *SQL) Enqueue(ctx context.Context, sessionID string, entries []*model.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, s.q(`
	INSERT INTO queue_entries (session_id, url, parent_url, depth, method, weight, metadata, create_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare enqueue: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		created := e.CreateTime
		if created.IsZero() {
			created = time.Now()
		}
		method := e.Method
		if method == "" {
			method = model.MethodGet
		}
		if _, err := stmt.ExecContext(ctx,
			sessionID, e.URL, e.ParentURL, e.Depth, string(method), e.Weight, e.Metadata, toNanos(created),
		); err != nil {
			return fmt.Errorf("failed to enqueue %s: %w", e.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enqueue: %w", err)
	}
	return nil
}

// DequeuePage returns the oldest pageSize entries of sessionID.
func (s *SQL) DequeuePage(ctx context.Context, sessionID string, pageSize int) ([]*model.QueueEntry, error) {
	var rows []queueRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
	SELECT id, session_id, url, parent_url, depth, method, weight, metadata, create_time
	FROM queue_entries
	WHERE session_id = ?
	ORDER BY id
	LIMIT ?`), sessionID, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue page: %w", err)
	}

	entries := make([]*model.QueueEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].entry())
	}
	return entries, nil
}

// RemoveByIDs deletes queue entries by id.
func (s *SQL) RemoveByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM queue_entries WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.q(query), args...); err != nil {
		return fmt.Errorf("failed to remove queue entries: %w", err)
	}
	return nil
}

// ExistsPending reports whether (url, metadata) is queued for sessionID.
func (s *SQL) ExistsPending(ctx context.Context, sessionID, url, metadata string) (bool, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, s.q(`
	SELECT COUNT(1) FROM queue_entries
	WHERE session_id = ? AND url = ? AND metadata = ?`), sessionID, url, metadata)
	if err != nil {
		return false, fmt.Errorf("failed to check pending url: %w", err)
	}
	return n > 0, nil
}

// QueueCount returns the number of queued entries of sessionID.
func (s *SQL) QueueCount(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(1) FROM queue_entries WHERE session_id = ?`), sessionID); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

// MarkVisited inserts a visited mark for url unless one exists.
func (s *SQL) MarkVisited(ctx context.Context, sessionID, url string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
	INSERT INTO visited_urls (session_id, url, create_time)
	VALUES (?, ?, ?)
	ON CONFLICT (session_id, url) DO NOTHING`), sessionID, url, toNanos(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to mark %s visited: %w", url, err)
	}
	return nil
}

// ExistsVisited reports whether url carries a visited mark in sessionID.
func (s *SQL) ExistsVisited(ctx context.Context, sessionID, url string) (bool, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, s.q(`
	SELECT COUNT(1) FROM visited_urls
	WHERE session_id = ? AND url = ?`), sessionID, url)
	if err != nil {
		return false, fmt.Errorf("failed to check visited url: %w", err)
	}
	return n > 0, nil
}

// DeleteQueue removes the queued entries and visited marks of sessionID.
func (s *SQL) DeleteQueue(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM queue_entries WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("failed to delete queue: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM visited_urls WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("failed to delete visited urls: %w", err)
	}
	return nil
}

// DeleteAllQueues removes every queued entry and visited mark.
func (s *SQL) DeleteAllQueues(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queue_entries`); err != nil {
		return fmt.Errorf("failed to delete queues: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM visited_urls`); err != nil {
		return fmt.Errorf("failed to delete visited urls: %w", err)
	}
	return nil
}
