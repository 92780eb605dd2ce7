package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/crawlkit/internal/model"
)

type patternRow struct {
	SessionID  string `db:"session_id"`
	Direction  int    `db:"direction"`
	Regex      string `db:"regex"`
	CreateTime int64  `db:"create_time"`
}

// SavePatterns adds the patterns not already stored for sessionID.
func (s *SQL) SavePatterns(ctx context.Context, sessionID string, patterns []model.FilterPattern) error {
	if len(patterns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range patterns {
		var n int64
		if err := tx.GetContext(ctx, &n, s.q(`
		SELECT COUNT(1) FROM filter_patterns WHERE session_id = ? AND direction = ? AND regex = ?`),
			sessionID, int(p.Direction), p.Regex); err != nil {
			return fmt.Errorf("failed to check pattern: %w", err)
		}
		if n > 0 {
			continue
		}
		created := p.CreateTime
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO filter_patterns (session_id, direction, regex, create_time) VALUES (?, ?, ?, ?)`),
			sessionID, int(p.Direction), p.Regex, toNanos(created)); err != nil {
			return fmt.Errorf("failed to save pattern %q: %w", p.Regex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit patterns: %w", err)
	}
	return nil
}

// Patterns returns the patterns of sessionID in insertion order.
func (s *SQL) Patterns(ctx context.Context, sessionID string) ([]model.FilterPattern, error) {
	var rows []patternRow
	if err := s.db.SelectContext(ctx, &rows, s.q(`
	SELECT session_id, direction, regex, create_time FROM filter_patterns
	WHERE session_id = ? ORDER BY id`), sessionID); err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}

	patterns := make([]model.FilterPattern, 0, len(rows))
	for _, r := range rows {
		patterns = append(patterns, model.FilterPattern{
			SessionID:  r.SessionID,
			Direction:  model.Direction(r.Direction),
			Regex:      r.Regex,
			CreateTime: fromNanos(r.CreateTime),
		})
	}
	return patterns, nil
}

// DeletePatterns removes the patterns of sessionID.
func (s *SQL) DeletePatterns(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM filter_patterns WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("failed to delete patterns: %w", err)
	}
	return nil
}

type sessionRow struct {
	SessionID           string `db:"session_id"`
	Status              string `db:"status"`
	MaxAccessCount      int64  `db:"max_access_count"`
	MaxDepth            int    `db:"max_depth"`
	NumOfThreads        int    `db:"num_of_threads"`
	MaxThreadCheckCount int    `db:"max_thread_check_count"`
	AccessCount         int64  `db:"access_count"`
	Background          bool   `db:"background"`
	StartTime           int64  `db:"start_time"`
	EndTime             int64  `db:"end_time"`
}

func (r *sessionRow) session() *model.CrawlSession {
	return &model.CrawlSession{
		SessionID:           r.SessionID,
		Status:              model.ParseSessionStatus(r.Status),
		MaxAccessCount:      r.MaxAccessCount,
		MaxDepth:            r.MaxDepth,
		NumOfThreads:        r.NumOfThreads,
		MaxThreadCheckCount: r.MaxThreadCheckCount,
		AccessCount:         r.AccessCount,
		Background:          r.Background,
		StartTime:           fromNanos(r.StartTime),
		EndTime:             fromNanos(r.EndTime),
	}
}

const sessionColumns = `session_id, status, max_access_count, max_depth, num_of_threads,
	max_thread_check_count, access_count, background, start_time, end_time`

// SaveSession inserts or replaces a session record.
func (s *SQL) SaveSession(ctx context.Context, cs *model.CrawlSession) error {
	_, err := s.db.ExecContext(ctx, s.q(`
	INSERT INTO crawl_sessions (`+sessionColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		status = excluded.status,
		max_access_count = excluded.max_access_count,
		max_depth = excluded.max_depth,
		num_of_threads = excluded.num_of_threads,
		max_thread_check_count = excluded.max_thread_check_count,
		access_count = excluded.access_count,
		background = excluded.background,
		start_time = excluded.start_time,
		end_time = excluded.end_time`),
		cs.SessionID, cs.Status.String(), cs.MaxAccessCount, cs.MaxDepth, cs.NumOfThreads,
		cs.MaxThreadCheckCount, cs.AccessCount, cs.Background, toNanos(cs.StartTime), toNanos(cs.EndTime),
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", cs.SessionID, err)
	}
	return nil
}

// GetSession returns the session with id.
func (s *SQL) GetSession(ctx context.Context, id string) (*model.CrawlSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+sessionColumns+` FROM crawl_sessions WHERE session_id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return row.session(), nil
}

// ListSessions returns all sessions, most recently started first.
func (s *SQL) ListSessions(ctx context.Context) ([]*model.CrawlSession, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+sessionColumns+` FROM crawl_sessions ORDER BY start_time DESC, session_id`); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]*model.CrawlSession, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, rows[i].session())
	}
	return sessions, nil
}

// DeleteSession removes the session record with id.
func (s *SQL) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM crawl_sessions WHERE session_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
