package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nao1215/crawlkit/internal/model"
)

// iteratePageSize is how many results Iterate loads per query.
const iteratePageSize = 500

const resultColumns = `id, session_id, url, parent_url, depth, method, rule_id, http_status, mime_type,
	content_length, execution_time, last_modified, create_time, status, error_kind, error_message,
	data, encoding, attributes`

type resultRow struct {
	ID            int64  `db:"id"`
	SessionID     string `db:"session_id"`
	URL           string `db:"url"`
	ParentURL     string `db:"parent_url"`
	Depth         int    `db:"depth"`
	Method        string `db:"method"`
	RuleID        string `db:"rule_id"`
	HTTPStatus    int    `db:"http_status"`
	MimeType      string `db:"mime_type"`
	ContentLength int64  `db:"content_length"`
	ExecutionTime int64  `db:"execution_time"`
	LastModified  int64  `db:"last_modified"`
	CreateTime    int64  `db:"create_time"`
	Status        int    `db:"status"`
	ErrorKind     string `db:"error_kind"`
	ErrorMessage  string `db:"error_message"`
	Data          []byte `db:"data"`
	Encoding      string `db:"encoding"`
	Attributes    string `db:"attributes"`
}

func (r *resultRow) result() (*model.FetchResult, error) {
	res := &model.FetchResult{
		ID:            r.ID,
		SessionID:     r.SessionID,
		URL:           r.URL,
		ParentURL:     r.ParentURL,
		Depth:         r.Depth,
		Method:        model.ParseMethod(r.Method),
		RuleID:        r.RuleID,
		HTTPStatus:    r.HTTPStatus,
		MimeType:      r.MimeType,
		ContentLength: r.ContentLength,
		ExecutionTime: r.ExecutionTime,
		LastModified:  fromNanos(r.LastModified),
		CreateTime:    fromNanos(r.CreateTime),
		Status:        model.ResultStatus(r.Status),
		ErrorKind:     r.ErrorKind,
		ErrorMessage:  r.ErrorMessage,
		Data:          r.Data,
		Encoding:      r.Encoding,
	}
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &res.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes of result %d: %w", r.ID, err)
		}
	}
	return res, nil
}

func encodeAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes: %w", err)
	}
	return string(b), nil
}

// StoreResult inserts r and sets r.ID.
func (s *SQL) StoreResult(ctx context.Context, r *model.FetchResult) error {
	attrs, err := encodeAttributes(r.Attributes)
	if err != nil {
		return err
	}

	query := s.q(`
	INSERT INTO access_results (session_id, url, parent_url, depth, method, rule_id, http_status, mime_type,
		content_length, execution_time, last_modified, create_time, status, error_kind, error_message,
		data, encoding, attributes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING id`)

	err = s.db.QueryRowxContext(ctx, query,
		r.SessionID, r.URL, r.ParentURL, r.Depth, string(r.Method), r.RuleID, r.HTTPStatus, r.MimeType,
		r.ContentLength, r.ExecutionTime, toNanos(r.LastModified), toNanos(r.CreateTime), int(r.Status),
		r.ErrorKind, r.ErrorMessage, r.Data, r.Encoding, attrs,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("failed to store result for %s: %w", r.URL, err)
	}
	return nil
}

// UpdateResult overwrites a stored result.
func (s *SQL) UpdateResult(ctx context.Context, r *model.FetchResult) error {
	if r.ID == 0 {
		existing, err := s.GetResult(ctx, r.SessionID, r.URL)
		if err != nil {
			return err
		}
		r.ID = existing.ID
	}

	attrs, err := encodeAttributes(r.Attributes)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.q(`
	UPDATE access_results SET
		parent_url = ?, depth = ?, method = ?, rule_id = ?, http_status = ?, mime_type = ?,
		content_length = ?, execution_time = ?, last_modified = ?, create_time = ?, status = ?,
		error_kind = ?, error_message = ?, data = ?, encoding = ?, attributes = ?
	WHERE id = ?`),
		r.ParentURL, r.Depth, string(r.Method), r.RuleID, r.HTTPStatus, r.MimeType,
		r.ContentLength, r.ExecutionTime, toNanos(r.LastModified), toNanos(r.CreateTime), int(r.Status),
		r.ErrorKind, r.ErrorMessage, r.Data, r.Encoding, attrs, r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update result %d: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update result %d: %w", r.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetResult returns the latest result for url in sessionID.
func (s *SQL) GetResult(ctx context.Context, sessionID, url string) (*model.FetchResult, error) {
	var row resultRow
	err := s.db.GetContext(ctx, &row, s.q(`
	SELECT `+resultColumns+`
	FROM access_results
	WHERE session_id = ? AND url = ?
	ORDER BY id DESC
	LIMIT 1`), sessionID, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return row.result()
}

// Count returns the number of results of sessionID.
func (s *SQL) Count(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(1) FROM access_results WHERE session_id = ?`), sessionID); err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return n, nil
}

// DeleteBySession removes the results of sessionID.
func (s *SQL) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM access_results WHERE session_id = ?`), sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete results: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAll removes every result.
func (s *SQL) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM access_results`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete results: %w", err)
	}
	return res.RowsAffected()
}

// Iterate walks the results of sessionID in (create_time, id) order.
// Results are loaded a page at a time, so fn may call back into the store.
func (s *SQL) Iterate(ctx context.Context, sessionID string, fn func(*model.FetchResult) error) error {
	query := s.q(`
	SELECT ` + resultColumns + `
	FROM access_results
	WHERE session_id = ? AND (create_time > ? OR (create_time = ? AND id > ?))
	ORDER BY create_time, id
	LIMIT ?`)

	var lastTime, lastID int64 = -1, 0
	for {
		var rows []resultRow
		if err := s.db.SelectContext(ctx, &rows, query, sessionID, lastTime, lastTime, lastID, iteratePageSize); err != nil {
			return fmt.Errorf("failed to iterate results: %w", err)
		}
		for i := range rows {
			r, err := rows[i].result()
			if err != nil {
				return err
			}
			if err := fn(r); err != nil {
				return err
			}
		}
		if len(rows) < iteratePageSize {
			return nil
		}
		last := rows[len(rows)-1]
		lastTime, lastID = last.CreateTime, last.ID
	}
}

// ExistsResult reports whether url has a result in sessionID.
func (s *SQL) ExistsResult(ctx context.Context, sessionID, url string) (bool, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, s.q(`
	SELECT COUNT(1) FROM access_results WHERE session_id = ? AND url = ?`), sessionID, url)
	if err != nil {
		return false, fmt.Errorf("failed to check result: %w", err)
	}
	return n > 0, nil
}
