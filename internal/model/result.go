package model

import "time"

// ResultStatus is the outcome recorded for a fetched URL.
type ResultStatus int

const (
	// StatusOK means the resource was fetched and transformed.
	StatusOK ResultStatus = iota
	// StatusFailed means the fetch or the transform failed for this URL.
	// The session continues.
	StatusFailed
)

// String returns "OK" or "FAILED".
func (s ResultStatus) String() string {
	if s == StatusFailed {
		return "FAILED"
	}
	return "OK"
}

// FetchResult is the persisted outcome of fetching one queue entry.
// Results are immutable once written except through an explicit re-crawl
// update.
type FetchResult struct {
	ID            int64             `json:"id,omitempty"`
	SessionID     string            `json:"session_id"`
	URL           string            `json:"url"`
	ParentURL     string            `json:"parent_url,omitempty"`
	Depth         int               `json:"depth"`
	Method        Method            `json:"method"`
	RuleID        string            `json:"rule_id,omitempty"`
	HTTPStatus    int               `json:"http_status,omitempty"`
	MimeType      string            `json:"mime_type,omitempty"`
	ContentLength int64             `json:"content_length"`
	ExecutionTime int64             `json:"execution_time_ms"`
	LastModified  time.Time         `json:"last_modified,omitzero"`
	CreateTime    time.Time         `json:"create_time"`
	Status        ResultStatus      `json:"status"`
	ErrorKind     string            `json:"error_kind,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	Data          []byte            `json:"-"`
	Encoding      string            `json:"encoding,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// NewFetchResult returns a result pre-filled from entry.
func NewFetchResult(entry *QueueEntry) *FetchResult {
	return &FetchResult{
		SessionID:  entry.SessionID,
		URL:        entry.URL,
		ParentURL:  entry.ParentURL,
		Depth:      entry.Depth,
		Method:     entry.Method,
		CreateTime: time.Now(),
	}
}

// Failed reports whether the result records a per-URL failure.
func (r *FetchResult) Failed() bool {
	return r.Status == StatusFailed
}
