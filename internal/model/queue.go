package model

import (
	"strings"
	"time"
)

// Method is the request method used to fetch a queue entry.
type Method string

const (
	// MethodGet fetches the resource including its body.
	MethodGet Method = "GET"
	// MethodHead fetches metadata only.
	MethodHead Method = "HEAD"
	// MethodPost submits the entry's metadata as a form body.
	MethodPost Method = "POST"
)

// ParseMethod returns the Method for s, defaulting to MethodGet.
func ParseMethod(s string) Method {
	switch Method(strings.ToUpper(strings.TrimSpace(s))) {
	case MethodHead:
		return MethodHead
	case MethodPost:
		return MethodPost
	default:
		return MethodGet
	}
}

// QueueEntry is one unit of pending work in a session's frontier.
// Entries are identified within a session by their (URL, Metadata) pair;
// see Key.
type QueueEntry struct {
	// ID is the store-assigned identifier. Zero for entries that only
	// exist in memory.
	ID int64 `json:"id,omitempty"`

	// SessionID is the crawl session this entry belongs to.
	SessionID string `json:"session_id"`

	// URL is the resource to fetch.
	URL string `json:"url"`

	// ParentURL is the URL whose fetch produced this entry.
	// Empty for seeds.
	ParentURL string `json:"parent_url,omitempty"`

	// Depth is the link distance from the seed. Seeds have depth 0.
	Depth int `json:"depth"`

	// Method is the request method.
	Method Method `json:"method"`

	// Weight is carried for callers that want to rank entries.
	// The frontier itself is FIFO and ignores it.
	Weight float64 `json:"weight"`

	// CreateTime is when the entry was created.
	CreateTime time.Time `json:"create_time"`

	// Metadata is an opaque string that distinguishes entries sharing a URL
	// (a POST body, for example).
	Metadata string `json:"metadata,omitempty"`
}

// NewQueueEntry returns a depth-0 GET entry for url.
func NewQueueEntry(sessionID, url string) *QueueEntry {
	return &QueueEntry{
		SessionID:  sessionID,
		URL:        url,
		Method:     MethodGet,
		Weight:     1,
		CreateTime: time.Now(),
	}
}

// Key returns the dedup identity of the entry within its session.
func (e *QueueEntry) Key() string {
	return e.URL + "\n" + e.Metadata
}

// Child returns a GET entry for url one level deeper than e.
func (e *QueueEntry) Child(url string) *QueueEntry {
	return &QueueEntry{
		SessionID:  e.SessionID,
		URL:        url,
		ParentURL:  e.URL,
		Depth:      e.Depth + 1,
		Method:     MethodGet,
		Weight:     1,
		CreateTime: time.Now(),
	}
}

// Clone returns a copy of e.
func (e *QueueEntry) Clone() *QueueEntry {
	c := *e
	return &c
}
