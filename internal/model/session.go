package model

import (
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a crawl session.
// The only legal transitions are READY to RUNNING and RUNNING to either
// DONE or ABORTED.
type SessionStatus int

const (
	// SessionReady is a configured session that has not started.
	SessionReady SessionStatus = iota
	// SessionRunning is a session with live workers.
	SessionRunning
	// SessionDone is a session whose workers all exited normally.
	SessionDone
	// SessionAborted is a session that was stopped or hit a fatal error.
	SessionAborted
)

// String returns the upper-case name of the status.
func (s SessionStatus) String() string {
	switch s {
	case SessionReady:
		return "READY"
	case SessionRunning:
		return "RUNNING"
	case SessionDone:
		return "DONE"
	case SessionAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// ParseSessionStatus is the inverse of SessionStatus.String.
// Unknown names map to SessionReady.
func ParseSessionStatus(s string) SessionStatus {
	switch strings.ToUpper(s) {
	case "RUNNING":
		return SessionRunning
	case "DONE":
		return SessionDone
	case "ABORTED":
		return SessionAborted
	default:
		return SessionReady
	}
}

// MarshalText encodes the status by name.
func (s SessionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *SessionStatus) UnmarshalText(text []byte) error {
	*s = ParseSessionStatus(string(text))
	return nil
}

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionDone || s == SessionAborted
}

// CanTransition reports whether moving from s to next is legal.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case SessionReady:
		return next == SessionRunning
	case SessionRunning:
		return next == SessionDone || next == SessionAborted
	default:
		return false
	}
}

// UnlimitedDepth disables the depth limit of a session.
const UnlimitedDepth = -1

// CrawlSession describes one crawl: its limits, counters and status.
type CrawlSession struct {
	// SessionID uniquely identifies the session.
	SessionID string `json:"session_id"`

	// Status is the lifecycle state.
	Status SessionStatus `json:"status"`

	// MaxAccessCount bounds the number of stored results. Zero means
	// unlimited.
	MaxAccessCount int64 `json:"max_access_count"`

	// MaxDepth bounds entry depth. UnlimitedDepth disables the check.
	MaxDepth int `json:"max_depth"`

	// NumOfThreads is the worker count.
	NumOfThreads int `json:"num_of_threads"`

	// MaxThreadCheckCount is how many consecutive empty polls a worker
	// tolerates before exiting.
	MaxThreadCheckCount int `json:"max_thread_check_count"`

	// AccessCount is the number of results stored so far.
	AccessCount int64 `json:"access_count"`

	// Background reports whether Execute returned before termination.
	Background bool `json:"background"`

	// StartTime is when the session entered RUNNING.
	StartTime time.Time `json:"start_time"`

	// EndTime is when the session reached a terminal status.
	EndTime time.Time `json:"end_time"`
}

// Duration returns how long the session ran. Zero while it has not ended.
func (s *CrawlSession) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}
