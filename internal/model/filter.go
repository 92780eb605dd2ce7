package model

import "time"

// Direction says whether a filter pattern includes or excludes URLs.
type Direction int

const (
	// Include patterns admit URLs. An empty include set admits everything.
	Include Direction = iota
	// Exclude patterns reject URLs and take precedence over Include.
	Exclude
)

// String returns "INCLUDE" or "EXCLUDE".
func (d Direction) String() string {
	if d == Exclude {
		return "EXCLUDE"
	}
	return "INCLUDE"
}

// FilterPattern is a persisted URL filter regex scoped to a session.
type FilterPattern struct {
	SessionID  string    `json:"session_id"`
	Direction  Direction `json:"direction"`
	Regex      string    `json:"regex"`
	CreateTime time.Time `json:"create_time"`
}
