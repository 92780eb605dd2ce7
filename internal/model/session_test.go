package model

import (
	"testing"
	"time"
)

// TestSessionStatusString tests the String method of SessionStatus.
func TestSessionStatusString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		status   SessionStatus
		expected string
	}{
		{SessionReady, "READY"},
		{SessionRunning, "RUNNING"},
		{SessionDone, "DONE"},
		{SessionAborted, "ABORTED"},
		{SessionStatus(42), "UNKNOWN"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			t.Parallel()
			if tc.status.String() != tc.expected {
				t.Errorf("got %q, expected %q", tc.status.String(), tc.expected)
			}
			if tc.expected != "UNKNOWN" && ParseSessionStatus(tc.expected) != tc.status {
				t.Errorf("ParseSessionStatus(%q) did not round trip", tc.expected)
			}
		})
	}
}

// TestSessionStatusCanTransition tests the session state machine.
func TestSessionStatusCanTransition(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		from, to SessionStatus
		expected bool
	}{
		{"ready to running", SessionReady, SessionRunning, true},
		{"ready to done", SessionReady, SessionDone, false},
		{"running to done", SessionRunning, SessionDone, true},
		{"running to aborted", SessionRunning, SessionAborted, true},
		{"running to ready", SessionRunning, SessionReady, false},
		{"done to running", SessionDone, SessionRunning, false},
		{"aborted to done", SessionAborted, SessionDone, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.from.CanTransition(tc.to); got != tc.expected {
				t.Errorf("got %v, expected %v", got, tc.expected)
			}
		})
	}
}

// TestCrawlSessionDuration verifies duration is zero until the session ends.
func TestCrawlSessionDuration(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &CrawlSession{StartTime: start}
	if s.Duration() != 0 {
		t.Errorf("expected zero duration, got %v", s.Duration())
	}

	s.EndTime = start.Add(90 * time.Second)
	if s.Duration() != 90*time.Second {
		t.Errorf("expected 90s, got %v", s.Duration())
	}
}
