package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestNilMetricsIsNoop verifies that a nil recorder can be used freely.
func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Fetched("http", "fetched", time.Second)
	m.Stored("OK")
	m.Enqueued(3)
	m.Dequeued()
	m.WorkerBusy(1)
	m.SessionStarted()
	m.SessionEnded("DONE")
}

// TestMetricsRecord verifies that recorded values reach the collectors.
func TestMetricsRecord(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Fetched("http", "fetched", 10*time.Millisecond)
	m.Fetched("http", "fetched", 20*time.Millisecond)
	m.Fetched("file", "expand", time.Millisecond)
	m.Enqueued(5)
	m.Dequeued()
	m.SessionStarted()
	m.SessionEnded("DONE")

	if got := testutil.ToFloat64(m.FetchesTotal.WithLabelValues("http", "fetched")); got != 2 {
		t.Errorf("expected 2 http fetches, got %v", got)
	}
	if got := testutil.ToFloat64(m.FrontierEnqueued); got != 5 {
		t.Errorf("expected 5 enqueued, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsRunning); got != 0 {
		t.Errorf("expected no running sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsTerminated.WithLabelValues("DONE")); got != 1 {
		t.Errorf("expected 1 DONE session, got %v", got)
	}
}
