// Package metrics exposes Prometheus collectors for the crawler.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace of every crawler metric.
	Namespace = "crawlkit"

	// Subsystem is the subsystem of every crawler metric.
	Subsystem = "crawler"
)

// Metrics holds the crawler's collectors.
type Metrics struct {
	FetchesTotal       *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
	ResultsStored      *prometheus.CounterVec
	FrontierEnqueued   prometheus.Counter
	FrontierDequeued   prometheus.Counter
	WorkersBusy        prometheus.Gauge
	SessionsRunning    prometheus.Gauge
	SessionsTerminated *prometheus.CounterVec
}

// New creates and registers the collectors on reg, or on the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "fetches_total",
				Help:      "Total number of fetches by scheme and outcome",
			},
			[]string{"scheme", "outcome"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of protocol fetches in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"scheme"},
		),
		ResultsStored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "results_stored_total",
				Help:      "Total number of stored fetch results by status",
			},
			[]string{"status"},
		),
		FrontierEnqueued: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "frontier_enqueued_total",
				Help:      "Total number of entries accepted by the frontier",
			},
		),
		FrontierDequeued: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "frontier_dequeued_total",
				Help:      "Total number of entries polled from the frontier",
			},
		),
		WorkersBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "workers_busy",
				Help:      "Number of workers currently processing an entry",
			},
		),
		SessionsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "sessions_running",
				Help:      "Number of sessions currently running",
			},
		),
		SessionsTerminated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: Subsystem,
				Name:      "sessions_terminated_total",
				Help:      "Total number of sessions that reached a terminal status",
			},
			[]string{"status"},
		),
	}
}

// Fetched records one fetch.
func (m *Metrics) Fetched(scheme, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(scheme, outcome).Inc()
	m.FetchDuration.WithLabelValues(scheme).Observe(d.Seconds())
}

// Stored records one stored result.
func (m *Metrics) Stored(status string) {
	if m == nil {
		return
	}
	m.ResultsStored.WithLabelValues(status).Inc()
}

// Enqueued records n accepted frontier entries.
func (m *Metrics) Enqueued(n int) {
	if m == nil {
		return
	}
	m.FrontierEnqueued.Add(float64(n))
}

// Dequeued records one polled frontier entry.
func (m *Metrics) Dequeued() {
	if m == nil {
		return
	}
	m.FrontierDequeued.Inc()
}

// WorkerBusy adjusts the busy worker gauge by delta.
func (m *Metrics) WorkerBusy(delta int) {
	if m == nil {
		return
	}
	m.WorkersBusy.Add(float64(delta))
}

// SessionStarted records a session entering RUNNING.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsRunning.Inc()
}

// SessionEnded records a session reaching status.
func (m *Metrics) SessionEnded(status string) {
	if m == nil {
		return
	}
	m.SessionsRunning.Dec()
	m.SessionsTerminated.WithLabelValues(status).Inc()
}
