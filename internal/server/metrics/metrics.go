// Package metrics holds the Prometheus collectors for the tree engine, the
// lifecycle reaper and the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reap reasons.
const (
	ReasonExpired        = "expired"
	ReasonBurned         = "burned"
	ReasonSnippetExpired = "snippet_expired"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Reaper
	SweepsTotal   *prometheus.CounterVec
	SweepDuration prometheus.Histogram
	ReapedTotal   *prometheus.CounterVec
	ReapFailures  *prometheus.CounterVec

	// Engine
	NodesDeleted      *prometheus.CounterVec
	StorageFailures   *prometheus.CounterVec
	CycleDefenseTrips prometheus.Counter

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SweepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securelink_reaper_sweeps_total",
				Help: "Total number of reaper sweeps by outcome",
			},
			[]string{"outcome"},
		),
		SweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "securelink_reaper_sweep_duration_seconds",
				Help:    "Duration of reaper sweeps",
				Buckets: prometheus.DefBuckets,
			},
		),
		ReapedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securelink_reaper_reaped_total",
				Help: "Nodes retired by the reaper",
			},
			[]string{"reason"},
		),
		ReapFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securelink_reaper_failures_total",
				Help: "Nodes the reaper failed to retire",
			},
			[]string{"reason"},
		),
		NodesDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securelink_nodes_deleted_total",
				Help: "Node rows removed from the tree",
			},
			[]string{"kind"},
		),
		StorageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securelink_storage_failures_total",
				Help: "Storage backend operations that failed",
			},
			[]string{"operation"},
		),
		CycleDefenseTrips: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "securelink_tree_cycle_detected_total",
				Help: "Tree walks aborted because a node was revisited",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securelink_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "securelink_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordSweep records one completed reaper pass.
func (m *Metrics) RecordSweep(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabelValues(outcome).Inc()
	m.SweepDuration.Observe(seconds)
}

// RecordReap records one node retired (or not) by the reaper.
func (m *Metrics) RecordReap(reason string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ReapFailures.WithLabelValues(reason).Inc()
		return
	}
	m.ReapedTotal.WithLabelValues(reason).Inc()
}

// RecordReapedCount records n items retired at once.
func (m *Metrics) RecordReapedCount(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ReapedTotal.WithLabelValues(reason).Add(float64(n))
}

// RecordNodeDeleted records a removed node row.
func (m *Metrics) RecordNodeDeleted(kind string) {
	if m == nil {
		return
	}
	m.NodesDeleted.WithLabelValues(kind).Inc()
}

// RecordStorageFailure records a failed storage backend call.
func (m *Metrics) RecordStorageFailure(operation string) {
	if m == nil {
		return
	}
	m.StorageFailures.WithLabelValues(operation).Inc()
}

// RecordCycle records an aborted tree walk.
func (m *Metrics) RecordCycle() {
	if m == nil {
		return
	}
	m.CycleDefenseTrips.Inc()
}

// RecordRequest records one served HTTP request.
func (m *Metrics) RecordRequest(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(seconds)
}
