package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RunnerMetrics collects Prometheus metrics for the GraphRunner, adapted
// from the teacher's PrometheusMetrics. All metrics are namespaced
// "agentgraph_".
//
//  1. inflight_runs (gauge): runs currently executing.
//  2. step_latency_ms (histogram, run_id/node_id/status): node execution
//     duration.
//  3. retries_total (counter, run_id/node_id/reason): node retry attempts.
//  4. merge_conflicts_total (counter, run_id/conflict_type): ParallelNode
//     merge collisions with no applicable MergePolicy.
//  5. idempotency_hits_total (counter, run_id/node_id): steps served from
//     the IdempotencyStore instead of re-invoking the node.
type RunnerMetrics struct {
	inflightRuns prometheus.Gauge
	stepLatency  *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	merges       *prometheus.CounterVec
	idemHits     *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewRunnerMetrics registers all runner metrics with registry. Pass nil to
// use prometheus.DefaultRegisterer.
func NewRunnerMetrics(registry prometheus.Registerer) *RunnerMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &RunnerMetrics{
		enabled: true,
		inflightRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentgraph",
			Name:      "inflight_runs",
			Help:      "Current number of graph runs executing",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"run_id", "node_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "retries_total",
			Help:      "Cumulative node retry attempts",
		}, []string{"run_id", "node_id", "reason"}),
		merges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "merge_conflicts_total",
			Help:      "ParallelNode merge collisions with no applicable MergePolicy",
		}, []string{"run_id", "conflict_type"}),
		idemHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "idempotency_hits_total",
			Help:      "Steps served from the idempotency store instead of re-invoking the node",
		}, []string{"run_id", "node_id"}),
	}
}

func (m *RunnerMetrics) isEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// RecordStepLatency records a node's execution duration.
func (m *RunnerMetrics) RecordStepLatency(runID, nodeID string, latency time.Duration, status string) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.stepLatency.WithLabelValues(runID, nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries records a node retry.
func (m *RunnerMetrics) IncrementRetries(runID, nodeID, reason string) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.retries.WithLabelValues(runID, nodeID, reason).Inc()
}

// IncrementMergeConflicts records a ParallelNode merge collision.
func (m *RunnerMetrics) IncrementMergeConflicts(runID, conflictType string) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.merges.WithLabelValues(runID, conflictType).Inc()
}

// IncrementIdempotencyHits records a cache-served step.
func (m *RunnerMetrics) IncrementIdempotencyHits(runID, nodeID string) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.idemHits.WithLabelValues(runID, nodeID).Inc()
}

// SetInflightRuns updates the current in-flight run count.
func (m *RunnerMetrics) SetInflightRuns(n int) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.inflightRuns.Set(float64(n))
}

// Disable stops recording (useful for tests sharing a registry).
func (m *RunnerMetrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable resumes recording after Disable.
func (m *RunnerMetrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}
