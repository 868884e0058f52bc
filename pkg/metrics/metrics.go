// Package metrics exposes the marketplace's Prometheus collectors:
// fair queue depth per tenant, external agent circuit-breaker state,
// job counts by terminal status, and provenance log append counts
// (SPEC_FULL.md's domain-stack wiring of prometheus/client_golang).
//
// Grounded on internal/escrow/metrics.go's Metrics struct: a single
// promauto-registered collector set with one Record/Set method per
// concern, constructed once at startup and threaded wherever the event
// it measures occurs. There is no single teacher file doing this (the
// teacher carries no metrics package), so the shape is adopted wholesale
// from that pack example rather than grounded on anything in
// codeready-toolchain-tarsy itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agentmkt/marketplace/pkg/fairqueue"
	"github.com/agentmkt/marketplace/pkg/jobstore"
)

// Metrics holds every Prometheus collector the marketplace publishes.
type Metrics struct {
	QueueDepth         *prometheus.GaugeVec
	QueueOldestPending *prometheus.GaugeVec
	QueueActiveRuns    *prometheus.GaugeVec

	CircuitOpen *prometheus.GaugeVec

	JobsTotal *prometheus.CounterVec

	ProvenanceAppends *prometheus.CounterVec
}

// New creates and registers every collector against reg. Passing nil
// creates the collectors without registering them anywhere, as
// promauto.With(nil) does.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketplace_queue_depth",
			Help: "Current number of pending jobs per tenant in the fair queue.",
		}, []string{"tenant_id"}),

		QueueOldestPending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketplace_queue_oldest_pending_seconds",
			Help: "Age in seconds of the oldest pending item per tenant.",
		}, []string{"tenant_id"}),

		QueueActiveRuns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketplace_queue_active_runs",
			Help: "Current number of in-flight (dequeued, not yet released) runs per tenant.",
		}, []string{"tenant_id"}),

		CircuitOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketplace_agent_circuit_open",
			Help: "1 if the external agent's circuit breaker is open (dispatch blocked), 0 otherwise.",
		}, []string{"agent_id"}),

		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_jobs_total",
			Help: "Total number of jobs reaching a terminal status, by status.",
		}, []string{"status"}),

		ProvenanceAppends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_provenance_appends_total",
			Help: "Total number of provenance log entries appended, by kind.",
		}, []string{"kind"}),
	}
}

// ObserveQueueStats mirrors fairqueue.Queue.Stats() into the queue
// gauges. Intended to be called periodically (e.g. on a short ticker)
// rather than per-enqueue, since Stats() walks every tenant's bands.
func (m *Metrics) ObserveQueueStats(stats []fairqueue.TenantStats) {
	for _, s := range stats {
		m.QueueDepth.WithLabelValues(s.TenantID).Set(float64(s.Pending))
		m.QueueOldestPending.WithLabelValues(s.TenantID).Set(s.OldestPendingAge.Seconds())
		m.QueueActiveRuns.WithLabelValues(s.TenantID).Set(float64(s.ActiveRuns))
	}
}

// ObserveCircuitState is wired into externalagent.Registry's
// SetCircuitObserver so every breaker transition updates the gauge
// without the registry importing this package.
func (m *Metrics) ObserveCircuitState(agentID string, open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	m.CircuitOpen.WithLabelValues(agentID).Set(value)
}

// RecordJobTerminal increments the job-count counter for status. Call
// once per job reaching a terminal state.
func (m *Metrics) RecordJobTerminal(status jobstore.Status) {
	m.JobsTotal.WithLabelValues(string(status)).Inc()
}

// RecordProvenanceAppend increments the provenance append counter for
// kind ("llm_call", "tool_call", or "error").
func (m *Metrics) RecordProvenanceAppend(kind string) {
	m.ProvenanceAppends.WithLabelValues(kind).Inc()
}
