// Package metrics exposes the pipeline's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jzx17/triageflow/pkg/types"
)

const namespace = "triageflow"

// Metrics holds all Prometheus collectors for one orchestrator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// Stage throughput
	ItemsProduced   *prometheus.CounterVec
	ItemsClassified *prometheus.CounterVec
	ItemsDispatched *prometheus.CounterVec
	ItemsUnroutable prometheus.Counter

	// Sink
	LinesWritten  prometheus.Counter
	WriteFailures prometheus.Counter
	OpenRetries   prometheus.Counter

	// Lifecycle
	ShutdownAnomalies *prometheus.CounterVec
	BufferDepth       prometheus.Gauge
	PendingByOwner    *prometheus.GaugeVec
}

// New creates a collector set registered on its own registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		ItemsProduced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_produced_total",
				Help:      "Total number of work items placed into the intake buffer",
			},
			[]string{"origin"},
		),
		ItemsClassified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_classified_total",
				Help:      "Total number of work items classified, by priority",
			},
			[]string{"priority"},
		),
		ItemsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_dispatched_total",
				Help:      "Total number of result lines handed to the sink, by owner",
			},
			[]string{"owner"},
		),
		ItemsUnroutable: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_unroutable_total",
				Help:      "Total number of work items whose owner has no queue",
			},
		),

		LinesWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_lines_written_total",
				Help:      "Total number of lines appended to the durable log",
			},
		),
		WriteFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_write_failures_total",
				Help:      "Total number of failed durable log operations",
			},
		),
		OpenRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_open_retries_total",
				Help:      "Total number of failed attempts to open the durable log",
			},
		),

		ShutdownAnomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "shutdown_anomalies_total",
				Help:      "Total number of stages that timed out or failed during shutdown",
			},
			[]string{"stage", "kind"},
		),
		BufferDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "buffer_depth",
				Help:      "Number of work items waiting in the intake buffer",
			},
		),
		PendingByOwner: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "owner_pending",
				Help:      "Number of classified work items waiting for an owner",
			},
			[]string{"owner"},
		),
	}
}

// RecordProduced counts an item entering the buffer.
func (m *Metrics) RecordProduced(origin string, depth int) {
	if m == nil {
		return
	}
	m.ItemsProduced.WithLabelValues(origin).Inc()
	m.BufferDepth.Set(float64(depth))
}

// RecordClassified counts an item routed to owner with priority p.
func (m *Metrics) RecordClassified(owner string, p types.Priority, depth, pending int) {
	if m == nil {
		return
	}
	m.ItemsClassified.WithLabelValues(p.String()).Inc()
	m.BufferDepth.Set(float64(depth))
	m.PendingByOwner.WithLabelValues(owner).Set(float64(pending))
}

// RecordUnroutable counts an item dropped for lack of an owner queue.
func (m *Metrics) RecordUnroutable() {
	if m == nil {
		return
	}
	m.ItemsUnroutable.Inc()
}

// RecordDispatched counts a result line handed to the sink.
func (m *Metrics) RecordDispatched(owner string, pending int) {
	if m == nil {
		return
	}
	m.ItemsDispatched.WithLabelValues(owner).Inc()
	m.PendingByOwner.WithLabelValues(owner).Set(float64(pending))
}

// RecordWritten counts a line appended to the log.
func (m *Metrics) RecordWritten() {
	if m == nil {
		return
	}
	m.LinesWritten.Inc()
}

// RecordWriteFailure counts a failed open, write or sync.
func (m *Metrics) RecordWriteFailure() {
	if m == nil {
		return
	}
	m.WriteFailures.Inc()
}

// RecordOpenRetry counts a failed open attempt.
func (m *Metrics) RecordOpenRetry() {
	if m == nil {
		return
	}
	m.OpenRetries.Inc()
}

// RecordShutdownAnomaly counts a stage that timed out or failed.
func (m *Metrics) RecordShutdownAnomaly(stage, kind string) {
	if m == nil {
		return
	}
	m.ShutdownAnomalies.WithLabelValues(stage, kind).Inc()
}
