// Package telemetry provides the Prometheus collectors and OpenTelemetry
// tracer shared by the scheduler and the pipeline.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aristath/agentchain/internal/events"
)

const namespace = "agentchain"

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing, so components can take it as an optional dependency.
type Metrics struct {
	// TasksTotal counts finished tasks.
	// Labels: agent, outcome (completed, failed)
	TasksTotal *prometheus.CounterVec

	// TaskDuration tracks agent call latency per task.
	// Labels: agent
	TaskDuration *prometheus.HistogramVec

	// ProtocolsTotal counts finished protocols.
	// Labels: status (completed, failed)
	ProtocolsTotal *prometheus.CounterVec

	// PhaseDuration tracks pillar phase latency.
	// Labels: phase
	PhaseDuration *prometheus.HistogramVec

	// PillarsTotal counts finished pillar runs.
	// Labels: status (published, vetoed, failed)
	PillarsTotal *prometheus.CounterVec

	// VetoesTotal counts gate vetoes.
	// Labels: phase
	VetoesTotal *prometheus.CounterVec

	// RefineIterations tracks how many executions a refinement needed.
	RefineIterations prometheus.Histogram

	// BroadcastsTotal counts bus broadcasts.
	// Labels: type
	BroadcastsTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TasksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tasks_total",
				Help:      "Total number of finished tasks by outcome",
			},
			[]string{"agent", "outcome"},
		),
		TaskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "task_duration_seconds",
				Help:      "Duration of agent calls made for tasks in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"agent"},
		),
		ProtocolsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "protocols_total",
				Help:      "Total number of finished protocols by status",
			},
			[]string{"status"},
		),
		PhaseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "phase_duration_seconds",
				Help:      "Duration of pillar run phases in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"phase"},
		),
		PillarsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Total number of finished pillar runs by status",
			},
			[]string{"status"},
		),
		VetoesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "vetoes_total",
				Help:      "Total number of gate vetoes by phase",
			},
			[]string{"phase"},
		),
		RefineIterations: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "refine",
				Name:      "iterations",
				Help:      "Agent executions per refinement",
				Buckets:   prometheus.LinearBuckets(1, 1, 10),
			},
		),
		BroadcastsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "broadcasts_total",
				Help:      "Total number of events broadcast by type",
			},
			[]string{"type"},
		),
	}
}

func (m *Metrics) ObserveTask(agentID, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(agentID, outcome).Inc()
	m.TaskDuration.WithLabelValues(agentID).Observe(d.Seconds())
}

func (m *Metrics) ObserveProtocol(status string) {
	if m == nil {
		return
	}
	m.ProtocolsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) ObservePillar(status string) {
	if m == nil {
		return
	}
	m.PillarsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveVeto(phase string) {
	if m == nil {
		return
	}
	m.VetoesTotal.WithLabelValues(phase).Inc()
}

func (m *Metrics) ObserveRefine(iterations int) {
	if m == nil {
		return
	}
	m.RefineIterations.Observe(float64(iterations))
}

// Instrument wraps b so every broadcast is counted by event type.
func (m *Metrics) Instrument(b events.Broadcaster) events.Broadcaster {
	if m == nil {
		return b
	}
	return countingBroadcaster{next: b, counter: m.BroadcastsTotal}
}

type countingBroadcaster struct {
	next    events.Broadcaster
	counter *prometheus.CounterVec
}

func (c countingBroadcaster) Broadcast(e events.Event) int {
	c.counter.WithLabelValues(e.EventType()).Inc()
	return c.next.Broadcast(e)
}
