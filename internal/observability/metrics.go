// Package observability provides the daemon's metrics, audit logging,
// and pre-persistence secret masking. It sits beside, not inside,
// internal/store and internal/coordinator so neither needs to import
// prometheus or the masking patterns directly.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the daemon exposes. Every
// method is nil-safe so an unconfigured Metrics (nil pointer) can be
// threaded through call sites unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	agentsSpawned    *prometheus.CounterVec
	agentsTerminated *prometheus.CounterVec
	agentStateGauge  *prometheus.GaugeVec

	eventsDispatched *prometheus.CounterVec
	eventQueueDepth  prometheus.Gauge

	schedulesFired prometheus.Counter

	pipelineStages *prometheus.CounterVec

	llmTokens *prometheus.CounterVec

	costInputTokens  prometheus.Gauge
	costOutputTokens prometheus.Gauge
}

// NewMetrics builds and registers every collector under namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.agentsSpawned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "agent", Name: "spawned_total",
		Help: "Total number of agents spawned, by kind.",
	}, []string{"kind"})

	m.agentsTerminated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "agent", Name: "terminated_total",
		Help: "Total number of agents terminated, by kind and reason.",
	}, []string{"kind", "reason"})

	m.agentStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "agent", Name: "state_count",
		Help: "Current number of agents in each state.",
	}, []string{"state"})

	m.eventsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "eventqueue", Name: "dispatched_total",
		Help: "Total number of webhook events dispatched, by type and outcome.",
	}, []string{"event_type", "outcome"})

	m.eventQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "eventqueue", Name: "pending_depth",
		Help: "Number of webhook events currently pending dispatch.",
	})

	m.schedulesFired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "scheduler", Name: "fires_total",
		Help: "Total number of schedule fires enqueued.",
	})

	m.pipelineStages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "pipeline", Name: "stages_total",
		Help: "Total number of pipeline stages completed, by terminal status.",
	}, []string{"status"})

	m.llmTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "llm", Name: "tokens_total",
		Help: "Total tokens consumed, by direction (input/output).",
	}, []string{"direction"})

	m.costInputTokens = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "cost", Name: "input_tokens_total",
		Help: "Cumulative input tokens across every agent message, refreshed periodically.",
	})
	m.costOutputTokens = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "cost", Name: "output_tokens_total",
		Help: "Cumulative output tokens across every agent message, refreshed periodically.",
	})

	m.registry.MustRegister(
		m.agentsSpawned, m.agentsTerminated, m.agentStateGauge,
		m.eventsDispatched, m.eventQueueDepth, m.schedulesFired,
		m.pipelineStages, m.llmTokens, m.costInputTokens, m.costOutputTokens,
	)
	return m
}

// RecordAgentSpawned records one agent spawn.
func (m *Metrics) RecordAgentSpawned(kind string) {
	if m == nil {
		return
	}
	m.agentsSpawned.WithLabelValues(kind).Inc()
}

// RecordAgentTerminated records one agent termination.
func (m *Metrics) RecordAgentTerminated(kind, reason string) {
	if m == nil {
		return
	}
	m.agentsTerminated.WithLabelValues(kind, reason).Inc()
}

// SetAgentStateCounts overwrites the per-state gauge from a fresh
// store.AgentStateCounts snapshot. Every known label is cleared first,
// so a state absent from counts (no agents in it right now) drops out
// of the scrape instead of keeping its last value.
func (m *Metrics) SetAgentStateCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.agentStateGauge.Reset()
	for state, count := range counts {
		m.agentStateGauge.WithLabelValues(state).Set(float64(count))
	}
}

// RecordEventDispatched records one event-queue dispatch outcome.
func (m *Metrics) RecordEventDispatched(eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(eventType, outcome).Inc()
}

// SetEventQueueDepth sets the current pending-event gauge.
func (m *Metrics) SetEventQueueDepth(n int) {
	if m == nil {
		return
	}
	m.eventQueueDepth.Set(float64(n))
}

// RecordScheduleFired increments the schedule-fire counter.
func (m *Metrics) RecordScheduleFired() {
	if m == nil {
		return
	}
	m.schedulesFired.Inc()
}

// RecordPipelineStage records one stage reaching a terminal status.
func (m *Metrics) RecordPipelineStage(status string) {
	if m == nil {
		return
	}
	m.pipelineStages.WithLabelValues(status).Inc()
}

// RecordLLMTokens records token usage for one turn.
func (m *Metrics) RecordLLMTokens(inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	if inputTokens > 0 {
		m.llmTokens.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokens.WithLabelValues("output").Add(float64(outputTokens))
	}
}

// SetCostTotals sets the cumulative token gauges from a fresh
// store.CostReportTotal snapshot.
func (m *Metrics) SetCostTotals(inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.costInputTokens.Set(float64(inputTokens))
	m.costOutputTokens.Set(float64(outputTokens))
}

// Handler returns the HTTP handler the daemon mounts at /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and for wiring
// additional collectors (e.g. Go runtime stats) at startup.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
