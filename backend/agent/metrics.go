package agent

import "github.com/prometheus/client_golang/prometheus"

type agentMetricsProvider struct {
	created       *prometheus.CounterVec
	terminated    *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	eventsDropped *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	activeWorkers prometheus.Gauge
}

func newAgentMetricsProvider(registry *prometheus.Registry) *agentMetricsProvider {
	if registry == nil {
		return nil
	}

	provider := &agentMetricsProvider{
		created: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agents_created_total",
				Help: "Total number of agents created by agent kind",
			},
			[]string{"kind"},
		),
		terminated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agents_terminated_total",
				Help: "Total number of agents that reached a terminal status",
			},
			[]string{"kind", "status"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tool_calls_total",
				Help: "Total number of tool calls by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_tool_call_duration_seconds",
				Help:    "Duration of tool calls by tool",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"tool"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_events_dropped_total",
				Help: "Total number of outbound agent events dropped because nobody drained them",
			},
			[]string{"event_kind"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_creation_rejected_total",
				Help: "Total number of refused agent creation requests by reason",
			},
			[]string{"reason"},
		),
		activeWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_active_workers",
				Help: "Number of workers holding a worker slot",
			},
		),
	}

	registry.MustRegister(
		provider.created,
		provider.terminated,
		provider.toolCalls,
		provider.toolDuration,
		provider.eventsDropped,
		provider.rejected,
		provider.activeWorkers,
	)

	return provider
}

func (p *agentMetricsProvider) IncrementCreated(kind string) {
	if p != nil {
		p.created.WithLabelValues(kind).Inc()
	}
}

func (p *agentMetricsProvider) IncrementTerminated(kind, status string) {
	if p != nil {
		p.terminated.WithLabelValues(kind, status).Inc()
	}
}

func (p *agentMetricsProvider) ObserveToolCall(tool, outcome string, seconds float64) {
	if p == nil {
		return
	}
	p.toolCalls.WithLabelValues(tool, outcome).Inc()
	p.toolDuration.WithLabelValues(tool).Observe(seconds)
}

func (p *agentMetricsProvider) IncrementEventsDropped(kind string) {
	if p != nil {
		p.eventsDropped.WithLabelValues(kind).Inc()
	}
}

func (p *agentMetricsProvider) IncrementRejected(reason string) {
	if p != nil {
		p.rejected.WithLabelValues(reason).Inc()
	}
}

func (p *agentMetricsProvider) SetActiveWorkers(count int) {
	if p != nil {
		p.activeWorkers.Set(float64(count))
	}
}
