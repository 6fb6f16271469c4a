package sandbox

import "github.com/prometheus/client_golang/prometheus"

type sandboxMetricsProvider struct {
	executions   *prometheus.CounterVec
	duration     prometheus.Histogram
	bindingCalls *prometheus.CounterVec
}

func newSandboxMetricsProvider(registry *prometheus.Registry) *sandboxMetricsProvider {
	if registry == nil {
		return nil
	}

	provider := &sandboxMetricsProvider{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_executions_total",
				Help: "Total number of script executions by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sandbox_execution_duration_seconds",
				Help:    "Wall-clock duration of script executions",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
			},
		),
		bindingCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_binding_calls_total",
				Help: "Total number of host binding calls by binding and outcome",
			},
			[]string{"binding", "outcome"},
		),
	}

	registry.MustRegister(
		provider.executions,
		provider.duration,
		provider.bindingCalls,
	)

	return provider
}

func (p *sandboxMetricsProvider) ObserveExecution(outcome string, seconds float64) {
	if p == nil {
		return
	}
	p.executions.WithLabelValues(outcome).Inc()
	p.duration.Observe(seconds)
}

func (p *sandboxMetricsProvider) IncrementBindingCall(binding, outcome string) {
	if p != nil && p.bindingCalls != nil {
		p.bindingCalls.WithLabelValues(binding, outcome).Inc()
	}
}
