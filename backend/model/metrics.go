package model

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type modelMetricsProvider struct {
	calls  *prometheus.HistogramVec
	tokens *prometheus.CounterVec
}

func newModelMetricsProvider(registry *prometheus.Registry) *modelMetricsProvider {
	if registry == nil {
		return nil
	}

	provider := &modelMetricsProvider{
		calls: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "model_invocation_duration_seconds",
				Help:    "Duration of model invocations by model and outcome",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"model", "outcome"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "model_tokens_total",
				Help: "Total number of tokens consumed by model and direction",
			},
			[]string{"model", "direction"},
		),
	}

	registry.MustRegister(provider.calls, provider.tokens)
	return provider
}

func (p *modelMetricsProvider) ObserveCall(model, outcome string, duration time.Duration) {
	if p != nil {
		p.calls.WithLabelValues(model, outcome).Observe(duration.Seconds())
	}
}

func (p *modelMetricsProvider) AddTokens(model string, usage Usage) {
	if p == nil {
		return
	}
	p.tokens.WithLabelValues(model, "input").Add(float64(usage.InputTokens))
	p.tokens.WithLabelValues(model, "output").Add(float64(usage.OutputTokens))
	p.tokens.WithLabelValues(model, "cache_write").Add(float64(usage.CacheWriteTokens))
	p.tokens.WithLabelValues(model, "cache_read").Add(float64(usage.CacheReadTokens))
}
