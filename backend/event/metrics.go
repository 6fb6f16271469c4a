package event

import "github.com/prometheus/client_golang/prometheus"

type busMetrics struct {
	published *prometheus.CounterVec
	delivered *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

func newBusMetrics(registry *prometheus.Registry) *busMetrics {
	if registry == nil {
		return nil
	}

	m := &busMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_bus_events_published_total",
			Help: "Agent events published to the bus by kind",
		}, []string{"kind"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_bus_events_delivered_total",
			Help: "Agent events handed to subscribers by kind",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_bus_events_dropped_total",
			Help: "Agent events dropped because the queue or a subscriber channel was full",
		}, []string{"kind"}),
	}

	registry.MustRegister(m.published, m.delivered, m.dropped)
	return m
}

func (m *busMetrics) IncrementPublished(kind Kind) {
	if m != nil {
		m.published.WithLabelValues(string(kind)).Inc()
	}
}

func (m *busMetrics) IncrementDelivered(kind Kind) {
	if m != nil {
		m.delivered.WithLabelValues(string(kind)).Inc()
	}
}

func (m *busMetrics) IncrementDropped(kind Kind) {
	if m != nil {
		m.dropped.WithLabelValues(string(kind)).Inc()
	}
}
