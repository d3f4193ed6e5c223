package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	published   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	subscribers prometheus.Gauge
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking the domain event stream.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of events published to the stream segmented by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "events",
				Name:      "dropped_deliveries_total",
				Help:      "Count of event deliveries dropped because a subscriber fell behind.",
			}, []string{"type"}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "launchpad",
				Subsystem: "events",
				Name:      "subscribers",
				Help:      "Number of live event stream subscribers.",
			}),
		}
		prometheus.MustRegister(
			eventRegistry.published,
			eventRegistry.dropped,
			eventRegistry.subscribers,
		)
	})
	return eventRegistry
}

// RecordPublished increments the published counter for the supplied event type.
func (m *eventMetrics) RecordPublished(eventType string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(labelEventType(eventType)).Inc()
}

// RecordDropped increments the dropped-delivery counter for the supplied type.
func (m *eventMetrics) RecordDropped(eventType string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(labelEventType(eventType)).Inc()
}

// SetSubscribers records the current number of live subscribers.
func (m *eventMetrics) SetSubscribers(count int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(count))
}

func labelEventType(eventType string) string {
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	return normalized
}
