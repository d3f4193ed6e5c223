package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type IndexMetrics struct {
	eventsIndexed  *prometheus.CounterVec
	feedReconnects prometheus.Counter
	feedCursor     prometheus.Gauge
}

var (
	indexOnce     sync.Once
	indexRegistry *IndexMetrics
)

func Index() *IndexMetrics {
	indexOnce.Do(func() {
		indexRegistry = &IndexMetrics{
			eventsIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "index_events_total",
				Help: "Count of feed events materialised into the index by type.",
			}, []string{"type"}),
			feedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "index_feed_reconnects_total",
				Help: "Number of times the event feed connection was re-established.",
			}),
			feedCursor: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "index_feed_cursor",
				Help: "Highest feed sequence applied to the index.",
			}),
		}
		prometheus.MustRegister(
			indexRegistry.eventsIndexed,
			indexRegistry.feedReconnects,
			indexRegistry.feedCursor,
		)
	})
	return indexRegistry
}

func (m *IndexMetrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.eventsIndexed.WithLabelValues(eventType).Inc()
}

func (m *IndexMetrics) IncReconnect() {
	if m == nil {
		return
	}
	m.feedReconnects.Inc()
}

func (m *IndexMetrics) SetCursor(sequence uint64) {
	if m == nil {
		return
	}
	m.feedCursor.Set(float64(sequence))
}
