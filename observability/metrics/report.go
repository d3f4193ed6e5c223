package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type ReportMetrics struct {
	exportRuns      *prometheus.CounterVec
	exportRows      *prometheus.CounterVec
	exportDuration  *prometheus.HistogramVec
	webhookFailures *prometheus.CounterVec
	anomaliesFound  *prometheus.CounterVec
	lastRun         prometheus.Gauge
}

var (
	reportOnce     sync.Once
	reportRegistry *ReportMetrics
)

func Report() *ReportMetrics {
	reportOnce.Do(func() {
		reportRegistry = &ReportMetrics{
			exportRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "report_export_runs_total",
				Help: "Count of report export runs by output format and outcome.",
			}, []string{"format", "outcome"}),
			exportRows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "report_export_rows_total",
				Help: "Total rows written to report exports by output format.",
			}, []string{"format"}),
			exportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "report_export_duration_seconds",
				Help:    "Latency distribution for report export runs.",
				Buckets: prometheus.DefBuckets,
			}, []string{"format"}),
			webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "report_webhook_failures_total",
				Help: "Number of failed webhook delivery attempts by destination.",
			}, []string{"destination"}),
			anomaliesFound: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "report_anomalies_total",
				Help: "Count of anomalies flagged during report runs by kind.",
			}, []string{"kind"}),
			lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "report_last_run_timestamp_seconds",
				Help: "Unix timestamp of the most recent completed report run.",
			}),
		}
		prometheus.MustRegister(
			reportRegistry.exportRuns,
			reportRegistry.exportRows,
			reportRegistry.exportDuration,
			reportRegistry.webhookFailures,
			reportRegistry.anomaliesFound,
			reportRegistry.lastRun,
		)
	})
	return reportRegistry
}

func (m *ReportMetrics) ObserveExport(format string, rows int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if format == "" {
		format = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.exportRuns.WithLabelValues(format, outcome).Inc()
	if err == nil && rows > 0 {
		m.exportRows.WithLabelValues(format).Add(float64(rows))
	}
	m.exportDuration.WithLabelValues(format).Observe(duration.Seconds())
}

func (m *ReportMetrics) IncWebhookFailure(destination string) {
	if m == nil {
		return
	}
	if destination == "" {
		destination = "unknown"
	}
	m.webhookFailures.WithLabelValues(destination).Inc()
}

func (m *ReportMetrics) ObserveAnomaly(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.anomaliesFound.WithLabelValues(kind).Inc()
}

func (m *ReportMetrics) SetLastRun(completed time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(completed.Unix()))
}

func (m *ReportMetrics) InitExportFormat(format string) {
	if m == nil {
		return
	}
	if format == "" {
		format = "unknown"
	}
	m.exportRuns.WithLabelValues(format, "success").Add(0)
	m.exportRuns.WithLabelValues(format, "failure").Add(0)
	m.exportRows.WithLabelValues(format).Add(0)
}

func (m *ReportMetrics) InitWebhookDestination(destination string) {
	if m == nil {
		return
	}
	if destination == "" {
		destination = "unknown"
	}
	m.webhookFailures.WithLabelValues(destination).Add(0)
}
