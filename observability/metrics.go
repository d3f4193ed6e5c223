package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	saleMetricsOnce sync.Once
	saleRegistry    *SaleMetrics

	referralMetricsOnce sync.Once
	referralRegistry    *ReferralMetrics

	marketMetricsOnce sync.Once
	marketRegistry    *MarketMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "launchpad",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// SaleMetrics bundles collectors tracking purchase flow health.
type SaleMetrics struct {
	purchases    *prometheus.CounterVec
	stableRaised prometheus.Counter
	latency      *prometheus.HistogramVec
	refunds      *prometheus.CounterVec
}

// Sale exposes the metrics registry for the sale engine.
func Sale() *SaleMetrics {
	saleMetricsOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "sale",
				Name:      "purchases_total",
				Help:      "Count of purchase attempts segmented by payment asset and outcome.",
			}, []string{"asset", "outcome"}),
			stableRaised: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "sale",
				Name:      "stable_raised_total",
				Help:      "Cumulative stable units recorded against sale stages.",
			}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "launchpad",
				Subsystem: "sale",
				Name:      "purchase_duration_seconds",
				Help:      "Latency distribution for end-to-end purchase processing.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"asset"}),
			refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "sale",
				Name:      "refunds_total",
				Help:      "Count of compensating refunds issued after a failed ledger write.",
			}, []string{"asset", "reason"}),
		}
		prometheus.MustRegister(
			saleRegistry.purchases,
			saleRegistry.stableRaised,
			saleRegistry.latency,
			saleRegistry.refunds,
		)
	})
	return saleRegistry
}

// ObservePurchase records the outcome and latency of a purchase attempt.
func (m *SaleMetrics) ObservePurchase(asset string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	label := labelAsset(asset)
	m.purchases.WithLabelValues(label, outcome).Inc()
	m.latency.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordRaised adds the stable units credited by a successful purchase.
func (m *SaleMetrics) RecordRaised(amount *big.Int) {
	if m == nil {
		return
	}
	value := bigToFloat(amount)
	if value <= 0 {
		return
	}
	m.stableRaised.Add(value)
}

// RecordRefund increments the compensating refund counter.
func (m *SaleMetrics) RecordRefund(asset, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.refunds.WithLabelValues(labelAsset(asset), reason).Inc()
}

// ReferralMetrics bundles collectors for reward accrual and claims.
type ReferralMetrics struct {
	credited *prometheus.CounterVec
	claimed  prometheus.Counter
	restores prometheus.Counter
}

// Referral exposes the metrics registry for the referral engine.
func Referral() *ReferralMetrics {
	referralMetricsOnce.Do(func() {
		referralRegistry = &ReferralMetrics{
			credited: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "referral",
				Name:      "rewards_credited_total",
				Help:      "Cumulative stable units credited to referrers segmented by level.",
			}, []string{"level"}),
			claimed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "referral",
				Name:      "rewards_claimed_total",
				Help:      "Cumulative stable units paid out through claims.",
			}),
			restores: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "referral",
				Name:      "claim_restores_total",
				Help:      "Count of claims rolled back after a failed payout transfer.",
			}),
		}
		prometheus.MustRegister(
			referralRegistry.credited,
			referralRegistry.claimed,
			referralRegistry.restores,
		)
	})
	return referralRegistry
}

// RecordCredit adds the reward earned at the supplied referral level.
func (m *ReferralMetrics) RecordCredit(level uint8, earned *big.Int) {
	if m == nil {
		return
	}
	value := bigToFloat(earned)
	if value <= 0 {
		return
	}
	m.credited.WithLabelValues(fmt.Sprintf("%d", level)).Add(value)
}

// RecordClaim adds the stable units released by a successful claim.
func (m *ReferralMetrics) RecordClaim(amount *big.Int) {
	if m == nil {
		return
	}
	value := bigToFloat(amount)
	if value <= 0 {
		return
	}
	m.claimed.Add(value)
}

// RecordRestore increments the counter of claims unwound after payout failure.
func (m *ReferralMetrics) RecordRestore() {
	if m == nil {
		return
	}
	m.restores.Inc()
}

// MarketMetrics bundles collectors for venue selection and conversions.
type MarketMetrics struct {
	routes   *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// Market exposes the metrics registry for the conversion engine.
func Market() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			routes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "market",
				Name:      "routes_selected_total",
				Help:      "Count of conversion routes selected segmented by fee tier.",
			}, []string{"fee_tier"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "market",
				Name:      "conversion_failures_total",
				Help:      "Count of failed conversions segmented by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(marketRegistry.routes, marketRegistry.failures)
	})
	return marketRegistry
}

// RecordRoute increments the route counter for the winning fee tier.
func (m *MarketMetrics) RecordRoute(feeTier uint32) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(fmt.Sprintf("%d", feeTier)).Inc()
}

// RecordFailure increments the conversion failure counter.
func (m *MarketMetrics) RecordFailure(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.failures.WithLabelValues(reason).Inc()
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
