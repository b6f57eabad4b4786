package observability

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SaleMetrics records custody-engine activity for the operator daemon.
type SaleMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	purchased  prometheus.Counter
	redeemed   prometheus.Counter
	forwarded  prometheus.Counter
}

var (
	saleMetricsOnce sync.Once
	saleRegistry    *SaleMetrics
)

// Metrics returns the lazily-initialised sale metrics registry.
func Metrics() *SaleMetrics {
	saleMetricsOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vestvault",
				Subsystem: "sale",
				Name:      "operations_total",
				Help:      "Total engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vestvault",
				Subsystem: "sale",
				Name:      "errors_total",
				Help:      "Total engine errors segmented by operation and error class.",
			}, []string{"operation", "class"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vestvault",
				Subsystem: "sale",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			purchased: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vestvault",
				Subsystem: "sale",
				Name:      "payment_purchased_total",
				Help:      "Cumulative payment-asset units exchanged through buys.",
			}),
			redeemed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vestvault",
				Subsystem: "sale",
				Name:      "shares_redeemed_total",
				Help:      "Cumulative vault shares released through redemptions.",
			}),
			forwarded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vestvault",
				Subsystem: "sale",
				Name:      "proceeds_forwarded_total",
				Help:      "Cumulative payment-asset units forwarded to the debt facility.",
			}),
		}
		prometheus.MustRegister(
			saleRegistry.operations,
			saleRegistry.errors,
			saleRegistry.latency,
			saleRegistry.purchased,
			saleRegistry.redeemed,
			saleRegistry.forwarded,
		)
	})
	return saleRegistry
}

// Observe records the outcome and duration of one engine operation.
func (m *SaleMetrics) Observe(operation string, start time.Time, err error, class string) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(operation, class).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// AddPurchased accumulates exchanged payment volume.
func (m *SaleMetrics) AddPurchased(amount *big.Int) { addBig(m, m.purchased, amount) }

// AddRedeemed accumulates released share volume.
func (m *SaleMetrics) AddRedeemed(shares *big.Int) { addBig(m, m.redeemed, shares) }

// AddForwarded accumulates forwarded proceeds volume.
func (m *SaleMetrics) AddForwarded(amount *big.Int) { addBig(m, m.forwarded, amount) }

func addBig(m *SaleMetrics, counter prometheus.Counter, amount *big.Int) {
	if m == nil || counter == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	counter.Add(value)
}
