package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics records escrow state machine activity for dashboards and
// alerts.
type EscrowMetrics struct {
	transitions *prometheus.CounterVec
	lockedValue prometheus.Gauge
	lockedCount prometheus.Gauge
	refunds     prometheus.Counter
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// Escrow returns the lazily-initialised escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bountyvault",
				Subsystem: "escrow",
				Name:      "transitions_total",
				Help:      "Escrow state machine calls segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			lockedValue: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bountyvault",
				Subsystem: "escrow",
				Name:      "locked_value",
				Help:      "Total value currently held in custody.",
			}),
			lockedCount: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bountyvault",
				Subsystem: "escrow",
				Name:      "locked_records",
				Help:      "Number of escrow records currently in the locked state.",
			}),
			refunds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "bountyvault",
				Subsystem: "escrow",
				Name:      "refunds_total",
				Help:      "Count of successful deadline-driven refunds.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.transitions,
			escrowRegistry.lockedValue,
			escrowRegistry.lockedCount,
			escrowRegistry.refunds,
		)
	})
	return escrowRegistry
}

// ObserveTransition records one state machine call outcome.
func (m *EscrowMetrics) ObserveTransition(op string, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.transitions.WithLabelValues(op, outcome).Inc()
	if op == "refund" && err == nil {
		m.refunds.Inc()
	}
}

// SetLockedValue updates the custody gauges after a committed transition.
func (m *EscrowMetrics) SetLockedValue(total *big.Int, count uint64) {
	if m == nil {
		return
	}
	if total != nil {
		value, _ := new(big.Float).SetInt(total).Float64()
		m.lockedValue.Set(value)
	}
	m.lockedCount.Set(float64(count))
}
