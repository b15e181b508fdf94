package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type EscrowMetrics struct {
	transitions  *prometheus.CounterVec
	failures     *prometheus.CounterVec
	openDisputes prometheus.Gauge
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_transitions_total",
				Help: "Count of applied payment state transitions by operation.",
			}, []string{"op"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_failures_total",
				Help: "Count of rejected operations by taxonomy kind.",
			}, []string{"kind"}),
			openDisputes: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrow_open_disputes",
				Help: "Number of payments currently in the disputed status.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.transitions,
			escrowRegistry.failures,
			escrowRegistry.openDisputes,
		)
	})
	return escrowRegistry
}

func (m *EscrowMetrics) ObserveTransition(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.transitions.WithLabelValues(op).Inc()
}

func (m *EscrowMetrics) ObserveFailure(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *EscrowMetrics) SetOpenDisputes(count int) {
	if m == nil {
		return
	}
	m.openDisputes.Set(float64(count))
}
