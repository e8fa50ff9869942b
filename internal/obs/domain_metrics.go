package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// AttemptTotal counts payment attempts by terminal result.
	AttemptTotal *prometheus.CounterVec
	// BridgeMessageTotal counts inbound bridge messages by shape and outcome.
	BridgeMessageTotal *prometheus.CounterVec
	// ReconcileTotal counts reconciliation calls by result.
	ReconcileTotal *prometheus.CounterVec
	// ReconcileLatency records reconciliation latency in milliseconds.
	ReconcileLatency *prometheus.HistogramVec
	// SessionCreateTotal counts backend session creation outcomes.
	SessionCreateTotal *prometheus.CounterVec
	// CallbackDeliveriesTotal tracks host outcome callback delivery outcomes.
	CallbackDeliveriesTotal *prometheus.CounterVec
	// AttemptExpiredTotal counts attempts expired by the worker sweep.
	AttemptExpiredTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		AttemptTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_attempt_total",
			Help:      "Count of payment attempts by terminal state.",
		}, []string{"state"})
		BridgeMessageTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_message_total",
			Help:      "Count of processed bridge messages by shape and outcome.",
		}, []string{"shape", "outcome"})
		ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Count of reconciliation calls by result.",
		}, []string{"result"})
		ReconcileLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_ms",
			Help:      "Latency for reconciliation calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})
		SessionCreateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_create_total",
			Help:      "Count of backend payment session creation outcomes.",
		}, []string{"result"})
		CallbackDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_deliveries_total",
			Help:      "Count of host outcome callback delivery outcomes.",
		}, []string{"result"})
		AttemptExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_expired_total",
			Help:      "Number of payment attempts expired by the background sweep.",
		})

		mustRegisterCollector(reg, AttemptTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				AttemptTotal = v
			}
		})
		mustRegisterCollector(reg, BridgeMessageTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				BridgeMessageTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReconcileTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ReconcileLatency = v
			}
		})
		mustRegisterCollector(reg, SessionCreateTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SessionCreateTotal = v
			}
		})
		mustRegisterCollector(reg, CallbackDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CallbackDeliveriesTotal = v
			}
		})
		mustRegisterCollector(reg, AttemptExpiredTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				AttemptExpiredTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, replace func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			replace(are.ExistingCollector)
			return
		}
		panic(fmt.Errorf("register collector: %w", err))
	}
}
