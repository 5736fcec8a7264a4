// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chargeflow_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chargeflow_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route"})

	// Calculations counts single calculations by outcome kind ("ok" on success).
	Calculations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chargeflow_calculations_total",
		Help: "Charge calculations by outcome",
	}, []string{"outcome"})

	CalculationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chargeflow_calculation_duration_seconds",
		Help:    "Single calculation latency",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	ActiveRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chargeflow_active_rules",
		Help: "Rules in the current engine snapshot",
	})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chargeflow_batch_size",
		Help:    "Transactions per bulk calculation",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chargeflow_batch_duration_seconds",
		Help:    "Bulk calculation wall clock",
		Buckets: prometheus.DefBuckets,
	}, []string{"incomplete"})

	RuleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chargeflow_rule_transitions_total",
		Help: "Rule lifecycle operations by action and result",
	}, []string{"action", "result"})

	// BusDropped counts in-process bus deliveries lost to a full subscriber buffer.
	BusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chargeflow_bus_dropped_total",
		Help: "Event deliveries dropped by the channel bus",
	}, []string{"topic"})

	SettlementTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chargeflow_settlement_transitions_total",
		Help: "Settlement workflow operations by action and result",
	}, []string{"action", "result"})
)

// Result labels a transition outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
