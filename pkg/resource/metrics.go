package resource

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_pool_size",
			Help: "Live nodes in the pool",
		},
	)

	poolCostRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_pool_cost_per_second",
			Help: "Summed cost rate of live nodes",
		},
	)

	riskScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_risk_score",
			Help: "Current aggregate risk score",
		},
	)

	migrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_migrations_total",
			Help: "Node terminations by reason",
		},
		[]string{"reason"},
	)

	provisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_provisions_total",
			Help: "Successful node provisions by reason",
		},
		[]string{"reason"},
	)

	provisionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_provision_retries_total",
			Help: "Individual failed provision attempts",
		},
	)

	provisionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_provision_failures_total",
			Help: "Provision operations that exhausted their retries",
		},
	)

	controllerCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_controller_cycle_duration_seconds",
			Help:    "Time spent per resource controller cycle",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)
