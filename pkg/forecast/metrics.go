package forecast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	forecastsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_forecasts_published_total",
			Help: "Forecast windows published, by recommended action",
		},
		[]string{"action"},
	)

	forecastsUnavailable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_forecasts_unavailable_total",
			Help: "Cycles that produced no forecast and kept the prior window",
		},
	)

	forecastConfidence = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_forecast_confidence",
			Help: "Confidence of the most recently published forecast",
		},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_forecast_cycle_duration_seconds",
			Help:    "Time spent per forecast cycle",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)
)
