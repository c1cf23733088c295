package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsRateLimited = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "orchestrator_api_rate_limited_total",
		Help: "Requests rejected by the API rate limiter",
	},
)
