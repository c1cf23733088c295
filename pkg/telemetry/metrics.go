package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	samplesRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_telemetry_samples_total",
			Help: "Total telemetry samples accepted into the ring buffer",
		},
	)

	bufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_telemetry_buffer_size",
			Help: "Samples currently held in the ring buffer",
		},
	)

	hostSampleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_telemetry_host_errors_total",
			Help: "Host source sampling failures by stage",
		},
		[]string{"stage"},
	)

	probeRTT = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_telemetry_probe_rtt_ms",
			Help: "Last observed probe round-trip time in milliseconds",
		},
	)
)
