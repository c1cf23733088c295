package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tasks_finished_total",
			Help: "Tasks reaching a terminal state, by outcome",
		},
		[]string{"outcome"},
	)

	tasksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tasks_rejected_total",
			Help: "Task submissions rejected at admission, by reason",
		},
		[]string{"reason"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_task_queue_depth",
			Help: "Pending plus executing tasks",
		},
	)

	taskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_task_duration_seconds",
			Help:    "Execution time of completed tasks",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
	)

	dispatchCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_dispatch_cycle_duration_seconds",
			Help:    "Time spent per dispatch cycle",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)
)
