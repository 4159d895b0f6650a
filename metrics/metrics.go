package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeexec_executions_total",
			Help: "Total number of execution requests by outcome",
		},
		[]string{"language", "status"},
	)

	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeexec_phase_duration_seconds",
			Help:    "Wall time of each pipeline phase",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"language", "phase"}, // phase: "compile", "run", "query"
	)

	MemoryUsage = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeexec_memory_usage_kb",
			Help:    "Peak resident memory of the run phase in KB",
			Buckets: []float64{1024, 4096, 16384, 65536, 131072, 262144},
		},
		[]string{"language"},
	)

	ActiveWorkspaces = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codeexec_active_workspaces",
			Help: "Workspaces currently on disk",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codeexec_queue_depth",
			Help: "Current number of jobs waiting for a worker",
		},
	)

	ContainerRecycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codeexec_container_recycles_total",
			Help: "Sandbox containers replaced after a timeout",
		},
	)
)
