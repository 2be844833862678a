package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snaprec_runs_total",
			Help: "Total number of pipeline runs by terminal state",
		},
		[]string{"state"},
	)

	failuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snaprec_failures_total",
			Help: "Total number of failed runs by failure kind and stage",
		},
		[]string{"kind", "stage"},
	)

	rejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snaprec_captures_rejected_total",
			Help: "Captures rejected because a run was already active",
		},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snaprec_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	payloadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snaprec_payload_bytes",
			Help:    "Size of encoded upload payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(16<<10, 2, 10),
		},
	)

	historyEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snaprec_history_entries",
			Help: "Number of stored recognition results",
		},
	)

	activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snaprec_active_runs",
			Help: "1 while a run is in flight",
		},
	)
)
