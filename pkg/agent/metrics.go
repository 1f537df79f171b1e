package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_pipeline_runs_total",
			Help: "Total number of pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	metricRunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "askdb_pipeline_runs_in_flight",
			Help: "Number of pipeline runs currently executing",
		},
	)

	metricStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	metricStageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_pipeline_stage_errors_total",
			Help: "Total number of failed pipeline stages",
		},
		[]string{"stage"},
	)

	metricConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_pipeline_confidence",
			Help:    "Confidence scores parsed from question analyses",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)
)
