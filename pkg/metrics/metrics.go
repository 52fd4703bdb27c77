package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InfluxQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stats_influx_query_duration_seconds",
			Help:    "Duration of time-series queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "status"},
	)

	InfluxPingFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_influx_ping_failures_total",
			Help: "Number of failed time-series backend liveness checks",
		},
		[]string{"backend"},
	)

	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_job_runs_total",
			Help: "Number of background remote action runs by outcome",
		},
		[]string{"method", "outcome"},
	)

	JobRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stats_job_run_duration_seconds",
			Help:    "Duration of background remote action runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"method"},
	)

	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stats_jobs_in_flight",
			Help: "Number of background remote action runs currently executing",
		},
	)
)
