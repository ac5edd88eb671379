package inference

import "github.com/prometheus/client_golang/prometheus"

var (
	// runsTotal counts completed checkup runs by outcome
	// (completed / failed / rescheduled).
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_runs_total",
			Help: "Total number of checkup inference runs by outcome.",
		},
		[]string{"outcome"},
	)

	// imagesScored counts per-image scoring attempts by outcome
	// (scored / skipped).
	imagesScored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_images_total",
			Help: "Total number of images processed by outcome.",
		},
		[]string{"outcome"},
	)

	// refundsTotal counts automatic credit refunds issued for failed checkups.
	refundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inference_failure_refunds_total",
			Help: "Total number of automatic refunds for failed checkups.",
		},
	)

	// runDuration records wall-clock run duration in seconds. Buckets cover
	// a warm single-image run up to a cold multi-image run with model load.
	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_run_duration_seconds",
			Help:    "Duration of checkup inference runs in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// workersBusy gauges workers currently executing a run.
	workersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inference_workers_busy",
			Help: "Number of workers currently executing a checkup run.",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal, imagesScored, refundsTotal, runDuration, workersBusy)
}
