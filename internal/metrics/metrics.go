// Package metrics exposes Prometheus collectors for the scheduler service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal          *prometheus.CounterVec
	jobDurationSeconds *prometheus.HistogramVec
	activeWorkers      prometheus.Gauge
	sweepEnqueuedTotal *prometheus.CounterVec
	probeFailuresTotal prometheus.Counter
	likePageCapTotal   prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_jobs_total",
				Help: "Total number of jobs processed, labeled by task name and resulting state.",
			},
			[]string{"name", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scheduler_job_duration_seconds",
				Help:    "Histogram of handler execution time, labeled by task name.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"name"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scheduler_active_workers",
				Help: "Number of workers currently running a claimed job.",
			},
		)

		sweepEnqueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_sweep_enqueued_total",
				Help: "Total jobs re-seeded by the sweep, labeled by resource type.",
			},
			[]string{"resource"},
		)

		probeFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scheduler_probe_failures_total",
				Help: "Total image metadata probes that failed or timed out.",
			},
		)

		likePageCapTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scheduler_like_page_cap_hits_total",
				Help: "Total like paginations stopped by the per-post page cap.",
			},
		)
	})
}

// ObserveJob records one finished handler invocation.
func ObserveJob(name, status string, duration time.Duration) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(name, status).Inc()
	jobDurationSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

// WorkerStarted marks a worker as busy.
func WorkerStarted() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// WorkerStopped marks a worker as idle.
func WorkerStopped() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// SweepEnqueued counts one job re-seeded by the sweep.
func SweepEnqueued(resource string) {
	if sweepEnqueuedTotal != nil {
		sweepEnqueuedTotal.WithLabelValues(resource).Inc()
	}
}

// ProbeFailed counts one failed image metadata probe.
func ProbeFailed() {
	if probeFailuresTotal != nil {
		probeFailuresTotal.Inc()
	}
}

// LikePageCapHit counts one like pagination stopped by the page cap.
func LikePageCapHit() {
	if likePageCapTotal != nil {
		likePageCapTotal.Inc()
	}
}
