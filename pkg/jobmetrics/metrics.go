// Package jobmetrics exposes Prometheus metrics for the job execution
// substrate: job outcomes, dispatch queue depth, worker churn, supervisor
// kills, and cleanup cycles. Adapted from the host application's own
// metrics package (same Timer helper, same MustRegister-at-init pattern).
package jobmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsTotal counts jobs reaching a terminal status, by status.
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsubstrate_jobs_total",
			Help: "Total number of jobs reaching a terminal status, by status",
		},
		[]string{"status"},
	)

	// JobExecutionDuration measures handler execution time.
	JobExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobsubstrate_job_execution_seconds",
			Help:    "Time spent running a handler inside a worker",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QueueDepth tracks the number of submissions waiting for an idle
	// worker.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobsubstrate_queue_depth",
			Help: "Number of submissions waiting for an idle worker",
		},
	)

	// WorkersTotal tracks current pool size by state.
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobsubstrate_workers_total",
			Help: "Current worker count by state (idle, running)",
		},
		[]string{"state"},
	)

	// WorkersRecycledTotal counts workers retired after reaching
	// process-lifecycle.
	WorkersRecycledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobsubstrate_workers_recycled_total",
			Help: "Total number of workers retired after reaching their task limit",
		},
	)

	// WorkersCrashedTotal counts worker processes that exited
	// unexpectedly (including supervisor-forced kills).
	WorkersCrashedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobsubstrate_workers_crashed_total",
			Help: "Total number of worker processes that exited without a clean recycle",
		},
	)

	// SupervisorKillsTotal counts kill-worker invocations by the
	// Supervisor Controller.
	SupervisorKillsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobsubstrate_supervisor_kills_total",
			Help: "Total number of workers killed by the supervisor controller for exceeding their deadline",
		},
	)

	// SupervisorPendingTimers tracks the current size of the
	// Controller's busy-table (at most one per worker pid).
	SupervisorPendingTimers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobsubstrate_supervisor_pending_timers",
			Help: "Current number of armed supervisor kill-timers",
		},
	)

	// CleanupCycleDuration measures one cleanup loop iteration.
	CleanupCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobsubstrate_cleanup_cycle_seconds",
			Help:    "Time taken to run one cleanup cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CleanupRecordsReclaimed counts records removed per cycle, by reason.
	CleanupRecordsReclaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsubstrate_cleanup_records_reclaimed_total",
			Help: "Total number of status records reclaimed by cleanup, by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		JobsTotal,
		JobExecutionDuration,
		QueueDepth,
		WorkersTotal,
		WorkersRecycledTotal,
		WorkersCrashedTotal,
		SupervisorKillsTotal,
		SupervisorPendingTimers,
		CleanupCycleDuration,
		CleanupRecordsReclaimed,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
