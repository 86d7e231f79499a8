package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster inventory metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pioreactor_workers_total",
			Help: "Total number of workers in the inventory by active status",
		},
		[]string{"status"},
	)

	ExperimentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pioreactor_experiments_total",
			Help: "Total number of experiments",
		},
	)

	AssignmentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pioreactor_assignments_total",
			Help: "Total number of current worker-experiment assignments",
		},
	)

	// Task queue metrics
	TasksByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pioreactor_tasks_by_state",
			Help: "Number of retained tasks by state",
		},
		[]string{"state"},
	)

	HeldLocks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pioreactor_task_locks_held",
			Help: "Number of named task locks currently held",
		},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pioreactor_task_duration_seconds",
			Help:    "Task execution duration by kind",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"kind"},
	)

	// Fan-out metrics
	MulticastCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pioreactor_multicast_calls_total",
			Help: "Per-unit multicast call outcomes",
		},
		[]string{"outcome"},
	)

	MulticastDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pioreactor_multicast_duration_seconds",
			Help:    "Wall-clock duration of whole multicast fan-outs",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	// Control bus metrics
	BusPublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pioreactor_bus_publishes_total",
			Help: "Bus publish attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	LogRowsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pioreactor_log_rows_ingested_total",
			Help: "Log rows persisted by the leader's log aggregator",
		},
	)

	// HTTP surface metrics
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pioreactor_http_request_duration_seconds",
			Help:    "Request duration by surface and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"surface", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		WorkersTotal,
		ExperimentsTotal,
		AssignmentsTotal,
		TasksByState,
		HeldLocks,
		TaskDuration,
		MulticastCallsTotal,
		MulticastDuration,
		BusPublishesTotal,
		LogRowsIngested,
		HTTPRequestDuration,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time in the given histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
