package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueDepth tracks pending push jobs (C2).
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "certdeploy_queue_depth",
			Help: "Number of push jobs currently pending in the queue",
		},
	)

	// PushAttemptsTotal counts push engine attempts by outcome (C4).
	PushAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certdeploy_push_attempts_total",
			Help: "Total number of SFTP push attempts by result",
		},
		[]string{"result"}, // success | transient_error | fatal_error
	)

	// PushDuration times a single SFTP upload attempt (C3/C4).
	PushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "certdeploy_push_duration_seconds",
			Help:    "Duration of a single push attempt to one client",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DriverRunsTotal counts update driver runs by kind and outcome (C9).
	DriverRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certdeploy_driver_runs_total",
			Help: "Total number of update driver runs by kind and result",
		},
		[]string{"kind", "result"}, // result: success | failure
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(PushAttemptsTotal)
	prometheus.MustRegister(PushDuration)
	prometheus.MustRegister(DriverRunsTotal)
}

// Handler returns the Prometheus HTTP handler, wired in only when a metrics
// listener address is configured; core logic never depends on it.
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

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
