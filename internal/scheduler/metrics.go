package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type jobMetrics struct {
	runs        *prometheus.CounterVec
	errors      *prometheus.CounterVec
	timeouts    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	transitions *prometheus.CounterVec
}

// newJobMetrics registers the scheduler collectors on reg. A nil registry
// yields unregistered collectors.
func newJobMetrics(reg *prometheus.Registry) *jobMetrics {
	m := &jobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentflow_scheduler_job_runs_total",
			Help: "Scheduler job runs.",
		}, []string{"job"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentflow_scheduler_job_errors_total",
			Help: "Scheduler job runs that ended in error.",
		}, []string{"job"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentflow_scheduler_job_timeouts_total",
			Help: "Scheduler job runs stopped by their deadline.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rentflow_scheduler_job_duration_seconds",
			Help:    "Scheduler job duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"job"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentflow_payment_status_transitions_total",
			Help: "Payment status changes applied by the sweep.",
		}, []string{"from", "to"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.errors, m.timeouts, m.duration, m.transitions)
	}
	return m
}

func (m *jobMetrics) incRun(job string)     { m.runs.WithLabelValues(job).Inc() }
func (m *jobMetrics) incError(job string)   { m.errors.WithLabelValues(job).Inc() }
func (m *jobMetrics) incTimeout(job string) { m.timeouts.WithLabelValues(job).Inc() }

func (m *jobMetrics) observeDuration(job string, d time.Duration) {
	m.duration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *jobMetrics) incTransition(from, to string) {
	if from == "" {
		from = "none"
	}
	m.transitions.WithLabelValues(from, to).Inc()
}
