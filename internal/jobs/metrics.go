// Package jobmetrics instruments the asynq task handlers.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Metrics holds the job collectors. Methods are nil-safe.
type Metrics struct {
	runs         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	lastSuccess  *prometheus.GaugeVec
	eliminations *prometheus.CounterVec
}

var (
	sharedOnce sync.Once
	shared     *Metrics
)

// NewMetrics registers the collectors on reg. A nil reg means the process-wide
// default registerer, registered once.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg != nil {
		return register(reg)
	}
	sharedOnce.Do(func() { shared = register(prometheus.DefaultRegisterer) })
	return shared
}

func register(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_total",
			Help: "Job runs by task type and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_failures_total",
			Help: "Failed job runs by task type.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_job_duration_seconds",
			Help:    "Job run time in seconds.",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odyssey_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per task type.",
		}, []string{"job"}),
		eliminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_eliminations_total",
			Help: "Intercompany elimination entries by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.runs, m.failures, m.duration, m.lastSuccess, m.eliminations)
	return m
}

// Tracker times one job run.
type Tracker struct {
	m     *Metrics
	job   string
	start time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{m: m, job: job, start: time.Now()}
}

// End records the run and returns err unchanged, so handlers can write
// `return tracker.End(err)`.
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil || t.job == "" {
		return err
	}
	elapsed := time.Since(t.start).Seconds()
	t.m.duration.WithLabelValues(t.job).Observe(elapsed)
	if err != nil {
		t.m.runs.WithLabelValues(t.job, statusFailure).Inc()
		t.m.failures.WithLabelValues(t.job).Inc()
		return err
	}
	t.m.runs.WithLabelValues(t.job, statusSuccess).Inc()
	t.m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	return nil
}

// AddEliminations counts elimination entries; outcome is "posted" or
// "replayed".
func (m *Metrics) AddEliminations(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.eliminations.WithLabelValues(outcome).Add(float64(count))
}
