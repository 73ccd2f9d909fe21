package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronOutcome labels one pass of a cron job.
type CronOutcome string

const (
	CronSucceeded CronOutcome = "success"
	CronFailed    CronOutcome = "failure"
	// CronSkipped means another replica held the job lease.
	CronSkipped CronOutcome = "skipped"
)

// CronJobMetrics records sweep runs for the cron worker.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// NewCronJobMetrics registers the sweep collectors. A nil registerer yields a
// no-op recorder.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_job_runs_total",
			Help: "Cron job passes by outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cron_job_duration_seconds",
			Help:    "Wall time of cron job passes that held the lease.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 15, 30, 60, 120},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cron_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful pass, for staleness alerts.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess)
	return m
}

// Skipped counts a pass that lost the lease.
func (m *CronJobMetrics) Skipped(job string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(job), string(CronSkipped)).Inc()
}

// Observe records a pass that ran. finished stamps the success gauge.
func (m *CronJobMetrics) Observe(job string, outcome CronOutcome, took time.Duration, finished time.Time) {
	if m == nil || m.runs == nil {
		return
	}
	job = normalizeLabel(job)
	m.runs.WithLabelValues(job, string(outcome)).Inc()
	if took > 0 {
		m.duration.WithLabelValues(job).Observe(took.Seconds())
	}
	if outcome == CronSucceeded {
		m.lastSuccess.WithLabelValues(job).Set(float64(finished.Unix()))
	}
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
