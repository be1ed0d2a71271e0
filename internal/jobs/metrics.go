// Package jobmetrics instruments the ledger worker.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the worker collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	anomalies *prometheus.CounterVec
	auditLag  prometheus.Histogram
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers on registerer, or once on the default registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = register(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return register(registerer)
}

// Run measures one task execution.
type Run struct {
	metrics *Metrics
	task    string
	started time.Time
}

// Track starts measuring a task of the given type.
func (m *Metrics) Track(task string) *Run {
	return &Run{metrics: m, task: task, started: time.Now()}
}

// End records the outcome and returns err unchanged so it can wrap a deferred return.
func (r *Run) End(err error) error {
	if r == nil || r.metrics == nil || r.task == "" {
		return err
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.metrics.runs.WithLabelValues(r.task, outcome).Inc()
	r.metrics.duration.WithLabelValues(r.task).Observe(time.Since(r.started).Seconds())
	return err
}

// AddAnomalies counts findings of a scan task.
func (m *Metrics) AddAnomalies(task string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.anomalies.WithLabelValues(task).Add(float64(count))
}

// ObserveAuditLag records how long a queued audit entry waited between the
// committed mutation and its persistence.
func (m *Metrics) ObserveAuditLag(lag time.Duration) {
	if m == nil || lag < 0 {
		return
	}
	m.auditLag.Observe(lag.Seconds())
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_total",
			Help: "Worker task executions by task type and outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_job_duration_seconds",
			Help:    "Worker task execution time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_anomalies_total",
			Help: "Findings reported by scheduled ledger scans.",
		}, []string{"job"}),
		auditLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "odyssey_audit_queue_lag_seconds",
			Help:    "Delay between an audited mutation and the queued entry being stored.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
	}
	registerer.MustRegister(m.runs, m.duration, m.anomalies, m.auditLag)
	return m
}
