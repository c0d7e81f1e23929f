// Package metrics holds the Prometheus collectors updated by the pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "fitetl"

// Row outcomes.
const (
	OutcomeKept      = "kept"
	OutcomeRejected  = "rejected"
	OutcomeDropped   = "dropped"
	OutcomeImputed   = "imputed"
	OutcomeFlagged   = "flagged"
	OutcomeDuplicate = "duplicate"
)

// Metrics is a private registry with the pipeline collectors registered.
type Metrics struct {
	Registry *prometheus.Registry

	rows          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	outputBytes   *prometheus.GaugeVec
	lastSuccess   prometheus.Gauge
}

// New creates and registers the collectors. Go runtime and process
// collectors are included when withRuntime is set.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "rows_total",
			Help:      "Rows handled by each stage, by outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Wall time spent in each stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "total",
			Help:      "Pipeline runs by environment and status.",
		}, []string{"environment", "status"}),
		outputBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "bytes",
			Help:      "Size of the most recent output per format.",
		}, []string{"format"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the most recent successful run.",
		}),
	}
	m.Registry.MustRegister(m.rows, m.stageDuration, m.runs, m.outputBytes, m.lastSuccess)
	if withRuntime {
		m.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Rows adds n rows with the given outcome to a stage. Non-positive n is ignored.
func (m *Metrics) Rows(stage, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rows.WithLabelValues(stage, outcome).Add(float64(n))
}

// StageDuration observes how long a stage took.
func (m *Metrics) StageDuration(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Run counts a finished run.
func (m *Metrics) Run(env, status string, at time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(env, status).Inc()
	if status == "completed" && !at.IsZero() {
		m.lastSuccess.Set(float64(at.Unix()))
	}
}

// OutputBytes records the size of an output.
func (m *Metrics) OutputBytes(format string, n int64) {
	if m == nil {
		return
	}
	m.outputBytes.WithLabelValues(format).Set(float64(n))
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
