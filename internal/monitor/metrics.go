// Package monitor provides metrics, tracing, and static analysis of
// submitted scripts.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the script runtime.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	RunErrors        *prometheus.CounterVec
	ActiveRuns       prometheus.Gauge
	ToolCallsTotal   *prometheus.CounterVec
	PendingRetries   prometheus.Counter
	OutputLines      *prometheus.CounterVec
	SecurityEvents   *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge
	CodeSizeBytes    prometheus.Histogram
	OutputSizeBytes  prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scriptbox",
				Name:      "runs_total",
				Help:      "Total number of script runs by backend and status.",
			},
			[]string{"backend", "status"},
		),

		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "scriptbox",
				Name:      "run_duration_seconds",
				Help:      "Duration of script runs in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"backend"},
		),

		RunErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scriptbox",
				Name:      "run_errors_total",
				Help:      "Total run errors by type.",
			},
			[]string{"type"},
		),

		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scriptbox",
				Name:      "active_runs",
				Help:      "Number of currently executing script runs.",
			},
		),

		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scriptbox",
				Name:      "tool_calls_total",
				Help:      "Total tool call attempts by outcome.",
			},
			[]string{"outcome"},
		),

		PendingRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scriptbox",
				Name:      "tool_call_pending_retries_total",
				Help:      "Total pending outcomes that triggered a retry sleep.",
			},
		),

		OutputLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scriptbox",
				Name:      "output_lines_total",
				Help:      "Total output lines forwarded by stream.",
			},
			[]string{"stream"},
		),

		SecurityEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scriptbox",
				Name:      "security_events_total",
				Help:      "Total suspicious patterns detected in submitted scripts.",
			},
			[]string{"type"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scriptbox",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "scriptbox",
				Name:      "code_size_bytes",
				Help:      "Size of submitted scripts in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "scriptbox",
				Name:      "output_size_bytes",
				Help:      "Size of run output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunErrors,
		m.ActiveRuns,
		m.ToolCallsTotal,
		m.PendingRetries,
		m.OutputLines,
		m.SecurityEvents,
		m.RequestsInFlight,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
	)

	return m
}

// RecordRun records metrics for a finished run.
func (m *Metrics) RecordRun(backend, status string, durationSec float64) {
	m.RunsTotal.WithLabelValues(backend, status).Inc()
	m.RunDuration.WithLabelValues(backend).Observe(durationSec)
}

// RecordError records a run error by type.
func (m *Metrics) RecordError(errType string) {
	m.RunErrors.WithLabelValues(errType).Inc()
}

// RecordSecurityEvent records a detected suspicious pattern.
func (m *Metrics) RecordSecurityEvent(eventType string) {
	m.SecurityEvents.WithLabelValues(eventType).Inc()
}
