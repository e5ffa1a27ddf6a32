package telemetry

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for convergo. A Metrics built with an
// empty textfile path records nothing.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Manager step metrics
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	items        *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// State metrics
	lastBuild   prometheus.Gauge
	generations prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if cfg.Textfile == "" {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of operations by name and outcome",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "manager_steps_total",
				Help:      "Total number of manager steps by action and outcome",
			},
			[]string{"manager", "action", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "manager_step_duration_seconds",
				Help:      "Duration of manager steps in seconds",
				Buckets:   buckets,
			},
			[]string{"manager", "action"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_changed_total",
				Help:      "Total number of items passed to add or remove",
			},
			[]string{"manager", "action"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by kind",
			},
			[]string{"kind"},
		),

		lastBuild: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_build_timestamp_seconds",
				Help:      "Unix time of the last successful build",
			},
		),
		generations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "generations",
				Help:      "Number of committed generations",
			},
		),
	}

	registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.steps,
		m.stepDuration,
		m.items,
		m.errorsByKind,
		m.lastBuild,
		m.generations,
	)

	return m
}

// Enabled reports whether metrics are collected.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// Registry exposes the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordOperation records a finished top-level operation.
func (m *Metrics) RecordOperation(operation, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStep records one manager action.
func (m *Metrics) RecordStep(manager, action, status string, items int, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.steps.WithLabelValues(manager, action, status).Inc()
	m.stepDuration.WithLabelValues(manager, action).Observe(duration.Seconds())
	if items > 0 {
		m.items.WithLabelValues(manager, action).Add(float64(items))
	}
}

// RecordError counts an error by kind.
func (m *Metrics) RecordError(kind string) {
	if !m.Enabled() {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// SetLastBuild records the time of a successful build.
func (m *Metrics) SetLastBuild(t time.Time) {
	if !m.Enabled() {
		return
	}
	m.lastBuild.Set(float64(t.Unix()))
}

// SetGenerations records how many generations exist.
func (m *Metrics) SetGenerations(n int) {
	if !m.Enabled() {
		return
	}
	m.generations.Set(float64(n))
}

// WriteTextfile writes every metric to the configured textfile.
func (m *Metrics) WriteTextfile() error {
	if !m.Enabled() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.Textfile), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(m.config.Textfile, m.registry)
}

// Timer measures an operation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
