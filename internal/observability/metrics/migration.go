// Package metrics provides Prometheus metrics for migration runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hearthline/migrator/internal/migrate"
)

var _ migrate.Recorder = (*MigrationMetrics)(nil)

// MigrationMetrics contains Prometheus metrics for migration runs. It
// satisfies migrate.Recorder.
type MigrationMetrics struct {
	registry *prometheus.Registry

	// Record outcome metrics
	recordsTotal       *prometheus.CounterVec
	userFallbacksTotal prometheus.Counter

	// Write and phase latency
	writeDuration *prometheus.HistogramVec
	phaseDuration *prometheus.HistogramVec

	// Run metrics
	runsTotal         *prometheus.CounterVec
	lastRunTimestamp  prometheus.Gauge
	lastRunSuccessful prometheus.Gauge

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewMigrationMetrics creates and registers new migration metrics
func NewMigrationMetrics(registry *prometheus.Registry) (*MigrationMetrics, error) {
	m := &MigrationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *MigrationMetrics) initMetrics() {
	m.recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_total",
			Help:      "Total number of processed records by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: created, updated, skipped, errored
	)

	m.userFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "user_fallbacks_total",
			Help:      "Total number of tag creators replaced by the unknown-user sentinel",
		},
	)

	m.writeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "write_duration_seconds",
			Help:      "Time taken by successful target writes",
			Buckets:   prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15), // 1ms to ~16s
		},
		[]string{"kind", "operation"},
	)

	m.phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "phase_duration_seconds",
			Help:      "Time taken by each kind's phase of a run",
			Buckets:   prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount12), // 100ms to ~3m
		},
		[]string{"kind"},
	)

	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Total number of migration runs by result",
		},
		[]string{"result"},
	)

	m.lastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		},
	)

	m.lastRunSuccessful = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_successful",
			Help:      "1 if the last run finished without a fatal error, 0 otherwise",
		},
	)

	m.collectors = []prometheus.Collector{
		m.recordsTotal,
		m.userFallbacksTotal,
		m.writeDuration,
		m.phaseDuration,
		m.runsTotal,
		m.lastRunTimestamp,
		m.lastRunSuccessful,
	}
}

// Describe implements the Collector interface
func (m *MigrationMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *MigrationMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordOutcome counts one processed record
func (m *MigrationMetrics) RecordOutcome(kind, outcome string) {
	m.recordsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveWrite records the latency of a successful create or update
func (m *MigrationMetrics) ObserveWrite(kind, operation string, d time.Duration) {
	m.writeDuration.WithLabelValues(kind, operation).Observe(d.Seconds())
}

// ObservePhase records how long one kind took
func (m *MigrationMetrics) ObservePhase(kind string, d time.Duration) {
	m.phaseDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordUserFallback counts a creator mapped to the unknown user
func (m *MigrationMetrics) RecordUserFallback() {
	m.userFallbacksTotal.Inc()
}

// RecordRun records the end of a run
func (m *MigrationMetrics) RecordRun(success bool) {
	result, flag := LabelFailure, 0.0
	if success {
		result, flag = LabelSuccess, 1.0
	}
	m.runsTotal.WithLabelValues(result).Inc()
	m.lastRunSuccessful.Set(flag)
	m.lastRunTimestamp.SetToCurrentTime()
}
