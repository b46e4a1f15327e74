// Package metrics provides Prometheus metrics for the record store and the
// query registry.
//
// All Record* methods are safe to call on a nil *Metrics, so components can
// run without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for vdstore.
type Metrics struct {
	// Record store metrics
	VersionsWrittenTotal *prometheus.CounterVec
	UpsertsUnchanged     *prometheus.CounterVec
	VersionsClosedTotal  *prometheus.CounterVec
	ConversionWarnings   *prometheus.CounterVec
	DbOperationDuration  *prometheus.HistogramVec

	// Registry metrics
	QueriesRegisteredTotal prometheus.Counter
	DedupHitsTotal         prometheus.Counter
	MintFailuresTotal      prometheus.Counter

	// Result-hash worker metrics
	HashTasksTotal  *prometheus.CounterVec
	HashQueueLength prometheus.Gauge
}

// New creates all metrics and registers them on reg.
// A nil reg registers on prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{}

	m.VersionsWrittenTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vdstore_versions_written_total",
			Help: "Total number of record versions inserted",
		},
		[]string{"resource"},
	)

	m.UpsertsUnchanged = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vdstore_upserts_unchanged_total",
			Help: "Total number of upserted records skipped because their content was unchanged",
		},
		[]string{"resource"},
	)

	m.VersionsClosedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vdstore_versions_closed_total",
			Help: "Total number of record versions whose validity interval was closed",
		},
		[]string{"resource", "reason"},
	)

	m.ConversionWarnings = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vdstore_conversion_warnings_total",
			Help: "Total number of field values that failed type coercion",
		},
		[]string{"resource"},
	)

	m.DbOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vdstore_db_operation_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.QueriesRegisteredTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "vdstore_queries_registered_total",
			Help: "Total number of new queries registered",
		},
	)

	m.DedupHitsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "vdstore_query_dedup_hits_total",
			Help: "Total number of registrations answered with an existing query",
		},
	)

	m.MintFailuresTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "vdstore_pid_mint_failures_total",
			Help: "Total number of failed PID minting attempts",
		},
	)

	m.HashTasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vdstore_hash_tasks_total",
			Help: "Total number of result-hash task attempts by outcome",
		},
		[]string{"status"},
	)

	m.HashQueueLength = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdstore_hash_queue_length",
			Help: "Number of result-hash tasks waiting to run",
		},
	)

	return m
}

// RecordUpsert records the outcome of one upsert batch.
func (m *Metrics) RecordUpsert(resource string, inserted, unchanged, closed, warnings int) {
	if m == nil {
		return
	}
	m.VersionsWrittenTotal.WithLabelValues(resource).Add(float64(inserted))
	m.UpsertsUnchanged.WithLabelValues(resource).Add(float64(unchanged))
	m.VersionsClosedTotal.WithLabelValues(resource, "superseded").Add(float64(closed))
	m.ConversionWarnings.WithLabelValues(resource).Add(float64(warnings))
}

// RecordDelete records versions closed by a delete.
func (m *Metrics) RecordDelete(resource string, closed int64) {
	if m == nil {
		return
	}
	m.VersionsClosedTotal.WithLabelValues(resource, "deleted").Add(float64(closed))
}

// RecordDbOperation records the duration of a store operation.
func (m *Metrics) RecordDbOperation(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DbOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRegistration records a registration that created a new query.
func (m *Metrics) RecordRegistration() {
	if m == nil {
		return
	}
	m.QueriesRegisteredTotal.Inc()
}

// RecordDedupHit records a registration answered by an existing query.
func (m *Metrics) RecordDedupHit() {
	if m == nil {
		return
	}
	m.DedupHitsTotal.Inc()
}

// RecordMintFailure records a failed PID minting attempt.
func (m *Metrics) RecordMintFailure() {
	if m == nil {
		return
	}
	m.MintFailuresTotal.Inc()
}

// RecordHashTask records one result-hash task attempt.
// status is "ok", "retry" or "failed".
func (m *Metrics) RecordHashTask(status string) {
	if m == nil {
		return
	}
	m.HashTasksTotal.WithLabelValues(status).Inc()
}

// SetHashQueueLength reports the number of queued hash tasks.
func (m *Metrics) SetHashQueueLength(n int) {
	if m == nil {
		return
	}
	m.HashQueueLength.Set(float64(n))
}
