// Package telemetry counts what an evaluation run did, in Prometheus form.
//
// kmeval is a batch job, so metrics are not scraped: each run registers
// its counters on a private registry and may write them once, at exit, to
// a node_exporter textfile-collector file.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kmeval"

// Recorder holds the counters for one run.
type Recorder struct {
	registry *prometheus.Registry

	recordsMerged    *prometheus.CounterVec
	duplicates       *prometheus.CounterVec
	validationErrors *prometheus.CounterVec
	warnings         *prometheus.CounterVec
	omissions        *prometheus.CounterVec
	tasksEvaluated   prometheus.Counter
	runDuration      prometheus.Gauge
	lastSuccess      prometheus.Gauge
}

// NewRecorder registers every kmeval metric on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		// Labels: "outcome", "event_log"
		recordsMerged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_merged_total",
			Help:      "Records kept in the consolidated dataset, by kind",
		}, []string{"kind"}),

		// Labels: kind, and "identical" or "conflict"
		duplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Duplicate keys found while merging, by kind and resolution",
		}, []string{"kind", "resolution"}),

		validationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_errors_total",
			Help:      "Event logs rejected by the state machine, by error code",
		}, []string{"code"}),

		warnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_warnings_total",
			Help:      "Declared durations disagreeing with derived durations, by field",
		}, []string{"field"}),

		omissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "omissions_total",
			Help:      "Computations skipped for missing or undefined data, by scope",
		}, []string{"scope"}),

		tasksEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_evaluated_total",
			Help:      "Tasks with computed metrics",
		}),

		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last evaluation run",
		}),

		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last evaluation run finished",
		}),
	}
}

// Registry exposes the private registry, for tests and custom exporters.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Merged adds n kept records of kind.
func (r *Recorder) Merged(kind string, n int) {
	r.recordsMerged.WithLabelValues(kind).Add(float64(n))
}

// Conflict counts one key excluded for conflicting duplicates.
func (r *Recorder) Conflict(kind string) {
	r.duplicates.WithLabelValues(kind, "conflict").Inc()
}

// Identical adds n inputs of kind dropped as exact copies.
func (r *Recorder) Identical(kind string, n int) {
	r.duplicates.WithLabelValues(kind, "identical").Add(float64(n))
}

// ValidationError counts one rejected event log.
func (r *Recorder) ValidationError(code string) {
	r.validationErrors.WithLabelValues(code).Inc()
}

// Warning counts one reconciliation warning.
func (r *Recorder) Warning(field string) {
	r.warnings.WithLabelValues(field).Inc()
}

// Omission counts one skipped computation.
func (r *Recorder) Omission(scope string) {
	r.omissions.WithLabelValues(scope).Inc()
}

// TaskEvaluated counts one task with computed metrics.
func (r *Recorder) TaskEvaluated() {
	r.tasksEvaluated.Inc()
}

// Finish records the run duration and completion time.
func (r *Recorder) Finish(started, finished time.Time) {
	r.runDuration.Set(finished.Sub(started).Seconds())
	r.lastSuccess.Set(float64(finished.Unix()))
}

// WriteTextfile writes every metric to path in the text exposition format.
// The file is written atomically, as node_exporter requires.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
