package evaluate

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/logging"
	"github.com/roach88/kmeval/internal/merge"
	"github.com/roach88/kmeval/internal/metrics"
	"github.com/roach88/kmeval/internal/reconcile"
	"github.com/roach88/kmeval/internal/statemachine"
	"github.com/roach88/kmeval/internal/telemetry"
)

// MetricReconciliation names omissions raised while matching outcomes to
// event logs.
const MetricReconciliation = "reconciliation"

// Options configures a run. Zero values fall back to DefaultOptions.
type Options struct {
	// Input describes where the dataset came from, for the report only.
	Input string

	Tolerance         float64
	SignificanceLevel float64
	Workers           int

	Logger   *slog.Logger
	Recorder *telemetry.Recorder

	// Now and NewRunID are replaced in tests for deterministic reports.
	Now      func() time.Time
	NewRunID func() (string, error)
}

// DefaultOptions returns tolerance 0, alpha 0.05 and one worker per CPU.
func DefaultOptions() Options {
	return Options{
		Tolerance:         reconcile.DefaultConfig().Tolerance,
		SignificanceLevel: metrics.DefaultConfig().SignificanceLevel,
		Workers:           runtime.GOMAXPROCS(0),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.SignificanceLevel == 0 {
		o.SignificanceLevel = def.SignificanceLevel
	}
	if o.Workers < 1 {
		o.Workers = def.Workers
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.Recorder == nil {
		o.Recorder = telemetry.NewRecorder()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewRunID == nil {
		o.NewRunID = newRunID
	}
	return o
}

// newRunID returns a time-ordered UUIDv7.
func newRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}

// Run merges raw inputs and evaluates the consolidated dataset.
func Run(ctx context.Context, opts Options, in merge.Input, meta map[ir.ID]ir.TaskMetadata) (*Report, error) {
	merged, err := merge.Merge(in)
	if err != nil {
		return nil, err
	}
	return Evaluate(ctx, opts, merged, meta)
}

// Evaluate validates, reconciles and computes metrics for a merged dataset.
//
// The returned error is reserved for cancellation and for failures that
// prevent any result; data problems are recorded on the Report.
func Evaluate(ctx context.Context, opts Options, merged *merge.Result, meta map[ir.ID]ir.TaskMetadata) (*Report, error) {
	opts = opts.withDefaults()

	runID, err := opts.NewRunID()
	if err != nil {
		return nil, err
	}
	logger := logging.WithRun(opts.Logger, runID)
	rec := opts.Recorder

	report := &Report{
		RunID:             runID,
		Input:             opts.Input,
		StartedAt:         opts.Now().UTC(),
		Tolerance:         opts.Tolerance,
		SignificanceLevel: opts.SignificanceLevel,
		Outcomes:          len(merged.Outcomes),
		EventLogs:         len(merged.EventLogs),
		Conflicts:         merged.Conflicts,
	}
	for _, m := range meta {
		if m.PassingScore != nil {
			report.HasPassingScore = true
			break
		}
	}
	logger.Info("evaluation started",
		"input", opts.Input,
		"outcomes", report.Outcomes,
		"event_logs", report.EventLogs,
		"tasks_with_metadata", len(meta))

	RecordMerge(rec, logger, merged)

	vres, err := statemachine.ValidateAll(ctx, merged.EventLogs, opts.Workers)
	if err != nil {
		return nil, err
	}
	report.ValidationErrors = vres.Errors
	for _, ve := range vres.Errors {
		rec.ValidationError(string(ve.Code))
		logger.Warn("event log rejected", "key", ve.Key.String(), "code", string(ve.Code), "error", ve.Message)
	}

	rres := reconcile.Reconcile(reconcile.Config{Tolerance: opts.Tolerance}, merged.Outcomes, merged.EventLogs, vres.WalkByKey())
	rres.Log(logger)
	report.Warnings = rres.Warnings
	for _, w := range rres.Warnings {
		rec.Warning(string(w.Field))
	}
	for _, u := range rres.Unmatched {
		o := omissionFrom(u.Task, u)
		o.Metric = MetricReconciliation
		report.Omissions = append(report.Omissions, o)
	}

	tasks, err := computeTasks(ctx, opts, metrics.Aggregate(merged.Outcomes), meta)
	if err != nil {
		return nil, err
	}
	for _, tr := range tasks {
		report.Omissions = append(report.Omissions, tr.omissions...)
		if tr.metrics != nil {
			report.Tasks = append(report.Tasks, tr.metrics)
			rec.TaskEvaluated()
		}
	}

	for _, o := range report.Omissions {
		rec.Omission(string(o.Scope))
		if o.Metric != MetricReconciliation {
			logger.Warn("computation omitted", "subject", o.Subject(), "metric", o.Metric, "reason", o.Reason)
		}
	}

	report.FinishedAt = opts.Now().UTC()
	rec.Finish(report.StartedAt, report.FinishedAt)
	logger.Info("evaluation finished",
		"tasks", len(report.Tasks),
		"validation_errors", len(report.ValidationErrors),
		"warnings", len(report.Warnings),
		"omissions", len(report.Omissions),
		"duration", report.FinishedAt.Sub(report.StartedAt))

	return report, nil
}

// RecordMerge counts merged, identical and conflicting records on rec and logs
// each conflict.
func RecordMerge(rec *telemetry.Recorder, logger *slog.Logger, merged *merge.Result) {
	rec.Merged(string(merge.KindOutcome), len(merged.Outcomes))
	rec.Merged(string(merge.KindEventLog), len(merged.EventLogs))
	for kind, n := range merged.Identical {
		rec.Identical(string(kind), n)
	}
	for _, c := range merged.Conflicts {
		rec.Conflict(string(c.Kind))
		logger.Warn("conflicting duplicates excluded", "kind", string(c.Kind), "key", c.Key.String(), "sources", c.Sources)
	}
}

// taskResult is one task's contribution to the report. metrics is nil when
// the task could not be evaluated at all.
type taskResult struct {
	metrics   *metrics.TaskMetrics
	omissions []Omission
}

// computeTasks evaluates every task concurrently. Results come back in
// task order, covering tasks that have outcomes, metadata, or both.
func computeTasks(ctx context.Context, opts Options, samples []*metrics.TaskSamples, meta map[ir.ID]ir.TaskMetadata) ([]taskResult, error) {
	byTask := make(map[ir.ID]*metrics.TaskSamples, len(samples))
	ids := make([]ir.ID, 0, len(samples)+len(meta))
	for _, ts := range samples {
		byTask[ts.Task] = ts
		ids = append(ids, ts.Task)
	}
	for id := range meta {
		if _, ok := byTask[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	cfg := metrics.Config{SignificanceLevel: opts.SignificanceLevel}
	results := make([]taskResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, id := range ids {
		ts, hasSamples := byTask[id]
		m, hasMeta := meta[id]
		switch {
		case !hasMeta:
			results[i].omissions = []Omission{{Scope: ScopeTask, Task: id, Metric: MetricAll, Reason: "no task metadata"}}
			continue
		case !hasSamples:
			results[i].omissions = []Omission{{Scope: ScopeTask, Task: id, Metric: MetricAll, Reason: "no outcome records"}}
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tm := metrics.Compute(cfg, ts, m)
			results[i] = taskResult{metrics: tm, omissions: taskOmissions(tm)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluate tasks: %w", err)
	}
	return results, nil
}

// taskOmissions lists excluded records first, then omitted metrics in
// computation order.
func taskOmissions(tm *metrics.TaskMetrics) []Omission {
	out := make([]Omission, 0, len(tm.Excluded)+len(tm.Omitted))
	for _, e := range tm.Excluded {
		out = append(out, omissionFrom(tm.Task, e))
	}
	for _, err := range tm.Omitted {
		out = append(out, omissionFrom(tm.Task, err))
	}
	return out
}
