package metrics

import (
	"errors"
	"fmt"

	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/stats"
)

// Config is passed explicitly to Compute; the package holds no mutable state.
type Config struct {
	// SignificanceLevel is the alpha for both tests. A p-value at or below
	// it is significant.
	SignificanceLevel float64
}

// DefaultConfig returns alpha = 0.05.
func DefaultConfig() Config {
	return Config{SignificanceLevel: stats.DefaultSignificanceLevel}
}

// TaskMetrics is every result computed for one task. A nil value means
// the metric was omitted; the reason is in Omitted.
type TaskMetrics struct {
	Task       ir.ID `json:"task_id"`
	PrototypeN int   `json:"prototype_n"`
	BaselineN  int   `json:"baseline_n"`

	KMTimeReduction      *float64 `json:"km_time_proportional_reduction"`
	OptimalTimeProximity *float64 `json:"prototype_time_relative_to_baseline_and_optimal"`
	FailureRateReduction *float64 `json:"proportional_task_failure_rate_reduction"`
	ProductivityGain     *float64 `json:"proportional_increase_in_productivity"`

	// BinarizedFailureRate is nil without error when the task has no
	// passing score.
	BinarizedFailureRate *float64 `json:"binarized_proportional_task_failure_rate,omitempty"`

	// TimeTest compares total times, Prototype less than Baseline.
	TimeTest *stats.TestResult `json:"time_test"`

	// GradeTest compares grades, Prototype greater than Baseline.
	GradeTest *stats.TestResult `json:"grade_test"`

	// Omitted holds one *ir.InsufficientDataError or *ir.UndefinedMetricError
	// per metric or test that could not be computed.
	Omitted []error `json:"-"`

	// Excluded lists records left out of the computation: grades above the
	// task maximum (left out entirely), then non-positive totals (left out
	// of the KM-fraction mean).
	Excluded []*ir.UndefinedMetricError `json:"-"`
}

// Compute runs every metric and both significance tests for one task.
// A failure in one computation never prevents the others.
func Compute(cfg Config, ts *TaskSamples, meta ir.TaskMetadata) *TaskMetrics {
	ts, overMax := ts.WithinMaximum(meta.MaximumScore)

	tm := &TaskMetrics{
		Task:       ts.Task,
		PrototypeN: ts.Prototype.N(),
		BaselineN:  ts.Baseline.N(),
	}
	tm.Excluded = append(tm.Excluded, overMax...)
	tm.Excluded = append(tm.Excluded, ts.Prototype.Excluded...)
	tm.Excluded = append(tm.Excluded, ts.Baseline.Excluded...)

	record := func(dst **float64, v float64, err error) {
		if err != nil {
			tm.Omitted = append(tm.Omitted, err)
			return
		}
		*dst = &v
	}

	v, err := KMTimeReduction(ts)
	record(&tm.KMTimeReduction, v, err)

	v, err = OptimalTimeProximity(ts, meta.OptimalTime)
	record(&tm.OptimalTimeProximity, v, err)

	v, err = FailureRateReduction(ts, meta.MaximumScore)
	record(&tm.FailureRateReduction, v, err)

	v, err = ProductivityGain(ts)
	record(&tm.ProductivityGain, v, err)

	if meta.PassingScore != nil {
		v, err = BinarizedFailureRateReduction(ts, meta.MaximumScore, *meta.PassingScore)
		record(&tm.BinarizedFailureRate, v, err)
	}

	tm.TimeTest = runTest(cfg, ts, stats.NameWelch, func() (stats.TestResult, error) {
		return stats.WelchTTest(ts.Prototype.TotalTimes(), ts.Baseline.TotalTimes(), stats.Less)
	}, &tm.Omitted)

	tm.GradeTest = runTest(cfg, ts, stats.NameMannWhitneyU, func() (stats.TestResult, error) {
		return stats.MannWhitneyU(ts.Prototype.Grades(), ts.Baseline.Grades(), stats.Greater)
	}, &tm.Omitted)

	return tm
}

// runTest checks sample sizes per condition so the error can name the
// short condition, then runs the test and scopes any error to the task.
func runTest(cfg Config, ts *TaskSamples, name string, run func() (stats.TestResult, error), omitted *[]error) *stats.TestResult {
	for _, cs := range []*ConditionSamples{ts.Prototype, ts.Baseline} {
		if cs.N() < 2 {
			*omitted = append(*omitted, &ir.InsufficientDataError{
				Task:      ts.Task,
				Condition: cs.Condition,
				Metric:    name,
				Reason:    fmt.Sprintf("%d observation(s), need at least 2", cs.N()),
			})
			return nil
		}
	}

	res, err := run()
	if err != nil {
		var ie *ir.InsufficientDataError
		var ue *ir.UndefinedMetricError
		switch {
		case errors.As(err, &ie):
			ie.Task = ts.Task
		case errors.As(err, &ue):
			ue.Task = ts.Task
		}
		*omitted = append(*omitted, err)
		return nil
	}
	res = res.Judge(cfg.SignificanceLevel)
	return &res
}
