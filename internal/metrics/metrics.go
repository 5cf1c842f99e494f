package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/roach88/kmeval/internal/ir"
)

// Metric names. They double as the metrics CSV column headers.
const (
	MetricKMTimeReduction      = "km_time_proportional_reduction"
	MetricOptimalTimeProximity = "prototype_time_relative_to_baseline_and_optimal"
	MetricFailureRateReduction = "proportional_task_failure_rate_reduction"
	MetricProductivityGain     = "proportional_increase_in_productivity"
	MetricBinarizedFailureRate = "binarized_proportional_task_failure_rate"

	// MetricAll marks an exclusion or omission covering every metric and test.
	MetricAll = "all"
)

// Floor is the lowest value a floored metric can report.
const Floor = -100.0

func floor(v float64) float64 {
	if v < Floor {
		return Floor
	}
	return v
}

// requireBoth fails when either condition has no participants for the task.
func requireBoth(ts *TaskSamples, metric string) error {
	for _, cs := range []*ConditionSamples{ts.Prototype, ts.Baseline} {
		if cs.N() == 0 {
			return &ir.InsufficientDataError{
				Task:      ts.Task,
				Condition: cs.Condition,
				Metric:    metric,
				Reason:    "no participants",
			}
		}
	}
	return nil
}

// KMTimeReduction is Approach 1: 100 * (1 - t_S/t_B) where t_c is the mean
// KM-time fraction. Floored at -100, including when t_B is zero.
func KMTimeReduction(ts *TaskSamples) (float64, error) {
	if err := requireBoth(ts, MetricKMTimeReduction); err != nil {
		return 0, err
	}
	for _, cs := range []*ConditionSamples{ts.Prototype, ts.Baseline} {
		if len(cs.KMFractions) == 0 {
			return 0, &ir.InsufficientDataError{
				Task:      ts.Task,
				Condition: cs.Condition,
				Metric:    MetricKMTimeReduction,
				Reason:    "no participant has a positive task_total_time",
			}
		}
	}

	tS := stat.Mean(ts.Prototype.KMFractions, nil)
	tB := stat.Mean(ts.Baseline.KMFractions, nil)
	if tB == 0 {
		return Floor, nil
	}
	return floor(100 * (1 - tS/tB)), nil
}

// OptimalTimeProximity is Approach 2: where the mean Prototype time falls
// between the mean Baseline time (0) and the expert time (100).
// Floored at -100, including when T_B equals T_exp.
func OptimalTimeProximity(ts *TaskSamples, optimal float64) (float64, error) {
	if err := requireBoth(ts, MetricOptimalTimeProximity); err != nil {
		return 0, err
	}

	tS := stat.Mean(ts.Prototype.TotalTimes(), nil)
	tB := stat.Mean(ts.Baseline.TotalTimes(), nil)
	if tB == optimal {
		return Floor, nil
	}
	return floor(100 * (1 - (tS-optimal)/(tB-optimal))), nil
}

// FailureRateReduction is 100 * (1 - f_S/f_B) with f_c = (M - mean grade)/M.
// Floored at -100, including when f_B is zero.
func FailureRateReduction(ts *TaskSamples, maxScore float64) (float64, error) {
	return failureRateReduction(ts, maxScore, MetricFailureRateReduction, nil)
}

// BinarizedFailureRateReduction recasts each grade to maxScore when it
// reaches passing and to 0 otherwise, then applies FailureRateReduction.
func BinarizedFailureRateReduction(ts *TaskSamples, maxScore, passing float64) (float64, error) {
	binarize := func(g float64) float64 {
		if g >= passing {
			return maxScore
		}
		return 0
	}
	return failureRateReduction(ts, maxScore, MetricBinarizedFailureRate, binarize)
}

func failureRateReduction(ts *TaskSamples, maxScore float64, metric string, recast func(float64) float64) (float64, error) {
	if err := requireBoth(ts, metric); err != nil {
		return 0, err
	}
	if maxScore <= 0 {
		return 0, &ir.UndefinedMetricError{
			Task:   ts.Task,
			Metric: metric,
			Reason: fmt.Sprintf("task_maximum_score is %g", maxScore),
		}
	}

	rate := func(cs *ConditionSamples) float64 {
		grades := cs.Grades()
		if recast != nil {
			for i, g := range grades {
				grades[i] = recast(g)
			}
		}
		return (maxScore - stat.Mean(grades, nil)) / maxScore
	}

	fS, fB := rate(ts.Prototype), rate(ts.Baseline)
	if fB == 0 {
		return Floor, nil
	}
	return floor(100 * (1 - fS/fB)), nil
}

// ProductivityGain is 100 * (TP_S - TP_B)/TP_B with TP_c the summed grades
// over the summed total times. Not floored.
func ProductivityGain(ts *TaskSamples) (float64, error) {
	if err := requireBoth(ts, MetricProductivityGain); err != nil {
		return 0, err
	}

	throughput := func(cs *ConditionSamples) (float64, error) {
		times := floats.Sum(cs.TotalTimes())
		if times == 0 {
			return 0, &ir.UndefinedMetricError{
				Task:   ts.Task,
				Metric: MetricProductivityGain,
				Reason: fmt.Sprintf("%s total time sums to zero", cs.Condition),
			}
		}
		return floats.Sum(cs.Grades()) / times, nil
	}

	tpS, err := throughput(ts.Prototype)
	if err != nil {
		return 0, err
	}
	tpB, err := throughput(ts.Baseline)
	if err != nil {
		return 0, err
	}
	if tpB == 0 {
		return 0, &ir.UndefinedMetricError{
			Task:   ts.Task,
			Metric: MetricProductivityGain,
			Reason: "baseline productivity is zero",
		}
	}
	return 100 * (tpS - tpB) / tpB, nil
}
