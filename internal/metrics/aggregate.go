// Package metrics computes the per-task comparative metrics between the
// Prototype and Baseline conditions.
//
// All metrics are percentages computed from declared outcome values. The
// floored metrics report exactly -100 when the raw value would fall below
// -100 or the baseline denominator is zero. Nothing is clamped above.
package metrics

import (
	"fmt"
	"sort"

	"github.com/roach88/kmeval/internal/ir"
)

// ConditionSamples is the derived aggregate for one task under one
// condition. It is rebuilt on every run and never persisted.
type ConditionSamples struct {
	Condition ir.Condition

	// Records are the outcomes for this task and condition, sorted by subject.
	Records []ir.OutcomeRecord

	// KMFractions holds km_time/total_time for every record with a
	// positive total time.
	KMFractions []float64

	// Excluded lists records that could not contribute a KM fraction.
	Excluded []*ir.UndefinedMetricError
}

// N is the number of participants.
func (c *ConditionSamples) N() int {
	return len(c.Records)
}

// TotalTimes returns every declared task_total_time.
func (c *ConditionSamples) TotalTimes() []float64 {
	out := make([]float64, len(c.Records))
	for i, r := range c.Records {
		out[i] = r.TaskTotalTime
	}
	return out
}

// Grades returns every declared task_grade.
func (c *ConditionSamples) Grades() []float64 {
	out := make([]float64, len(c.Records))
	for i, r := range c.Records {
		out[i] = r.TaskGrade
	}
	return out
}

// TaskSamples splits one task's outcomes by condition.
type TaskSamples struct {
	Task      ir.ID
	Prototype *ConditionSamples
	Baseline  *ConditionSamples
}

// Condition returns the samples for c.
func (t *TaskSamples) Condition(c ir.Condition) *ConditionSamples {
	if c == ir.Prototype {
		return t.Prototype
	}
	return t.Baseline
}

// Aggregate groups outcomes by task and condition. The result is sorted
// by task; both conditions are always present, possibly empty.
func Aggregate(outcomes []ir.OutcomeRecord) []*TaskSamples {
	byTask := make(map[ir.ID]*TaskSamples)
	for _, r := range outcomes {
		ts, ok := byTask[r.TaskID]
		if !ok {
			ts = &TaskSamples{
				Task:      r.TaskID,
				Prototype: &ConditionSamples{Condition: ir.Prototype},
				Baseline:  &ConditionSamples{Condition: ir.Baseline},
			}
			byTask[r.TaskID] = ts
		}
		if !r.Condition.Valid() {
			continue
		}
		cs := ts.Condition(r.Condition)
		cs.Records = append(cs.Records, r)
	}

	out := make([]*TaskSamples, 0, len(byTask))
	for _, ts := range byTask {
		for _, cs := range []*ConditionSamples{ts.Prototype, ts.Baseline} {
			sort.SliceStable(cs.Records, func(i, j int) bool { return cs.Records[i].SubjectID.Less(cs.Records[j].SubjectID) })
			cs.derive()
		}
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task.Less(out[j].Task) })
	return out
}

// derive fills KMFractions and Excluded from Records.
func (c *ConditionSamples) derive() {
	c.KMFractions, c.Excluded = nil, nil
	for _, r := range c.Records {
		if r.TaskTotalTime <= 0 {
			k := r.Key()
			c.Excluded = append(c.Excluded, &ir.UndefinedMetricError{
				Key:    &k,
				Task:   r.TaskID,
				Metric: MetricKMTimeReduction,
				Reason: fmt.Sprintf("task_total_time is %g", r.TaskTotalTime),
			})
			continue
		}
		c.KMFractions = append(c.KMFractions, r.KMTime()/r.TaskTotalTime)
	}
}

// WithinMaximum drops every record whose task_grade exceeds maxScore and
// returns the remaining samples with one error per dropped record. Such a
// record breaks the 0 <= grade <= maximum invariant and is left out of
// every metric and test. ts is not modified; when nothing is dropped or
// maxScore is not positive, ts itself is returned.
func (t *TaskSamples) WithinMaximum(maxScore float64) (*TaskSamples, []*ir.UndefinedMetricError) {
	if maxScore <= 0 {
		return t, nil
	}

	var dropped []*ir.UndefinedMetricError
	filter := func(cs *ConditionSamples) *ConditionSamples {
		kept := &ConditionSamples{Condition: cs.Condition}
		for _, r := range cs.Records {
			if r.TaskGrade > maxScore {
				k := r.Key()
				dropped = append(dropped, &ir.UndefinedMetricError{
					Key:    &k,
					Task:   r.TaskID,
					Metric: MetricAll,
					Reason: fmt.Sprintf("task_grade %g exceeds task_maximum_score %g", r.TaskGrade, maxScore),
				})
				continue
			}
			kept.Records = append(kept.Records, r)
		}
		kept.derive()
		return kept
	}

	out := &TaskSamples{Task: t.Task, Prototype: filter(t.Prototype), Baseline: filter(t.Baseline)}
	if len(dropped) == 0 {
		return t, nil
	}
	return out, dropped
}
