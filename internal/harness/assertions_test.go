package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kmeval/internal/evaluate"
	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/metrics"
	"github.com/roach88/kmeval/internal/reconcile"
	"github.com/roach88/kmeval/internal/statemachine"
	"github.com/roach88/kmeval/internal/stats"
)

func ptr[T any](v T) *T { return &v }

func sampleReport() *evaluate.Report {
	key := ir.Key{Subject: "S2", Task: "T1", Condition: ir.Baseline}
	return &evaluate.Report{
		Tasks: []*metrics.TaskMetrics{{
			Task:                 "T1",
			PrototypeN:           3,
			BaselineN:            3,
			KMTimeReduction:      ptr(50.0),
			FailureRateReduction: ptr(75.0),
			TimeTest:             &stats.TestResult{PValue: 0.01, Significant: true},
		}},
		ValidationErrors: []*statemachine.ValidationError{
			{Key: key, Code: statemachine.CodeDisallowedTransition, Index: 1},
		},
		Warnings: []reconcile.ReconciliationWarning{
			{Key: key, Field: reconcile.FieldTotal, Declared: 100, Derived: 90},
		},
		Omissions: []evaluate.Omission{
			{Scope: evaluate.ScopeTask, Task: "T1", Metric: stats.NameMannWhitneyU, Reason: "1 observation(s), need at least 2"},
		},
	}
}

func TestAssertMetric(t *testing.T) {
	r := sampleReport()

	assert.NoError(t, check(r, Assertion{Type: AssertMetric, Task: "T1", Metric: metrics.MetricKMTimeReduction, Value: ptr(50.0)}))
	assert.NoError(t, check(r, Assertion{Type: AssertMetric, Task: "T1", Metric: metrics.MetricKMTimeReduction, Value: ptr(49.5), Within: 1}))
	assert.NoError(t, check(r, Assertion{Type: AssertMetric, Task: "T1", Metric: metrics.MetricProductivityGain, Omitted: true}))

	err := check(r, Assertion{Type: AssertMetric, Task: "T1", Metric: metrics.MetricKMTimeReduction, Value: ptr(40.0), Within: 1})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "50", ae.Actual)

	err = check(r, Assertion{Type: AssertMetric, Task: "T1", Metric: metrics.MetricProductivityGain, Value: ptr(1.0)})
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "omitted", ae.Actual)

	err = check(r, Assertion{Type: AssertMetric, Task: "T1", Metric: metrics.MetricFailureRateReduction, Omitted: true})
	require.Error(t, err)

	err = check(r, Assertion{Type: AssertMetric, Task: "T9", Metric: metrics.MetricKMTimeReduction, Value: ptr(50.0)})
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "task not evaluated", ae.Actual)
}

func TestAssertTest(t *testing.T) {
	r := sampleReport()

	assert.NoError(t, check(r, Assertion{Type: AssertTest, Task: "T1", Metric: stats.NameWelch, Significant: ptr(true)}))
	assert.NoError(t, check(r, Assertion{Type: AssertTest, Task: "T1", Metric: stats.NameMannWhitneyU, Omitted: true}))

	err := check(r, Assertion{Type: AssertTest, Task: "T1", Metric: stats.NameWelch, Significant: ptr(false)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "significant=true (p=0.01)")

	err = check(r, Assertion{Type: AssertTest, Task: "T1", Metric: stats.NameWelch, Omitted: true})
	require.Error(t, err)
}

func TestAssertOmission(t *testing.T) {
	r := sampleReport()

	assert.NoError(t, check(r, Assertion{Type: AssertOmission, Key: "T1"}))
	assert.NoError(t, check(r, Assertion{Type: AssertOmission, Key: "T1", Scope: "task", Metric: stats.NameMannWhitneyU}))

	err := check(r, Assertion{Type: AssertOmission, Key: "T1", Metric: stats.NameWelch})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	err = check(r, Assertion{Type: AssertOmission, Key: "T1", Scope: "subject_task"})
	require.Error(t, err)
}

func TestAssertValidationError(t *testing.T) {
	r := sampleReport()

	assert.NoError(t, check(r, Assertion{Type: AssertValidationError, Key: "S2_baseline_T1", Code: "V004"}))

	err := check(r, Assertion{Type: AssertValidationError, Key: "S2_baseline_T1", Code: "V001"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected with V004")

	err = check(r, Assertion{Type: AssertValidationError, Key: "S1_prototype_T1", Code: "V004"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log accepted")
}

func TestAssertWarning(t *testing.T) {
	r := sampleReport()

	assert.NoError(t, check(r, Assertion{Type: AssertWarning, Key: "S2_baseline_T1", Field: "task_total_time"}))

	err := check(r, Assertion{Type: AssertWarning, Key: "S2_baseline_T1", Field: "km_pull_total_time"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 warning(s), none matching")
}

func TestAssertCount(t *testing.T) {
	r := sampleReport()

	tests := []struct {
		section string
		count   int
	}{
		{SectionTasks, 1},
		{SectionConflicts, 0},
		{SectionValidationErrors, 1},
		{SectionWarnings, 1},
		{SectionOmissions, 1},
	}
	for _, tt := range tests {
		t.Run(tt.section, func(t *testing.T) {
			assert.NoError(t, check(r, Assertion{Type: AssertCount, Section: tt.section, Count: tt.count}))
			assert.Error(t, check(r, Assertion{Type: AssertCount, Section: tt.section, Count: tt.count + 1}))
		})
	}
}

func TestCheck_UnknownType(t *testing.T) {
	err := check(sampleReport(), Assertion{Type: "trace_contains"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown assertion type "trace_contains"`)
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertMetric,
		Expected: "T1 km = 50 ± 0",
		Actual:   "omitted",
		Omissions: []evaluate.Omission{
			{Scope: evaluate.ScopeTask, Task: "T1", Metric: stats.NameWelch, Reason: "1 observation(s), need at least 2"},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: metric")
	assert.Contains(t, msg, "Expected: T1 km = 50 ± 0")
	assert.Contains(t, msg, "Actual: omitted")
	assert.Contains(t, msg, "Omitted computations:")
	assert.Contains(t, msg, "[task] T1 welch_t_test: 1 observation(s), need at least 2")
}
