package metrics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/testutil"
)

// task builds a single-task TaskSamples from outcome records.
func task(t *testing.T, records ...ir.OutcomeRecord) *TaskSamples {
	t.Helper()
	all := Aggregate(records)
	require.Len(t, all, 1)
	return all[0]
}

func outcome(subject string, c ir.Condition, total, km, grade float64) ir.OutcomeRecord {
	return testutil.Outcome(subject, "T1", c).Times(total, km, 0).Grade(grade).Build()
}

func TestKMTimeReduction_Halved(t *testing.T) {
	ts := task(t,
		outcome("B1", ir.Baseline, 100, 40, 0),
		outcome("P1", ir.Prototype, 100, 20, 0),
	)
	v, err := KMTimeReduction(ts)
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)
}

func TestKMTimeReduction_TripledIsFloored(t *testing.T) {
	ts := task(t,
		outcome("B1", ir.Baseline, 100, 10, 0),
		outcome("P1", ir.Prototype, 100, 30, 0),
	)
	v, err := KMTimeReduction(ts)
	require.NoError(t, err)
	assert.Equal(t, -100.0, v)
}

func TestKMTimeReduction_ZeroBaselineIsFloored(t *testing.T) {
	tests := []struct {
		name    string
		protoKM float64
	}{
		{"prototype uses KM", 10},
		{"neither uses KM", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := task(t,
				outcome("B1", ir.Baseline, 100, 0, 0),
				outcome("P1", ir.Prototype, 100, tt.protoKM, 0),
			)
			v, err := KMTimeReduction(ts)
			require.NoError(t, err)
			assert.Equal(t, -100.0, v)
		})
	}
}

func TestKMTimeReduction_AveragesFractions(t *testing.T) {
	ts := task(t,
		outcome("B1", ir.Baseline, 100, 20, 0),
		outcome("B2", ir.Baseline, 200, 120, 0),
		outcome("P1", ir.Prototype, 50, 5, 0),
		outcome("P2", ir.Prototype, 100, 10, 0),
	)
	// t_B = (0.2 + 0.6)/2 = 0.4, t_S = 0.1
	v, err := KMTimeReduction(ts)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, v, 1e-9)
}

func TestKMTimeReduction_Monotonic(t *testing.T) {
	prev := -1000.0
	for km := 40.0; km >= 0; km -= 5 {
		ts := task(t,
			outcome("B1", ir.Baseline, 100, 30, 0),
			outcome("P1", ir.Prototype, 100, km, 0),
		)
		v, err := KMTimeReduction(ts)
		require.NoError(t, err)
		if v > Floor && prev > Floor {
			assert.Greater(t, v, prev, "km=%g", km)
		}
		assert.GreaterOrEqual(t, v, prev, "km=%g", km)
		prev = v
	}
	assert.Equal(t, 100.0, prev)
}

func TestKMTimeReduction_ExcludesNonPositiveTotals(t *testing.T) {
	ts := task(t,
		outcome("B1", ir.Baseline, 100, 40, 0),
		outcome("B2", ir.Baseline, 0, 0, 0),
		outcome("P1", ir.Prototype, 100, 20, 0),
	)
	require.Len(t, ts.Baseline.Excluded, 1)
	assert.Equal(t, ir.ID("B2"), ts.Baseline.Excluded[0].Key.Subject)

	v, err := KMTimeReduction(ts)
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)
}

func TestKMTimeReduction_NoUsableFractions(t *testing.T) {
	ts := task(t,
		outcome("B1", ir.Baseline, 0, 0, 0),
		outcome("P1", ir.Prototype, 100, 20, 0),
	)
	_, err := KMTimeReduction(ts)
	var ie *ir.InsufficientDataError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ir.Baseline, ie.Condition)
}

func TestOptimalTimeProximity(t *testing.T) {
	tests := []struct {
		name    string
		proto   float64
		base    float64
		optimal float64
		want    float64
	}{
		{"halfway to expert", 100, 150, 50, 50},
		{"reaches expert", 50, 150, 50, 100},
		{"faster than expert is not clamped", 25, 150, 50, 125},
		{"no change", 150, 150, 50, 0},
		{"slower beyond floor", 400, 150, 50, -100},
		{"baseline equals expert", 100, 50, 50, -100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := task(t,
				outcome("B1", ir.Baseline, tt.base, 0, 0),
				outcome("P1", ir.Prototype, tt.proto, 0, 0),
			)
			v, err := OptimalTimeProximity(ts, tt.optimal)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, v, 1e-9)
		})
	}
}

func TestFailureRateReduction(t *testing.T) {
	tests := []struct {
		name  string
		base  float64
		proto float64
		want  float64
	}{
		{"quarter of the failures", 80, 95, 75},
		{"no change", 80, 80, 0},
		{"perfect prototype", 80, 100, 100},
		{"three times the failures", 90, 70, -100},
		{"perfect baseline", 100, 90, -100},
		{"both perfect", 100, 100, -100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := task(t,
				outcome("B1", ir.Baseline, 100, 0, tt.base),
				outcome("P1", ir.Prototype, 100, 0, tt.proto),
			)
			v, err := FailureRateReduction(ts, 100)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, v, 1e-9)
		})
	}
}

func TestFailureRateReduction_InvalidMaximum(t *testing.T) {
	ts := task(t,
		outcome("B1", ir.Baseline, 100, 0, 80),
		outcome("P1", ir.Prototype, 100, 0, 90),
	)
	_, err := FailureRateReduction(ts, 0)
	assert.True(t, ir.IsUndefinedMetric(err))
}

func TestBinarizedFailureRateReduction(t *testing.T) {
	ts := task(t,
		outcome("B1", ir.Baseline, 100, 0, 80),
		outcome("B2", ir.Baseline, 100, 0, 50),
		outcome("B3", ir.Baseline, 100, 0, 40),
		outcome("P1", ir.Prototype, 100, 0, 90),
		outcome("P2", ir.Prototype, 100, 0, 60),
	)
	// Passing at 70: f_B = 2/3, f_S = 1/2.
	v, err := BinarizedFailureRateReduction(ts, 100, 70)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, v, 1e-9)

	assert.Equal(t, 60.0, ts.Prototype.Records[1].TaskGrade, "grades are not modified")
}

func TestProductivityGain(t *testing.T) {
	ts := task(t,
		outcome("B1", ir.Baseline, 200, 0, 80),
		outcome("P1", ir.Prototype, 100, 0, 90),
	)
	v, err := ProductivityGain(ts)
	require.NoError(t, err)
	assert.InDelta(t, 125.0, v, 1e-9, "values above 100 are not clamped")
}

func TestProductivityGain_Undefined(t *testing.T) {
	tests := []struct {
		name    string
		records []ir.OutcomeRecord
	}{
		{"zero baseline grades", []ir.OutcomeRecord{
			outcome("B1", ir.Baseline, 100, 0, 0),
			outcome("P1", ir.Prototype, 100, 0, 50),
		}},
		{"zero baseline time", []ir.OutcomeRecord{
			outcome("B1", ir.Baseline, 0, 0, 50),
			outcome("P1", ir.Prototype, 100, 0, 50),
		}},
		{"zero prototype time", []ir.OutcomeRecord{
			outcome("B1", ir.Baseline, 100, 0, 50),
			outcome("P1", ir.Prototype, 0, 0, 50),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ProductivityGain(task(t, tt.records...))
			var ue *ir.UndefinedMetricError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, MetricProductivityGain, ue.Metric)
			assert.Equal(t, ir.ID("T1"), ue.Task)
		})
	}
}

func TestMetrics_RequireBothConditions(t *testing.T) {
	ts := task(t, outcome("P1", ir.Prototype, 100, 20, 90))

	checks := map[string]func() (float64, error){
		MetricKMTimeReduction:      func() (float64, error) { return KMTimeReduction(ts) },
		MetricOptimalTimeProximity: func() (float64, error) { return OptimalTimeProximity(ts, 10) },
		MetricFailureRateReduction: func() (float64, error) { return FailureRateReduction(ts, 100) },
		MetricProductivityGain:     func() (float64, error) { return ProductivityGain(ts) },
		MetricBinarizedFailureRate: func() (float64, error) { return BinarizedFailureRateReduction(ts, 100, 50) },
	}
	for metric, fn := range checks {
		t.Run(metric, func(t *testing.T) {
			_, err := fn()
			var ie *ir.InsufficientDataError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, ir.Baseline, ie.Condition)
			assert.Equal(t, metric, ie.Metric)
		})
	}
}

func TestFloorInvariant(t *testing.T) {
	// Raw values far below -100 always report exactly -100.
	for _, factor := range []float64{2.01, 3, 10, 1000} {
		t.Run(fmt.Sprintf("factor %g", factor), func(t *testing.T) {
			ts := task(t,
				outcome("B1", ir.Baseline, 100, 1, 99),
				outcome("P1", ir.Prototype, 100*factor, factor, 99-factor),
			)
			a1, err := KMTimeReduction(ts)
			require.NoError(t, err)
			a2, err := OptimalTimeProximity(ts, 0)
			require.NoError(t, err)
			fr, err := FailureRateReduction(ts, 100)
			require.NoError(t, err)

			assert.GreaterOrEqual(t, a1, Floor)
			assert.Equal(t, Floor, a2)
			assert.Equal(t, Floor, fr)
		})
	}
}

func TestAggregate(t *testing.T) {
	tasks := Aggregate([]ir.OutcomeRecord{
		testutil.Outcome("U2", "T2", ir.Baseline).Times(10, 1, 1).Build(),
		testutil.Outcome("U1", "T1", ir.Prototype).Times(10, 1, 1).Build(),
		testutil.Outcome("U3", "T2", ir.Baseline).Times(10, 1, 1).Build(),
		testutil.Outcome("U1", "T2", ir.Baseline).Times(10, 1, 1).Build(),
	})

	require.Len(t, tasks, 2)
	assert.Equal(t, ir.ID("T1"), tasks[0].Task)
	assert.Equal(t, 1, tasks[0].Prototype.N())
	assert.Equal(t, 0, tasks[0].Baseline.N())

	t2 := tasks[1]
	require.Equal(t, 3, t2.Baseline.N())
	assert.Equal(t, ir.ID("U1"), t2.Baseline.Records[0].SubjectID)
	assert.Equal(t, []float64{0.2, 0.2, 0.2}, t2.Baseline.KMFractions)
}

func TestAggregate_NumericTaskOrder(t *testing.T) {
	tasks := Aggregate([]ir.OutcomeRecord{
		testutil.Outcome("10", "10", ir.Baseline).Times(10, 1, 1).Build(),
		testutil.Outcome("2", "2", ir.Baseline).Times(10, 1, 1).Build(),
		testutil.Outcome("10", "2", ir.Baseline).Times(10, 1, 1).Build(),
	})

	require.Len(t, tasks, 2)
	assert.Equal(t, ir.ID("2"), tasks[0].Task)
	assert.Equal(t, ir.ID("10"), tasks[1].Task)
	assert.Equal(t, ir.ID("2"), tasks[0].Baseline.Records[0].SubjectID)
}
