package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_Scenarios(t *testing.T) {
	for _, name := range []string{
		"scenario_a",
		"scenario_b",
		"scenario_c",
		"scenario_d",
		"reconciliation",
		"clear_improvement",
	} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(context.Background(), loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
		})
	}
}

func TestRun_MinimalScenario(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.True(t, result.Pass, "assertion failures: %v", result.Errors)

	r := result.Report
	assert.Equal(t, "minimal", r.Input)
	assert.Equal(t, 2, r.Outcomes)
	assert.Equal(t, 1, r.EventLogs)
	assert.True(t, r.HasPassingScore)
	assert.Empty(t, r.Warnings)
	assert.False(t, r.Failed())
}

func TestRun_FailedAssertionsRecorded(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	s.Assertions = []Assertion{
		{Type: AssertCount, Section: SectionTasks, Count: 1},
		{Type: AssertCount, Section: SectionWarnings, Count: 3},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "assertions[1]:")
	assert.Contains(t, result.Errors[0], "Expected: 3 warnings")
}

func TestRun_Deterministic(t *testing.T) {
	s := loadTestScenario(t, "scenario_d")

	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, first.Report.RunID, second.Report.RunID)
	assert.Equal(t, first.Report.StartedAt, second.Report.StartedAt)
	assert.Equal(t, NewSnapshot(s.Name, first.Report), NewSnapshot(s.Name, second.Report))
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, loadTestScenario(t, "clear_improvement"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
