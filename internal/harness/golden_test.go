package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kmeval/internal/ir"
)

func TestRunWithGolden_ScenarioD(t *testing.T) {
	result, err := RunWithGolden(t, loadTestScenario(t, "scenario_d"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
}

func TestSnapshot_EmptySectionsSerializeAsArrays(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	s.Participants = s.Participants[:1]
	s.Participants[0].Steps = nil

	result, err := Run(t.Context(), s)
	require.NoError(t, err)

	data, err := ir.MarshalCanonical(NewSnapshot("empty", result.Report))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"validation_errors":[]`)
	assert.Contains(t, string(data), `"warnings":[]`)
}

func TestCanonicalJSONDeterminism(t *testing.T) {
	result, err := Run(t.Context(), loadTestScenario(t, "reconciliation"))
	require.NoError(t, err)

	snap := NewSnapshot("reconciliation", result.Report)
	var outputs []string
	for range 10 {
		data, err := ir.MarshalCanonical(snap)
		require.NoError(t, err)
		outputs = append(outputs, string(data))
	}
	for i := 1; i < len(outputs); i++ {
		assert.Equal(t, outputs[0], outputs[i])
	}
	assert.Contains(t, outputs[0], `{"field":"task_total_time","key":"R1_prototype_T1"}`)
}
