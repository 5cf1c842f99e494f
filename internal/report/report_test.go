package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kmeval/internal/evaluate"
	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/merge"
	"github.com/roach88/kmeval/internal/metrics"
	"github.com/roach88/kmeval/internal/reconcile"
	"github.com/roach88/kmeval/internal/statemachine"
	"github.com/roach88/kmeval/internal/stats"
	"github.com/roach88/kmeval/internal/testutil"
)

func ptr(v float64) *float64 { return &v }

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// sampleReport has one of everything a run can report.
func sampleReport() *evaluate.Report {
	unmatched := ir.Key{Subject: "U8", Task: "T1", Condition: ir.Baseline}
	return &evaluate.Report{
		RunID:             "run-1",
		Input:             "raw/",
		StartedAt:         testutil.Epoch,
		FinishedAt:        testutil.Epoch.Add(2 * time.Second),
		SignificanceLevel: 0.05,
		Outcomes:          6,
		EventLogs:         5,
		HasPassingScore:   true,
		Conflicts: []*merge.DuplicateKeyError{{
			Kind:    merge.KindOutcome,
			Key:     ir.Key{Subject: "U9", Task: "T1", Condition: ir.Prototype},
			Sources: []string{"a.json", "b.json"},
		}},
		ValidationErrors: []*statemachine.ValidationError{{
			Key:     ir.Key{Subject: "U4", Task: "T1", Condition: ir.Baseline},
			Code:    statemachine.CodeBadLastState,
			Index:   2,
			To:      ir.StateTaskExecution,
			ToAt:    testutil.Epoch.Add(30 * time.Second),
			Message: "sequence does not end at task_conclusion",
		}},
		Warnings: []reconcile.ReconciliationWarning{{
			Key:      ir.Key{Subject: "U1", Task: "T1", Condition: ir.Prototype},
			Field:    reconcile.FieldTotal,
			Declared: 61,
			Derived:  60,
		}},
		Tasks: []*metrics.TaskMetrics{{
			Task:                 "T1",
			PrototypeN:           3,
			BaselineN:            3,
			KMTimeReduction:      ptr(25.5),
			OptimalTimeProximity: ptr(-100),
			FailureRateReduction: ptr(12.5),
			BinarizedFailureRate: ptr(50),
			TimeTest:             &stats.TestResult{Statistic: -4.9, PValue: 0.004, DF: 4, Significant: true},
		}},
		Omissions: []evaluate.Omission{
			{Scope: evaluate.ScopeTask, Task: "T1", Metric: metrics.MetricProductivityGain, Reason: "zero baseline throughput"},
			{Scope: evaluate.ScopeTask, Task: "T1", Metric: stats.NameMannWhitneyU, Reason: "all grades tied"},
			{Scope: evaluate.ScopeSubjectTask, Key: &unmatched, Task: "T1", Condition: ir.Baseline, Metric: evaluate.MetricReconciliation, Reason: "outcome record has no event log"},
		},
	}
}

func TestWriteMetricsCSV_Golden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMetricsCSV(&buf, sampleReport()))

	newGoldie(t).Assert(t, "metrics_csv", buf.Bytes())
}

func TestWriteMetricsCSV_NoPassingScore(t *testing.T) {
	r := sampleReport()
	r.HasPassingScore = false

	var buf bytes.Buffer
	require.NoError(t, WriteMetricsCSV(&buf, r))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], metrics.MetricBinarizedFailureRate)
	assert.Equal(t, "T1,25.5,-100,12.5,,0.004,true,,", lines[1])
}

func TestWriteText_Golden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleReport()))

	newGoldie(t).Assert(t, "report_text", buf.Bytes())
}

func TestWriteText_Clean(t *testing.T) {
	r := &evaluate.Report{RunID: "run-2", Input: "dataset.db", SignificanceLevel: 0.1}

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, r))

	out := buf.String()
	assert.NotContains(t, out, "Validation errors")
	assert.NotContains(t, out, "Omitted computations")
	assert.Contains(t, out, "Tasks evaluated (0, alpha 0.1):")
	assert.True(t, strings.HasSuffix(out, "Result: OK\n"))
}

func TestWriteSummaryCSV_Golden(t *testing.T) {
	passing := 75.0
	meta := map[ir.ID]ir.TaskMetadata{
		"T1": {TaskID: "T1", OptimalTime: 30, MaximumScore: 100, PassingScore: &passing},
	}

	plain := testutil.Outcome("U1", "T1", ir.Prototype).Times(60, 10, 0).Grade(90).Build()

	rich := testutil.Outcome("U2", "T2", ir.Baseline).Times(120.5, 0, 4.25).Grade(55).Timeout().Build()
	rich.CorpusKnowledgeNuggetCount = 2
	rich.ExpertCapturedNuggetCount = 1
	rich.NuggetContent = []ir.Nugget{{Content: "use grep", Timestamp: testutil.Epoch.Add(time.Minute), Type: "corpus"}}
	rich.OptionalContent = json.RawMessage(`{"note": "x"}`)

	var buf bytes.Buffer
	require.NoError(t, WriteSummaryCSV(&buf, []ir.OutcomeRecord{plain, rich}, meta))

	newGoldie(t).Assert(t, "summary_csv", buf.Bytes())
}

func TestWriteOutcomesJSONL(t *testing.T) {
	outcomes := []ir.OutcomeRecord{
		testutil.Outcome("U1", "T1", ir.Prototype).Times(60, 10, 0).Build(),
		testutil.Outcome("U2", "T1", ir.Baseline).Times(90, 0, 0).Build(),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteOutcomesJSONL(&buf, outcomes))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	for i, line := range lines {
		var r ir.OutcomeRecord
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		assert.Equal(t, ir.MustOutcomeHash(outcomes[i]), ir.MustOutcomeHash(r), "line %d round-trips", i)
	}
	assert.True(t, strings.HasPrefix(lines[0], `{"condition":"prototype"`), "keys are sorted")
}

func TestWriteEventsJSONL(t *testing.T) {
	k1 := ir.Key{Subject: "U1", Task: "T1", Condition: ir.Prototype}
	k2 := ir.Key{Subject: "U2", Task: "T1", Condition: ir.Baseline}
	logs := []ir.EventLog{
		testutil.Log(k1, "a.jsonl", testutil.States(k1, ir.StateTaskInitialized, ir.StateTaskExecution, ir.StateTaskConclusion)),
		testutil.Log(k2, "b.jsonl", testutil.States(k2, ir.StateTaskInitialized, ir.StateTaskConclusion)),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteEventsJSONL(&buf, logs))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)

	var e ir.TransitionEvent
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &e))
	assert.Equal(t, k2, e.Key())
	assert.Equal(t, ir.StateTaskInitialized, e.StateID)
}

func TestNewDocument(t *testing.T) {
	doc := NewDocument(sampleReport())

	assert.True(t, doc.Failed)
	require.Len(t, doc.ValidationErrors, 1)
	assert.Equal(t, "V003", doc.ValidationErrors[0].Code)
	require.Len(t, doc.Warnings, 1)
	assert.Equal(t, 1.0, doc.Warnings[0].Delta)

	data, err := json.Marshal(NewDocument(&evaluate.Report{RunID: "empty"}))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, section := range []string{"conflicts", "validation_errors", "warnings", "tasks", "omissions"} {
		assert.Equal(t, []any{}, decoded[section], "%s encodes as []", section)
	}
}

func TestCreate_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	_, err := Create(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExists)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data), "existing file is untouched")
}

func TestCreate_MissingDirectory(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "missing", "metrics.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestWriteFile_RemovesPartialOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	err := WriteFile(path, func(f *os.File) error {
		f.WriteString("partial")
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
