package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kmeval/internal/report"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

type evaluateResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
	Data   struct {
		Report  report.Document `json:"report"`
		Skipped []LoadIssue     `json:"skipped"`
		Output  string          `json:"output"`
	} `json:"data"`
	Error *CLIError `json:"error"`
}

func TestEvaluate_CleanDirectory(t *testing.T) {
	raw := writeRawDir(t)
	metricsPath := filepath.Join(t.TempDir(), "metrics.csv")

	stdout, err := execute(t, "evaluate", raw, "--output", metricsPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Tasks evaluated (1, alpha 0.05)")
	assert.Contains(t, stdout, "Result: OK")
	assert.Contains(t, stdout, "Metrics written to "+metricsPath)

	lines := readLines(t, metricsPath)
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(report.MetricsHeader(true), ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "T1,"))
}

func TestEvaluate_JSONReport(t *testing.T) {
	raw := writeRawDir(t)
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "report.json")

	stdout, err := execute(t, "--format", "json", "evaluate", raw,
		"-o", filepath.Join(dir, "metrics.csv"), "--report", reportPath, "--alpha", "0.1")
	require.NoError(t, err)

	var resp evaluateResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, resp.RunID, resp.Data.Report.RunID)
	assert.Equal(t, 0.1, resp.Data.Report.SignificanceLevel)
	assert.Equal(t, 6, resp.Data.Report.Outcomes)
	require.Len(t, resp.Data.Report.Tasks, 1)
	assert.Empty(t, resp.Data.Skipped)

	saved, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.JSONEq(t, stdout, string(saved), "the report file holds the printed report")
}

func TestEvaluate_DataProblemsExitFailure(t *testing.T) {
	raw := writeRawDir(t)
	// U7's log skips task_execution; U8's outcome line fails the schema.
	writeFile(t, raw, "U7_prototype_T1.json", outcomeJSON("U7", "T1", "prototype", 50, 0, 95))
	writeFile(t, raw, "U7_prototype_T1_events.jsonl",
		eventJSON("U7", "T1", "prototype", "task_initialized", fixtureStart)+"\n"+
			eventJSON("U7", "T1", "prototype", "task_conclusion", fixtureStart.Add(50e9))+"\n")
	writeFile(t, raw, "broken.json", `{"subject_id": "U8"}`)
	metricsPath := filepath.Join(t.TempDir(), "metrics.csv")

	stdout, err := execute(t, "--format", "json", "evaluate", raw, "-o", metricsPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp evaluateResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalid, resp.Error.Code)

	require.Len(t, resp.Data.Report.ValidationErrors, 1)
	assert.Equal(t, "V004", resp.Data.Report.ValidationErrors[0].Code)
	require.NotEmpty(t, resp.Data.Skipped)
	assert.Contains(t, resp.Data.Skipped[0].File, "broken.json")

	// Metrics are still computed, U7 included through its declared outcome.
	lines := readLines(t, metricsPath)
	require.Len(t, lines, 2)
	require.Len(t, resp.Data.Report.Tasks, 1)
	assert.Equal(t, 4, resp.Data.Report.Tasks[0].PrototypeN)
}

func TestEvaluate_ConfigAndFlags(t *testing.T) {
	raw := writeRawDir(t)
	dir := t.TempDir()
	cfg := writeFile(t, dir, "kmeval.yaml", "significance_level: 0.01\ntolerance: 2\nworkers: 1\n")

	stdout, err := execute(t, "--format", "json", "--config", cfg, "evaluate", raw,
		"-o", filepath.Join(dir, "metrics.csv"), "--tolerance", "5")
	require.NoError(t, err)

	var resp evaluateResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, 0.01, resp.Data.Report.SignificanceLevel, "file value kept")
	assert.Equal(t, 5.0, resp.Data.Report.Tolerance, "flag overrides file")
}

func TestEvaluate_MissingMetadata(t *testing.T) {
	raw := writeRawDir(t)
	require.NoError(t, os.Remove(filepath.Join(raw, "task_metadata.csv")))

	_, err := execute(t, "evaluate", raw, "-o", filepath.Join(t.TempDir(), "metrics.csv"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNoMetadata)
}

func TestEvaluate_RefusesToOverwrite(t *testing.T) {
	raw := writeRawDir(t)
	metricsPath := writeFile(t, t.TempDir(), "metrics.csv", "old\n")

	_, err := execute(t, "evaluate", raw, "-o", metricsPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, []string{"old"}, readLines(t, metricsPath))
}

func TestEvaluate_RequiresInput(t *testing.T) {
	_, err := execute(t, "evaluate", "-o", filepath.Join(t.TempDir(), "metrics.csv"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeUsage)
}

func TestEvaluate_FromDatabaseRecordsRun(t *testing.T) {
	raw := writeRawDir(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "kmeval.db")

	_, err := execute(t, "merge", raw, "-o", filepath.Join(dir, "merged"), "--db", dbPath)
	require.NoError(t, err)

	stdout, err := execute(t, "--format", "json", "evaluate", "--db", dbPath, "-o", filepath.Join(dir, "metrics.csv"))
	require.NoError(t, err)

	var resp evaluateResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, dbPath, resp.Data.Report.Input)
	require.Len(t, resp.Data.Report.Tasks, 1)

	stdout, err = execute(t, "--format", "json", "runs", "--db", dbPath)
	require.NoError(t, err)
	var runs struct {
		Data []RunEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &runs))
	require.Len(t, runs.Data, 1)
	assert.Equal(t, resp.RunID, runs.Data[0].ID)
}

func TestEvaluate_MissingDatabase(t *testing.T) {
	_, err := execute(t, "evaluate", "--db", filepath.Join(t.TempDir(), "none.db"), "-o", filepath.Join(t.TempDir(), "m.csv"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestEvaluate_MetricsFile(t *testing.T) {
	raw := writeRawDir(t)
	dir := t.TempDir()
	metricsFile := filepath.Join(dir, "kmeval.prom")

	_, err := execute(t, "evaluate", raw, "-o", filepath.Join(dir, "metrics.csv"), "--metrics-file", metricsFile)
	require.NoError(t, err)

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kmeval_tasks_evaluated_total 1")
	assert.Contains(t, string(data), "kmeval_last_success_timestamp_seconds")
}
