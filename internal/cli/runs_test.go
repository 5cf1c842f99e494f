package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// evaluatedDatabase merges the raw fixture into a database and records one
// evaluation, returning the database path and run ID.
func evaluatedDatabase(t *testing.T) (string, string) {
	t.Helper()
	raw := writeRawDir(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "kmeval.db")

	_, err := execute(t, "merge", raw, "-o", filepath.Join(dir, "merged"), "--db", dbPath)
	require.NoError(t, err)

	stdout, err := execute(t, "--format", "json", "evaluate", "--db", dbPath, "-o", filepath.Join(dir, "metrics.csv"))
	require.NoError(t, err)

	var resp evaluateResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	return dbPath, resp.RunID
}

func TestRuns_List(t *testing.T) {
	dbPath, runID := evaluatedDatabase(t)

	stdout, err := execute(t, "runs", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "RUN ID")
	assert.Contains(t, stdout, runID)
	assert.Contains(t, stdout, dbPath)
}

func TestRuns_ListEmpty(t *testing.T) {
	raw := writeRawDir(t)
	dbPath := filepath.Join(t.TempDir(), "kmeval.db")
	_, err := execute(t, "merge", raw, "-o", filepath.Join(t.TempDir(), "merged"), "--db", dbPath)
	require.NoError(t, err)

	stdout, err := execute(t, "runs", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No runs recorded")
}

func TestRuns_Show(t *testing.T) {
	dbPath, runID := evaluatedDatabase(t)

	stdout, err := execute(t, "--format", "json", "runs", "--db", dbPath, runID)
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunDetail `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, runID, resp.Data.Run.ID)
	assert.Equal(t, 0.05, resp.Data.Run.SignificanceLevel)
	require.Len(t, resp.Data.Tasks, 1)
	assert.EqualValues(t, "T1", resp.Data.Tasks[0].Task)
	assert.Equal(t, 3, resp.Data.Tasks[0].PrototypeN)

	text, err := execute(t, "runs", "--db", dbPath, runID)
	require.NoError(t, err)
	assert.Contains(t, text, "Run "+runID)
	assert.Contains(t, text, "T1: prototype n=3, baseline n=3")
}

func TestRuns_UnknownRun(t *testing.T) {
	dbPath, _ := evaluatedDatabase(t)

	_, err := execute(t, "runs", "--db", dbPath, "no-such-run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "run not found")
}

func TestRuns_RequiresDatabase(t *testing.T) {
	_, err := execute(t, "runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)
}
