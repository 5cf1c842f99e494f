package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()

	r.Merged("outcome", 12)
	r.Merged("event_log", 10)
	r.Identical("outcome", 2)
	r.Conflict("event_log")
	r.ValidationError("V003")
	r.ValidationError("V003")
	r.Warning("task_total_time")
	r.Omission("task")
	r.TaskEvaluated()

	assert.Equal(t, 12.0, testutil.ToFloat64(r.recordsMerged.WithLabelValues("outcome")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.duplicates.WithLabelValues("outcome", "identical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.duplicates.WithLabelValues("event_log", "conflict")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.validationErrors.WithLabelValues("V003")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tasksEvaluated))
}

func TestRecordersAreIndependent(t *testing.T) {
	a := NewRecorder()
	b := NewRecorder()

	a.TaskEvaluated()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.tasksEvaluated))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.tasksEvaluated))
}

func TestFinish(t *testing.T) {
	r := NewRecorder()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	r.Finish(start, start.Add(1500*time.Millisecond))

	assert.Equal(t, 1.5, testutil.ToFloat64(r.runDuration))
	assert.Equal(t, float64(start.Unix()+1), testutil.ToFloat64(r.lastSuccess))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.Omission("key")
	r.TaskEvaluated()

	path := filepath.Join(t.TempDir(), "kmeval.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, "# TYPE kmeval_tasks_evaluated_total counter")
	assert.Contains(t, out, "kmeval_tasks_evaluated_total 1")
	assert.Contains(t, out, `kmeval_omissions_total{scope="key"} 1`)
	assert.False(t, strings.HasPrefix(out, "\n"))
}
