package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

var fixtureStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func outcomeJSON(subject, task, cond string, total, pull, grade float64) string {
	return fmt.Sprintf(`{"subject_id": %q, "condition": %q, "task_id": %q, `+
		`"task_start_time": "2024-05-01T12:00:00Z", "task_total_time": %g, `+
		`"km_pull_total_time": %g, "km_push_total_time": 0, "task_grade": %g, `+
		`"corpus_knowledge_nugget_count": 0, "expert_captured_nugget_count": 0, `+
		`"nugget_content": [], "task_timeout": false}`, subject, cond, task, total, pull, grade)
}

func eventJSON(subject, task, cond, state string, at time.Time) string {
	return fmt.Sprintf(`{"subject_id": %q, "condition": %q, "task_id": %q, "utc_timestamp": %q, "state_id": %q}`,
		subject, cond, task, at.Format(time.RFC3339), state)
}

// writeParticipant writes an outcome file and a matching event log whose
// derived durations equal the declared ones.
func writeParticipant(t *testing.T, dir, subject, task, cond string, total, pull, grade float64) {
	t.Helper()
	at := func(s float64) time.Time { return fixtureStart.Add(time.Duration(s * float64(time.Second))) }

	events := eventJSON(subject, task, cond, "task_initialized", at(0)) + "\n" +
		eventJSON(subject, task, cond, "task_execution", at(0)) + "\n"
	if pull > 0 {
		events += eventJSON(subject, task, cond, "km_pull_activity", at(total-pull)) + "\n"
	}
	events += eventJSON(subject, task, cond, "task_conclusion", at(total)) + "\n"

	name := fmt.Sprintf("%s_%s_%s", subject, cond, task)
	writeFile(t, dir, name+".json", outcomeJSON(subject, task, cond, total, pull, grade))
	writeFile(t, dir, name+"_events.jsonl", events)
}

const metadataCSV = "task_id,task_optimal_time_in_seconds,task_maximum_score,task_passing_score\nT1,30,100,70\n"

// writeRawDir writes a clean experiment: three prototype and three baseline
// participants on task T1, with task metadata.
func writeRawDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeParticipant(t, dir, "U1", "T1", "prototype", 60, 10, 90)
	writeParticipant(t, dir, "U2", "T1", "prototype", 70, 10, 80)
	writeParticipant(t, dir, "U3", "T1", "prototype", 80, 10, 85)
	writeParticipant(t, dir, "U4", "T1", "baseline", 100, 0, 60)
	writeParticipant(t, dir, "U5", "T1", "baseline", 110, 0, 70)
	writeParticipant(t, dir, "U6", "T1", "baseline", 120, 0, 65)
	writeFile(t, dir, "task_metadata.csv", metadataCSV)
	return dir
}

// execute runs the root command with args and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	return executeCommand(cmd, args...)
}

func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
