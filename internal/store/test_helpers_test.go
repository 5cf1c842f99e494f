package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/testutil"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestLog creates a valid four-event log for key read from source.
func createTestLog(key ir.Key, source string) ir.EventLog {
	return testutil.Log(key, source, testutil.Events(key,
		testutil.Step{State: ir.StateTaskInitialized, Seconds: 5},
		testutil.Step{State: ir.StateTaskExecution, Seconds: 30},
		testutil.Step{State: ir.StateKMPull, Seconds: 10},
		testutil.Step{State: ir.StateTaskConclusion},
	))
}
