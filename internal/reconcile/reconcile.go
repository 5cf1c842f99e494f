// Package reconcile cross-checks declared outcome durations against the
// durations derived from event timestamps.
//
// Mismatches are warnings, never failures. Neither dataset is modified:
// metrics always use the declared values.
package reconcile

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/statemachine"
)

// Config controls reconciliation.
type Config struct {
	// Tolerance is the largest absolute difference in seconds that is not
	// reported. Zero reports any difference.
	Tolerance float64
}

// DefaultConfig returns the zero-tolerance configuration.
func DefaultConfig() Config {
	return Config{Tolerance: 0}
}

// Field names a reconciled duration.
type Field string

const (
	FieldTotal Field = "task_total_time"
	FieldPush  Field = "km_push_total_time"
	FieldPull  Field = "km_pull_total_time"
)

// ReconciliationWarning reports one declared/derived mismatch.
type ReconciliationWarning struct {
	Key      ir.Key
	Field    Field
	Declared float64
	Derived  float64
}

// Delta is declared minus derived, in seconds.
func (w ReconciliationWarning) Delta() float64 {
	return w.Declared - w.Derived
}

// String renders the warning for reports.
func (w ReconciliationWarning) String() string {
	return fmt.Sprintf("%s: %s declared %g, derived %g (difference %g s)",
		w.Key, w.Field, w.Declared, w.Derived, w.Delta())
}

// Result is the reconciliation outcome.
type Result struct {
	Warnings []ReconciliationWarning

	// Unmatched lists subject-tasks present in only one dataset.
	Unmatched []*ir.InsufficientDataError
}

// Reconcile compares every outcome with the walk for the same key.
//
// logs is the consolidated event dataset and walks holds the sequences that
// passed validation. A key with an event log but no walk failed validation
// and is skipped silently since its ValidationError is already reported.
func Reconcile(cfg Config, outcomes []ir.OutcomeRecord, logs []ir.EventLog, walks map[ir.Key]*statemachine.Walk) *Result {
	res := &Result{}

	hasLog := make(map[ir.Key]bool, len(logs))
	for _, l := range logs {
		hasLog[l.Key] = true
	}
	hasOutcome := make(map[ir.Key]bool, len(outcomes))

	sorted := append([]ir.OutcomeRecord(nil), outcomes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key().Less(sorted[j].Key()) })

	for _, r := range sorted {
		k := r.Key()
		hasOutcome[k] = true
		if !hasLog[k] {
			res.Unmatched = append(res.Unmatched, unmatched(k, "outcome record has no event log"))
			continue
		}
		w, ok := walks[k]
		if !ok {
			continue
		}
		res.Warnings = append(res.Warnings, compare(cfg, r, w)...)
	}

	var orphanLogs []ir.Key
	for k := range hasLog {
		if !hasOutcome[k] {
			orphanLogs = append(orphanLogs, k)
		}
	}
	sort.Slice(orphanLogs, func(i, j int) bool { return orphanLogs[i].Less(orphanLogs[j]) })
	for _, k := range orphanLogs {
		res.Unmatched = append(res.Unmatched, unmatched(k, "event log has no outcome record"))
	}

	return res
}

func compare(cfg Config, r ir.OutcomeRecord, w *statemachine.Walk) []ReconciliationWarning {
	checks := []struct {
		field    Field
		declared float64
		derived  float64
	}{
		{FieldTotal, r.TaskTotalTime, w.Total()},
		{FieldPush, r.KMPushTotalTime, w.Push()},
		{FieldPull, r.KMPullTotalTime, w.Pull()},
	}

	var out []ReconciliationWarning
	for _, c := range checks {
		if math.Abs(c.declared-c.derived) > cfg.Tolerance {
			out = append(out, ReconciliationWarning{Key: r.Key(), Field: c.field, Declared: c.declared, Derived: c.derived})
		}
	}
	return out
}

func unmatched(k ir.Key, reason string) *ir.InsufficientDataError {
	key := k
	return &ir.InsufficientDataError{Key: &key, Task: k.Task, Condition: k.Condition, Reason: reason}
}

// Log writes every warning and unmatched subject-task at WARN level.
func (r *Result) Log(logger *slog.Logger) {
	for _, w := range r.Warnings {
		logger.Warn("duration mismatch",
			"key", w.Key.String(),
			"field", string(w.Field),
			"declared", w.Declared,
			"derived", w.Derived,
			"delta", w.Delta())
	}
	for _, u := range r.Unmatched {
		logger.Warn("subject-task skipped", "key", u.Key.String(), "reason", u.Reason)
	}
}
