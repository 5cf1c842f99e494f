package evaluate

import (
	"errors"
	"time"

	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/merge"
	"github.com/roach88/kmeval/internal/metrics"
	"github.com/roach88/kmeval/internal/reconcile"
	"github.com/roach88/kmeval/internal/statemachine"
)

// Scope names what an omission applies to.
type Scope string

const (
	// ScopeSubjectTask is one subject performing one task under one condition.
	ScopeSubjectTask Scope = "subject_task"

	// ScopeTask is one task's metric or test.
	ScopeTask Scope = "task"
)

// MetricAll marks an omission covering every metric of a task.
const MetricAll = metrics.MetricAll

// Omission is one computation that was skipped, with its reason.
type Omission struct {
	Scope Scope `json:"scope"`

	// Key is set for ScopeSubjectTask.
	Key *ir.Key `json:"key,omitempty"`

	Task      ir.ID        `json:"task_id"`
	Condition ir.Condition `json:"condition,omitempty"`
	Metric    string       `json:"metric,omitempty"`
	Reason    string       `json:"reason"`
}

// Subject renders the key or task the omission applies to.
func (o Omission) Subject() string {
	if o.Key != nil {
		return o.Key.String()
	}
	return string(o.Task)
}

// omissionFrom converts a domain error into an Omission. Errors of other
// types are reported against the task with their message as the reason.
func omissionFrom(task ir.ID, err error) Omission {
	var ie *ir.InsufficientDataError
	var ue *ir.UndefinedMetricError
	switch {
	case errors.As(err, &ie):
		o := Omission{Scope: ScopeTask, Key: ie.Key, Task: ie.Task, Condition: ie.Condition, Metric: ie.Metric, Reason: ie.Reason}
		if ie.Key != nil {
			o.Scope = ScopeSubjectTask
		}
		return o
	case errors.As(err, &ue):
		o := Omission{Scope: ScopeTask, Key: ue.Key, Task: ue.Task, Metric: ue.Metric, Reason: ue.Reason}
		if ue.Key != nil {
			o.Scope = ScopeSubjectTask
			o.Condition = ue.Key.Condition
		}
		return o
	default:
		return Omission{Scope: ScopeTask, Task: task, Reason: err.Error()}
	}
}

// Report is everything one run produced.
type Report struct {
	RunID      string
	Input      string
	StartedAt  time.Time
	FinishedAt time.Time

	Tolerance         float64
	SignificanceLevel float64

	// Outcomes and EventLogs count the merged dataset.
	Outcomes  int
	EventLogs int

	// HasPassingScore is true when any task has a passing score, so the
	// binarized failure-rate column is reported.
	HasPassingScore bool

	Conflicts        []*merge.DuplicateKeyError
	ValidationErrors []*statemachine.ValidationError
	Warnings         []reconcile.ReconciliationWarning
	Omissions        []Omission
	Tasks            []*metrics.TaskMetrics
}

// Failed reports whether the run found data problems: conflicting
// duplicates or event logs that failed validation.
func (r *Report) Failed() bool {
	return len(r.Conflicts) > 0 || len(r.ValidationErrors) > 0
}
