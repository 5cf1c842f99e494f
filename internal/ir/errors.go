package ir

import (
	"errors"
	"fmt"
)

// InsufficientDataError reports a computation that could not run because a
// sample, a condition, or a counterpart dataset is missing.
//
// Scope is the smallest unit the error applies to:
//   - Key set: one subject-task (e.g. outcome without events)
//   - Task set, Key nil: one task's metric or test
type InsufficientDataError struct {
	// Key is set when the error is scoped to one subject-task.
	Key *Key

	// Task identifies the task (always set).
	Task ID

	// Condition names the condition lacking data, if any.
	Condition Condition

	// Metric names the omitted metric or test, if any.
	Metric string

	// Reason is a human-readable description.
	Reason string
}

// Error implements the error interface.
func (e *InsufficientDataError) Error() string {
	var scope string
	switch {
	case e.Key != nil:
		scope = e.Key.String()
	case e.Metric != "":
		scope = fmt.Sprintf("task=%s metric=%s", e.Task, e.Metric)
	default:
		scope = fmt.Sprintf("task=%s", e.Task)
	}
	if e.Condition != "" {
		return fmt.Sprintf("insufficient data (%s, condition=%s): %s", scope, e.Condition, e.Reason)
	}
	return fmt.Sprintf("insufficient data (%s): %s", scope, e.Reason)
}

// UndefinedMetricError reports a division by zero that no floor rule covers.
type UndefinedMetricError struct {
	// Key is set when a single record is the cause.
	Key *Key

	Task   ID
	Metric string
	Reason string
}

// Error implements the error interface.
func (e *UndefinedMetricError) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("undefined %s (%s): %s", e.Metric, e.Key, e.Reason)
	}
	return fmt.Sprintf("undefined %s (task=%s): %s", e.Metric, e.Task, e.Reason)
}

// IsInsufficientData returns true if err is or wraps an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var ie *InsufficientDataError
	return errors.As(err, &ie)
}

// IsUndefinedMetric returns true if err is or wraps an UndefinedMetricError.
func IsUndefinedMetric(err error) bool {
	var ue *UndefinedMetricError
	return errors.As(err, &ue)
}
