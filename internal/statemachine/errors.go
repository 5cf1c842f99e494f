package statemachine

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/kmeval/internal/ir"
)

// ErrorCode categorizes state machine violations.
type ErrorCode string

const (
	// CodeEmptySequence indicates a subject-task with no events.
	CodeEmptySequence ErrorCode = "V001"

	// CodeBadFirstState indicates the sequence does not start at task_initialized.
	CodeBadFirstState ErrorCode = "V002"

	// CodeBadLastState indicates the sequence does not end at task_conclusion.
	CodeBadLastState ErrorCode = "V003"

	// CodeDisallowedTransition indicates an adjacent pair outside the adjacency table.
	CodeDisallowedTransition ErrorCode = "V004"

	// CodeOutOfOrder indicates a timestamp earlier than its predecessor.
	CodeOutOfOrder ErrorCode = "V005"

	// CodeUnknownState indicates a state_id that is not one of the five states.
	CodeUnknownState ErrorCode = "V006"

	// CodeIncompleteSequence indicates lines of the subject-task were rejected at load.
	CodeIncompleteSequence ErrorCode = "V007"
)

// ValidationError reports a state machine violation for one subject-task.
//
// From/To and their timestamps identify the offending pair. For single-event
// violations (bad first/last state, unknown state) only To is set.
type ValidationError struct {
	Key     ir.Key
	Code    ErrorCode
	Index   int
	From    ir.StateID
	To      ir.StateID
	FromAt  time.Time
	ToAt    time.Time
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.From != "" {
		return fmt.Sprintf("%s: %s: %s (%s @ %s -> %s @ %s)",
			e.Code, e.Key, e.Message,
			e.From, e.FromAt.Format(time.RFC3339Nano),
			e.To, e.ToAt.Format(time.RFC3339Nano))
	}
	if e.To != "" {
		return fmt.Sprintf("%s: %s: %s (%s @ %s)", e.Code, e.Key, e.Message, e.To, e.ToAt.Format(time.RFC3339Nano))
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Key, e.Message)
}

// IsValidationError returns true if err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDisallowedTransition returns true if err is a V004 ValidationError.
func IsDisallowedTransition(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == CodeDisallowedTransition
	}
	return false
}
