package statemachine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/kmeval/internal/ir"
)

// Walk is the result of replaying a valid sequence.
type Walk struct {
	Key   ir.Key
	Start time.Time
	End   time.Time

	// Durations holds seconds spent in each visited state. The terminal
	// state contributes zero.
	Durations map[ir.StateID]float64
}

// Total is the derived task duration in seconds (last event minus first).
func (w *Walk) Total() float64 {
	return w.End.Sub(w.Start).Seconds()
}

// Push is the derived cumulative km_push_activity duration.
func (w *Walk) Push() float64 {
	return w.Durations[ir.StateKMPush]
}

// Pull is the derived cumulative km_pull_activity duration.
func (w *Walk) Pull() float64 {
	return w.Durations[ir.StateKMPull]
}

// Validate replays events for key against the state machine.
//
// Events must already be in sequence order. The first violation found is
// returned as a *ValidationError and no Walk is produced.
func Validate(key ir.Key, events []ir.TransitionEvent) (*Walk, error) {
	if len(events) == 0 {
		return nil, &ValidationError{Key: key, Code: CodeEmptySequence, Message: "no transition events"}
	}

	first := events[0]
	if !first.StateID.Valid() {
		return nil, unknownState(key, 0, first)
	}
	if first.StateID != InitialState {
		return nil, &ValidationError{
			Key:     key,
			Code:    CodeBadFirstState,
			To:      first.StateID,
			ToAt:    first.UTCTimestamp,
			Message: fmt.Sprintf("sequence must start at %s", InitialState),
		}
	}

	walk := &Walk{
		Key:       key,
		Start:     first.UTCTimestamp,
		End:       first.UTCTimestamp,
		Durations: make(map[ir.StateID]float64),
	}

	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		if !cur.StateID.Valid() {
			return nil, unknownState(key, i, cur)
		}

		// Collectors stamp task_initialized and the first task_execution in
		// the same tick, so an equal timestamp is tolerated only there.
		if cur.UTCTimestamp.Before(prev.UTCTimestamp) ||
			(cur.UTCTimestamp.Equal(prev.UTCTimestamp) && prev.StateID != InitialState) {
			return nil, pairError(key, i, prev, cur, CodeOutOfOrder, "timestamp does not advance")
		}

		if !Allowed(prev.StateID, cur.StateID) {
			return nil, pairError(key, i, prev, cur, CodeDisallowedTransition, "transition not allowed")
		}

		walk.Durations[prev.StateID] += cur.UTCTimestamp.Sub(prev.UTCTimestamp).Seconds()
		walk.End = cur.UTCTimestamp
	}

	last := events[len(events)-1]
	if last.StateID != TerminalState {
		return nil, &ValidationError{
			Key:     key,
			Code:    CodeBadLastState,
			Index:   len(events) - 1,
			To:      last.StateID,
			ToAt:    last.UTCTimestamp,
			Message: fmt.Sprintf("sequence must end at %s", TerminalState),
		}
	}

	return walk, nil
}

func unknownState(key ir.Key, i int, e ir.TransitionEvent) *ValidationError {
	return &ValidationError{
		Key:     key,
		Code:    CodeUnknownState,
		Index:   i,
		To:      e.StateID,
		ToAt:    e.UTCTimestamp,
		Message: "unknown state",
	}
}

func pairError(key ir.Key, i int, prev, cur ir.TransitionEvent, code ErrorCode, msg string) *ValidationError {
	return &ValidationError{
		Key:     key,
		Code:    code,
		Index:   i,
		From:    prev.StateID,
		To:      cur.StateID,
		FromAt:  prev.UTCTimestamp,
		ToAt:    cur.UTCTimestamp,
		Message: msg,
	}
}

// Result collects the outcome of validating many subject-tasks.
// Walks and Errors preserve the order of the input logs.
type Result struct {
	Walks  []*Walk
	Errors []*ValidationError
}

// WalkByKey indexes the valid walks by subject-task.
func (r *Result) WalkByKey() map[ir.Key]*Walk {
	m := make(map[ir.Key]*Walk, len(r.Walks))
	for _, w := range r.Walks {
		m[w.Key] = w
	}
	return m
}

// ValidateLog validates a loaded log. A log that lost lines at load time
// fails with CodeIncompleteSequence before any replay.
func ValidateLog(log ir.EventLog) (*Walk, error) {
	if log.Incomplete() {
		lines := make([]string, len(log.Rejected))
		for i, r := range log.Rejected {
			lines[i] = strconv.Itoa(r.Line)
		}
		return nil, &ValidationError{
			Key:     log.Key,
			Code:    CodeIncompleteSequence,
			Message: fmt.Sprintf("line %s of %s failed to load; sequence is incomplete", strings.Join(lines, ","), log.Source),
		}
	}
	return Validate(log.Key, log.Events)
}

// ValidateAll validates every log concurrently with at most workers
// goroutines (workers <= 0 means unbounded).
//
// Each log is validated in isolation; a violation never affects other logs.
// The only error returned is context cancellation.
func ValidateAll(ctx context.Context, logs []ir.EventLog, workers int) (*Result, error) {
	type unit struct {
		walk *Walk
		err  *ValidationError
	}
	units := make([]unit, len(logs))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := range logs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			walk, err := ValidateLog(logs[i])
			if err != nil {
				units[i].err = err.(*ValidationError)
				return nil
			}
			units[i].walk = walk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("validate event logs: %w", err)
	}

	res := &Result{}
	for _, u := range units {
		if u.err != nil {
			res.Errors = append(res.Errors, u.err)
			continue
		}
		res.Walks = append(res.Walks, u.walk)
	}
	return res, nil
}
