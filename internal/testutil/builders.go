package testutil

import "github.com/roach88/kmeval/internal/ir"

// OutcomeBuilder assembles ir.OutcomeRecord fixtures.
type OutcomeBuilder struct {
	r ir.OutcomeRecord
}

// Outcome starts a record for one subject-task with zero durations and grade.
func Outcome(subject, task string, c ir.Condition) *OutcomeBuilder {
	return &OutcomeBuilder{r: ir.OutcomeRecord{
		SubjectID:     ir.ID(subject),
		Condition:     c,
		TaskID:        ir.ID(task),
		TaskStartTime: Epoch,
		NuggetContent: []ir.Nugget{},
	}}
}

// Times sets declared total, pull and push durations in seconds.
func (b *OutcomeBuilder) Times(total, pull, push float64) *OutcomeBuilder {
	b.r.TaskTotalTime = total
	b.r.KMPullTotalTime = pull
	b.r.KMPushTotalTime = push
	return b
}

// Grade sets the task grade.
func (b *OutcomeBuilder) Grade(g float64) *OutcomeBuilder {
	b.r.TaskGrade = g
	return b
}

// Timeout marks the record as timed out.
func (b *OutcomeBuilder) Timeout() *OutcomeBuilder {
	b.r.TaskTimeout = true
	return b
}

// Source sets the file the record claims to come from.
func (b *OutcomeBuilder) Source(s string) *OutcomeBuilder {
	b.r.Source = s
	return b
}

// Build returns a copy of the assembled record.
func (b *OutcomeBuilder) Build() ir.OutcomeRecord {
	r := b.r
	r.NuggetContent = append([]ir.Nugget{}, b.r.NuggetContent...)
	return r
}

// Step is one visit to a state: the state is entered, then held for Seconds
// before the next event. The last step's Seconds is ignored.
type Step struct {
	State   ir.StateID
	Seconds float64
}

// Events builds the transition events for key from steps, stamped by a fresh
// EventClock.
func Events(key ir.Key, steps ...Step) []ir.TransitionEvent {
	clock := NewEventClock()
	events := make([]ir.TransitionEvent, 0, len(steps))
	for i, s := range steps {
		ts := clock.Now()
		if i < len(steps)-1 {
			clock.Advance(s.Seconds)
		}
		events = append(events, ir.TransitionEvent{
			SubjectID:    key.Subject,
			Condition:    key.Condition,
			TaskID:       key.Task,
			UTCTimestamp: ts,
			StateID:      s.State,
		})
	}
	return events
}

// States builds events visiting states in order, 10 seconds apart.
func States(key ir.Key, states ...ir.StateID) []ir.TransitionEvent {
	steps := make([]Step, len(states))
	for i, s := range states {
		steps[i] = Step{State: s, Seconds: 10}
	}
	return Events(key, steps...)
}

// Log wraps events in an ir.EventLog for key.
func Log(key ir.Key, source string, events []ir.TransitionEvent) ir.EventLog {
	return ir.EventLog{Key: key, Source: source, Events: events}
}
