package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Condition is an experiment arm.
type Condition string

const (
	Prototype Condition = "prototype"
	Baseline  Condition = "baseline"
)

// Conditions lists both arms in reporting order.
var Conditions = []Condition{Prototype, Baseline}

// Valid reports whether c is one of the two known arms.
func (c Condition) Valid() bool {
	return c == Prototype || c == Baseline
}

// StateID identifies a node of the KM interaction state machine.
type StateID string

const (
	StateTaskInitialized StateID = "task_initialized"
	StateTaskExecution   StateID = "task_execution"
	StateKMPush          StateID = "km_push_activity"
	StateKMPull          StateID = "km_pull_activity"
	StateTaskConclusion  StateID = "task_conclusion"
)

// StateIDs lists every known state.
var StateIDs = []StateID{
	StateTaskInitialized,
	StateTaskExecution,
	StateKMPush,
	StateKMPull,
	StateTaskConclusion,
}

// Valid reports whether s is a known state.
func (s StateID) Valid() bool {
	for _, known := range StateIDs {
		if s == known {
			return true
		}
	}
	return false
}

// ID is a subject or task identifier. The collector emits either JSON
// strings or integers; both decode to the same string form.
type ID string

// UnmarshalJSON accepts a JSON string or an integral JSON number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("identifier must be a string or integer, got %s", data)
	}
	*id = ID(strconv.FormatInt(n, 10))
	return nil
}

// Less orders identifiers numerically when both are integers, so task 2
// sorts before task 10, and bytewise otherwise. Integers sort before
// non-integers. Equal numbers with different spellings fall back to
// bytewise order.
func (id ID) Less(o ID) bool {
	a, aErr := strconv.ParseInt(string(id), 10, 64)
	b, bErr := strconv.ParseInt(string(o), 10, 64)
	switch {
	case aErr == nil && bErr == nil && a != b:
		return a < b
	case aErr == nil && bErr != nil:
		return true
	case aErr != nil && bErr == nil:
		return false
	}
	return id < o
}

// Key identifies one subject performing one task under one condition.
type Key struct {
	Subject   ID        `json:"subject_id"`
	Task      ID        `json:"task_id"`
	Condition Condition `json:"condition"`
}

// String renders the key in the collector's "subject_condition_task" form.
func (k Key) String() string {
	return fmt.Sprintf("%s_%s_%s", k.Subject, k.Condition, k.Task)
}

// Less orders keys by task, then condition, then subject.
func (k Key) Less(o Key) bool {
	if k.Task != o.Task {
		return k.Task.Less(o.Task)
	}
	if k.Condition != o.Condition {
		return k.Condition < o.Condition
	}
	return k.Subject.Less(o.Subject)
}

// Nugget is one unit of knowledge content pushed to a participant.
type Nugget struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

// OutcomeRecord is the collector's summary of one subject-task.
// Declared durations are the source of truth for metrics.
type OutcomeRecord struct {
	SubjectID                  ID              `json:"subject_id"`
	Condition                  Condition       `json:"condition"`
	TaskID                     ID              `json:"task_id"`
	TaskStartTime              time.Time       `json:"task_start_time"`
	TaskTotalTime              float64         `json:"task_total_time"`
	KMPullTotalTime            float64         `json:"km_pull_total_time"`
	KMPushTotalTime            float64         `json:"km_push_total_time"`
	TaskGrade                  float64         `json:"task_grade"`
	CorpusKnowledgeNuggetCount int             `json:"corpus_knowledge_nugget_count"`
	ExpertCapturedNuggetCount  int             `json:"expert_captured_nugget_count"`
	NuggetContent              []Nugget        `json:"nugget_content"`
	TaskTimeout                bool            `json:"task_timeout"`
	OptionalContent            json.RawMessage `json:"optional_content,omitempty"`

	// Source is the file the record was read from. Not part of content identity.
	Source string `json:"-"`
}

// Key returns the record's composite key.
func (r OutcomeRecord) Key() Key {
	return Key{Subject: r.SubjectID, Task: r.TaskID, Condition: r.Condition}
}

// Normalize converts every timestamp on the record to UTC so that the same
// instant always has the same canonical form.
func (r *OutcomeRecord) Normalize() {
	r.TaskStartTime = r.TaskStartTime.UTC()
	for i := range r.NuggetContent {
		r.NuggetContent[i].Timestamp = r.NuggetContent[i].Timestamp.UTC()
	}
}

// KMTime is the declared push plus pull time.
func (r OutcomeRecord) KMTime() float64 {
	return r.KMPullTotalTime + r.KMPushTotalTime
}

// TransitionEvent is one observed state change.
type TransitionEvent struct {
	SubjectID       ID              `json:"subject_id"`
	Condition       Condition       `json:"condition"`
	TaskID          ID              `json:"task_id"`
	UTCTimestamp    time.Time       `json:"utc_timestamp"`
	StateID         StateID         `json:"state_id"`
	OptionalContent json.RawMessage `json:"optional_content,omitempty"`
}

// Key returns the event's composite key.
func (e TransitionEvent) Key() Key {
	return Key{Subject: e.SubjectID, Task: e.TaskID, Condition: e.Condition}
}

// Normalize converts the event timestamp to UTC.
func (e *TransitionEvent) Normalize() {
	e.UTCTimestamp = e.UTCTimestamp.UTC()
}

// EventLog is the ordered event sequence for one key as read from one source.
type EventLog struct {
	Key    Key
	Source string
	Events []TransitionEvent

	// Rejected lists source lines that belonged to this sequence but failed
	// to load. A log with rejected lines is incomplete and must not be
	// replayed as if it were whole.
	Rejected []RejectedLine
}

// Incomplete reports whether any line of the sequence failed to load.
func (l EventLog) Incomplete() bool {
	return len(l.Rejected) > 0
}

// RejectedLine is an input line that failed to load.
type RejectedLine struct {
	// Key is the subject-task the line names, or nil when even that could
	// not be read. A line without a key taints every sequence in its source.
	Key *Key

	Line int
}

// TaskMetadata is immutable per-task reference data.
type TaskMetadata struct {
	TaskID       ID      `json:"task_id"`
	OptimalTime  float64 `json:"task_optimal_time_in_seconds"`
	MaximumScore float64 `json:"task_maximum_score"`

	// PassingScore is optional; nil when the metadata file has no value.
	PassingScore *float64 `json:"task_passing_score,omitempty"`
}

// ParseTimestamp parses a timezone-aware ISO-8601 timestamp and returns it in UTC.
// Naive timestamps (no offset) are rejected.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a timezone-aware ISO 8601 timestamp: %w", s, err)
	}
	return t.UTC(), nil
}
