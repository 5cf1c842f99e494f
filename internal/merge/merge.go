// Package merge consolidates per-file outcome records and event logs into
// two datasets keyed uniquely by (subject, task, condition).
//
// Identity is content-based: two inputs with the same key and the same
// canonical hash are one record, wherever they came from. Conflicts are
// excluded rather than resolved, so the result does not depend on the order
// in which files were read.
package merge

import (
	"fmt"
	"sort"

	"github.com/roach88/kmeval/internal/ir"
)

// Input is everything read from the raw directory.
type Input struct {
	Outcomes []ir.OutcomeRecord

	// EventLogs may mix several keys per source; Merge splits them.
	EventLogs []ir.EventLog
}

// Dataset is the consolidated, read-only result of a merge.
// Both slices are sorted by key.
type Dataset struct {
	Outcomes  []ir.OutcomeRecord
	EventLogs []ir.EventLog
}

// OutcomeByKey indexes outcomes by key.
func (d *Dataset) OutcomeByKey() map[ir.Key]ir.OutcomeRecord {
	m := make(map[ir.Key]ir.OutcomeRecord, len(d.Outcomes))
	for _, r := range d.Outcomes {
		m[r.Key()] = r
	}
	return m
}

// Complete returns a copy of d without the event logs that lost lines at
// load time, and the keys of the logs it left out.
func (d *Dataset) Complete() (*Dataset, []ir.Key) {
	out := &Dataset{Outcomes: d.Outcomes, EventLogs: make([]ir.EventLog, 0, len(d.EventLogs))}
	var dropped []ir.Key
	for _, l := range d.EventLogs {
		if l.Incomplete() {
			dropped = append(dropped, l.Key)
			continue
		}
		out.EventLogs = append(out.EventLogs, l)
	}
	return out, dropped
}

// Result is a Dataset plus the merge diagnostics.
type Result struct {
	Dataset

	// Conflicts lists every excluded key, sorted by kind then key.
	Conflicts []*DuplicateKeyError

	// Identical counts, per kind, inputs dropped as exact copies of another input.
	Identical map[Kind]int
}

// candidate is one input's version of a key.
type candidate[T any] struct {
	value  T
	source string
	hash   string
}

// Merge consolidates in. Inputs are not modified.
//
// The returned error is reserved for inputs that cannot be hashed at all;
// conflicting duplicates are reported in Result.Conflicts.
func Merge(in Input) (*Result, error) {
	res := &Result{Identical: make(map[Kind]int)}

	outcomes := make(map[ir.Key][]candidate[ir.OutcomeRecord])
	for _, r := range in.Outcomes {
		if r.NuggetContent != nil {
			r.NuggetContent = append(make([]ir.Nugget, 0, len(r.NuggetContent)), r.NuggetContent...)
		}
		r.Normalize()
		h, err := ir.OutcomeHash(r)
		if err != nil {
			return nil, fmt.Errorf("merge outcome %s from %s: %w", r.Key(), r.Source, err)
		}
		outcomes[r.Key()] = append(outcomes[r.Key()], candidate[ir.OutcomeRecord]{r, r.Source, h})
	}

	logs := make(map[ir.Key][]candidate[ir.EventLog])
	for _, log := range in.EventLogs {
		for _, split := range splitByKey(log) {
			h, err := ir.EventLogHash(split.Events)
			if err != nil {
				return nil, fmt.Errorf("merge event log %s from %s: %w", split.Key, split.Source, err)
			}
			if split.Incomplete() {
				// An incomplete copy never matches a complete one.
				h += incompleteSuffix
			}
			logs[split.Key] = append(logs[split.Key], candidate[ir.EventLog]{split, split.Source, h})
		}
	}

	for _, k := range sortedKeys(outcomes) {
		kept, conflict, dropped := resolve(KindOutcome, k, outcomes[k])
		res.Identical[KindOutcome] += dropped
		if conflict != nil {
			res.Conflicts = append(res.Conflicts, conflict)
			continue
		}
		res.Outcomes = append(res.Outcomes, kept)
	}

	for _, k := range sortedKeys(logs) {
		kept, conflict, dropped := resolve(KindEventLog, k, logs[k])
		res.Identical[KindEventLog] += dropped
		if conflict != nil {
			res.Conflicts = append(res.Conflicts, conflict)
			continue
		}
		res.EventLogs = append(res.EventLogs, kept)
	}

	return res, nil
}

// resolve picks the single version of a key, or reports a conflict.
// When all versions agree, the one from the lexicographically first source
// is kept so the choice does not depend on read order.
func resolve[T any](kind Kind, key ir.Key, cs []candidate[T]) (T, *DuplicateKeyError, int) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].source < cs[j].source })

	distinct := false
	for _, c := range cs[1:] {
		if c.hash != cs[0].hash {
			distinct = true
			break
		}
	}
	if distinct {
		var zero T
		return zero, &DuplicateKeyError{Kind: kind, Key: key, Sources: uniqueSources(cs)}, 0
	}
	return cs[0].value, nil, len(cs) - 1
}

// incompleteSuffix marks the hash of a log that lost lines at load time.
const incompleteSuffix = "+incomplete"

// splitByKey separates one source's events into per-key logs ordered by
// timestamp. Ties keep their file order.
//
// A rejected line naming a key goes to that key's log, creating it when
// every line of the key was rejected. A rejected line without a key goes
// to every log of the source.
func splitByKey(log ir.EventLog) []ir.EventLog {
	byKey := make(map[ir.Key][]ir.TransitionEvent)
	for _, e := range log.Events {
		e.Normalize()
		byKey[e.Key()] = append(byKey[e.Key()], e)
	}

	rejected := make(map[ir.Key][]ir.RejectedLine)
	var unkeyed []ir.RejectedLine
	for _, r := range log.Rejected {
		if r.Key == nil {
			unkeyed = append(unkeyed, r)
			continue
		}
		if _, ok := byKey[*r.Key]; !ok {
			byKey[*r.Key] = nil
		}
		rejected[*r.Key] = append(rejected[*r.Key], r)
	}

	out := make([]ir.EventLog, 0, len(byKey))
	for _, k := range sortedKeys(byKey) {
		events := byKey[k]
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].UTCTimestamp.Before(events[j].UTCTimestamp)
		})
		split := ir.EventLog{Key: k, Source: log.Source, Events: events}
		split.Rejected = append(split.Rejected, rejected[k]...)
		split.Rejected = append(split.Rejected, unkeyed...)
		sort.Slice(split.Rejected, func(i, j int) bool { return split.Rejected[i].Line < split.Rejected[j].Line })
		out = append(out, split)
	}
	return out
}

func sortedKeys[V any](m map[ir.Key]V) []ir.Key {
	keys := make([]ir.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

func uniqueSources[T any](cs []candidate[T]) []string {
	var out []string
	for _, c := range cs {
		if len(out) == 0 || out[len(out)-1] != c.source {
			out = append(out, c.source)
		}
	}
	return out
}
