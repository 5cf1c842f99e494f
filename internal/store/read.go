package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/merge"
	"github.com/roach88/kmeval/internal/metrics"
)

// ErrRunNotFound is returned by ReadRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// ReadDataset returns every stored outcome and event log.
// Both slices are ordered by ir.Key.Less, matching the order merge.Merge
// produces.
func (s *Store) ReadDataset(ctx context.Context) (*merge.Dataset, error) {
	outcomes, err := s.ReadOutcomes(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := s.ReadEventLogs(ctx)
	if err != nil {
		return nil, err
	}
	return &merge.Dataset{Outcomes: outcomes, EventLogs: logs}, nil
}

// ReadOutcomes returns all stored outcome records with deterministic ordering.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ReadOutcomes(ctx context.Context) ([]ir.OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record, source
		FROM outcomes
		ORDER BY task_id COLLATE BINARY ASC, condition COLLATE BINARY ASC, subject_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []ir.OutcomeRecord{}
	for rows.Next() {
		var record, source string
		if err := rows.Scan(&record, &source); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		r, err := unmarshalOutcome(record, source)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	sort.SliceStable(outcomes, func(i, j int) bool { return outcomes[i].Key().Less(outcomes[j].Key()) })
	return outcomes, nil
}

// ReadEventLogs returns all stored event logs, events in stored order.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ReadEventLogs(ctx context.Context) ([]ir.EventLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.subject_id, l.task_id, l.condition, l.source,
		       e.seq, e.utc_timestamp, e.state_id, e.optional_content
		FROM event_logs l
		LEFT JOIN events e
		  ON e.subject_id = l.subject_id AND e.task_id = l.task_id AND e.condition = l.condition
		ORDER BY l.task_id COLLATE BINARY ASC, l.condition COLLATE BINARY ASC,
		         l.subject_id COLLATE BINARY ASC, e.seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query event logs: %w", err)
	}
	defer rows.Close()

	logs := []ir.EventLog{}
	for rows.Next() {
		var (
			subject, task, condition, source string
			seq                              sql.NullInt64
			ts, state                        sql.NullString
			optional                         sql.NullString
		)
		if err := rows.Scan(&subject, &task, &condition, &source, &seq, &ts, &state, &optional); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		key := ir.Key{Subject: ir.ID(subject), Task: ir.ID(task), Condition: ir.Condition(condition)}
		if n := len(logs); n == 0 || logs[n-1].Key != key {
			logs = append(logs, ir.EventLog{Key: key, Source: source, Events: []ir.TransitionEvent{}})
		}
		if !seq.Valid {
			continue
		}

		at, err := parseTimestamp(ts.String)
		if err != nil {
			return nil, err
		}
		last := &logs[len(logs)-1]
		last.Events = append(last.Events, ir.TransitionEvent{
			SubjectID:       key.Subject,
			Condition:       key.Condition,
			TaskID:          key.Task,
			UTCTimestamp:    at,
			StateID:         ir.StateID(state.String),
			OptionalContent: unmarshalOptional(optional),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event logs: %w", err)
	}
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Key.Less(logs[j].Key) })
	return logs, nil
}

// ReadMetadata returns all stored task metadata keyed by task ID.
func (s *Store) ReadMetadata(ctx context.Context) (map[ir.ID]ir.TaskMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, optimal_time, maximum_score, passing_score
		FROM task_metadata
		ORDER BY task_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[ir.ID]ir.TaskMetadata)
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		meta[m.TaskID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata: %w", err)
	}
	return meta, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row scanner) (ir.TaskMetadata, error) {
	var (
		m       ir.TaskMetadata
		task    string
		passing sql.NullFloat64
	)
	if err := row.Scan(&task, &m.OptimalTime, &m.MaximumScore, &passing); err != nil {
		return ir.TaskMetadata{}, fmt.Errorf("scan metadata: %w", err)
	}
	m.TaskID = ir.ID(task)
	m.PassingScore = floatPtr(passing)
	return m, nil
}

func readMetadataRow(ctx context.Context, q querier, id ir.ID) (ir.TaskMetadata, error) {
	row := q.QueryRowContext(ctx, `
		SELECT task_id, optimal_time, maximum_score, passing_score
		FROM task_metadata WHERE task_id = ?
	`, string(id))
	return scanMetadata(row)
}

// ListRuns returns every recorded run, oldest first. Run IDs are UUIDv7, so
// ordering by ID is ordering by start time.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, input, tolerance, significance_level
		FROM runs
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row scanner) (Run, error) {
	var (
		run     Run
		started string
	)
	if err := row.Scan(&run.ID, &started, &run.Input, &run.Tolerance, &run.SignificanceLevel); err != nil {
		return Run{}, err
	}
	at, err := parseTimestamp(started)
	if err != nil {
		return Run{}, err
	}
	run.StartedAt = at
	return run, nil
}

// ReadRun returns a run with its task results ordered by task and its
// omissions in recorded order. Returns ErrRunNotFound for an unknown ID.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, []*metrics.TaskMetrics, []Omission, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `
		SELECT id, started_at, input, tolerance, significance_level
		FROM runs WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, nil, fmt.Errorf("read run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, nil, nil, fmt.Errorf("read run %s: %w", id, err)
	}

	results, err := s.readTaskResults(ctx, id)
	if err != nil {
		return Run{}, nil, nil, err
	}
	omissions, err := s.readOmissions(ctx, id)
	if err != nil {
		return Run{}, nil, nil, err
	}
	return run, results, omissions, nil
}

func (s *Store) readTaskResults(ctx context.Context, runID string) ([]*metrics.TaskMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT result FROM task_results
		WHERE run_id = ?
		ORDER BY task_id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query task results: %w", err)
	}
	defer rows.Close()

	results := []*metrics.TaskMetrics{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		var tm metrics.TaskMetrics
		if err := json.Unmarshal([]byte(data), &tm); err != nil {
			return nil, fmt.Errorf("unmarshal task result: %w", err)
		}
		results = append(results, &tm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task results: %w", err)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Task.Less(results[j].Task) })
	return results, nil
}

func (s *Store) readOmissions(ctx context.Context, runID string) ([]Omission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, subject, metric, reason FROM omissions
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query omissions: %w", err)
	}
	defer rows.Close()

	omissions := []Omission{}
	for rows.Next() {
		var o Omission
		if err := rows.Scan(&o.Scope, &o.Subject, &o.Metric, &o.Reason); err != nil {
			return nil, fmt.Errorf("scan omission: %w", err)
		}
		omissions = append(omissions, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate omissions: %w", err)
	}
	return omissions, nil
}
