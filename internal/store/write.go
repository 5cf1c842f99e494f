package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/merge"
	"github.com/roach88/kmeval/internal/metrics"
)

// querier is the subset of *sql.DB and *sql.Tx the writers need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Run describes one evaluation.
type Run struct {
	ID                string
	StartedAt         time.Time
	Input             string
	Tolerance         float64
	SignificanceLevel float64
}

// Omission is one skipped computation recorded with a run.
type Omission struct {
	Scope   string
	Subject string
	Metric  string
	Reason  string
}

// WriteOutcome inserts an outcome record.
// Uses ON CONFLICT DO NOTHING for idempotency: rewriting a record with the
// same content hash is a no-op. A different record under the same key is
// rejected with a *merge.DuplicateKeyError.
//
// Returns inserted=false when the identical record was already stored.
func (s *Store) WriteOutcome(ctx context.Context, r ir.OutcomeRecord) (inserted bool, err error) {
	return writeOutcome(ctx, s.db, r)
}

func writeOutcome(ctx context.Context, q querier, r ir.OutcomeRecord) (bool, error) {
	r.Normalize()
	hash, err := ir.OutcomeHash(r)
	if err != nil {
		return false, fmt.Errorf("write outcome: %w", err)
	}
	record, err := marshalOutcome(r)
	if err != nil {
		return false, fmt.Errorf("write outcome: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO outcomes (subject_id, task_id, condition, hash, source, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (subject_id, task_id, condition) DO NOTHING
	`, string(r.SubjectID), string(r.TaskID), string(r.Condition), hash, r.Source, record)
	if err != nil {
		return false, fmt.Errorf("write outcome %s: %w", r.Key(), err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	return false, checkExisting(ctx, q, "outcomes", merge.KindOutcome, r.Key(), hash, r.Source)
}

// WriteEventLog inserts an event log and its events in one transaction.
// Events are stored in slice order. Identity and conflict rules match
// WriteOutcome, using the event log hash.
func (s *Store) WriteEventLog(ctx context.Context, log ir.EventLog) (inserted bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		inserted, err = writeEventLog(ctx, tx, log)
		return err
	})
	return inserted, err
}

func writeEventLog(ctx context.Context, q querier, log ir.EventLog) (bool, error) {
	hash, err := ir.EventLogHash(log.Events)
	if err != nil {
		return false, fmt.Errorf("write event log: %w", err)
	}

	key := log.Key
	res, err := q.ExecContext(ctx, `
		INSERT INTO event_logs (subject_id, task_id, condition, hash, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (subject_id, task_id, condition) DO NOTHING
	`, string(key.Subject), string(key.Task), string(key.Condition), hash, log.Source)
	if err != nil {
		return false, fmt.Errorf("write event log %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, checkExisting(ctx, q, "event_logs", merge.KindEventLog, key, hash, log.Source)
	}

	for i, e := range log.Events {
		optional, err := marshalOptional(e.OptionalContent)
		if err != nil {
			return false, fmt.Errorf("write event log %s: %w", key, err)
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO events (subject_id, task_id, condition, seq, utc_timestamp, state_id, optional_content)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, string(key.Subject), string(key.Task), string(key.Condition), i,
			formatTimestamp(e.UTCTimestamp), string(e.StateID), optional)
		if err != nil {
			return false, fmt.Errorf("write event %d of %s: %w", i, key, err)
		}
	}
	return true, nil
}

// checkExisting compares the stored hash for key against hash and reports
// a conflict when they differ.
func checkExisting(ctx context.Context, q querier, table string, kind merge.Kind, key ir.Key, hash, source string) error {
	var storedHash, storedSource string
	err := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT hash, source FROM %s
		WHERE subject_id = ? AND task_id = ? AND condition = ?
	`, table), string(key.Subject), string(key.Task), string(key.Condition)).Scan(&storedHash, &storedSource)
	if err != nil {
		return fmt.Errorf("read existing %s %s: %w", kind, key, err)
	}
	if storedHash == hash {
		return nil
	}
	sources := []string{storedSource, source}
	sort.Strings(sources)
	return &merge.DuplicateKeyError{Kind: kind, Key: key, Sources: sources}
}

// WriteDataset stores a merged dataset in one transaction. Nothing is
// written if any record conflicts with stored content.
//
// Event logs that lost lines at load are skipped.
//
// Returns the number of outcomes and event logs that were not already present.
func (s *Store) WriteDataset(ctx context.Context, ds *merge.Dataset) (outcomes, logs int, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		outcomes, logs = 0, 0
		for _, r := range ds.Outcomes {
			ok, err := writeOutcome(ctx, tx, r)
			if err != nil {
				return err
			}
			if ok {
				outcomes++
			}
		}
		for _, l := range ds.EventLogs {
			if l.Incomplete() {
				continue
			}
			ok, err := writeEventLog(ctx, tx, l)
			if err != nil {
				return err
			}
			if ok {
				logs++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("write dataset: %w", err)
	}
	return outcomes, logs, nil
}

// WriteMetadata stores task metadata. Task metadata is immutable reference
// data: a task already stored with different values is an error.
func (s *Store) WriteMetadata(ctx context.Context, meta map[ir.ID]ir.TaskMetadata) error {
	ids := make([]ir.ID, 0, len(meta))
	for id := range meta {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			m := meta[id]
			res, err := tx.ExecContext(ctx, `
				INSERT INTO task_metadata (task_id, optimal_time, maximum_score, passing_score)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (task_id) DO NOTHING
			`, string(m.TaskID), m.OptimalTime, m.MaximumScore, nullFloat(m.PassingScore))
			if err != nil {
				return fmt.Errorf("write metadata %s: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				continue
			}
			stored, err := readMetadataRow(ctx, tx, id)
			if err != nil {
				return err
			}
			if !sameMetadata(stored, m) {
				return fmt.Errorf("write metadata %s: task already stored with different values", id)
			}
		}
		return nil
	})
}

func sameMetadata(a, b ir.TaskMetadata) bool {
	if a.TaskID != b.TaskID || a.OptimalTime != b.OptimalTime || a.MaximumScore != b.MaximumScore {
		return false
	}
	if (a.PassingScore == nil) != (b.PassingScore == nil) {
		return false
	}
	return a.PassingScore == nil || *a.PassingScore == *b.PassingScore
}

// WriteRun records an evaluation with its per-task results and omissions.
// Runs are identified by ID; writing the same run twice returns an error.
func (s *Store) WriteRun(ctx context.Context, run Run, results []*metrics.TaskMetrics, omissions []Omission) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, started_at, input, tolerance, significance_level)
			VALUES (?, ?, ?, ?, ?)
		`, run.ID, formatTimestamp(run.StartedAt), run.Input, run.Tolerance, run.SignificanceLevel)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		for _, tm := range results {
			data, err := ir.MarshalCanonical(tm)
			if err != nil {
				return fmt.Errorf("marshal task %s: %w", tm.Task, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO task_results (run_id, task_id, result)
				VALUES (?, ?, ?)
			`, run.ID, string(tm.Task), string(data))
			if err != nil {
				return fmt.Errorf("insert task %s: %w", tm.Task, err)
			}
		}

		for i, o := range omissions {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO omissions (run_id, seq, scope, subject, metric, reason)
				VALUES (?, ?, ?, ?, ?, ?)
			`, run.ID, i, o.Scope, o.Subject, o.Metric, o.Reason)
			if err != nil {
				return fmt.Errorf("insert omission %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write run %s: %w", run.ID, err)
	}
	return nil
}

// IsConflict reports whether err is a stored-content conflict.
func IsConflict(err error) bool {
	var de *merge.DuplicateKeyError
	return errors.As(err, &de)
}
