package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/kmeval/internal/ir"
)

// timestampLayout is the TEXT form of every stored timestamp.
const timestampLayout = time.RFC3339Nano

// marshalOutcome converts an outcome record to canonical JSON TEXT.
// Source is not part of the record and is stored in its own column.
func marshalOutcome(r ir.OutcomeRecord) (string, error) {
	data, err := ir.MarshalCanonical(r)
	if err != nil {
		return "", fmt.Errorf("marshal outcome %s: %w", r.Key(), err)
	}
	return string(data), nil
}

// unmarshalOutcome parses canonical JSON TEXT back into an outcome record.
func unmarshalOutcome(data, source string) (ir.OutcomeRecord, error) {
	var r ir.OutcomeRecord
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return ir.OutcomeRecord{}, fmt.Errorf("unmarshal outcome: %w", err)
	}
	r.Source = source
	r.Normalize()
	return r, nil
}

// marshalOptional converts optional content to canonical JSON, or NULL when absent.
func marshalOptional(raw json.RawMessage) (sql.NullString, error) {
	if len(raw) == 0 {
		return sql.NullString{}, nil
	}
	data, err := ir.MarshalCanonical(raw)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal optional content: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalOptional is the inverse of marshalOptional.
func unmarshalOptional(v sql.NullString) json.RawMessage {
	if !v.Valid {
		return nil
	}
	return json.RawMessage(v.String)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// nullFloat converts an optional float to a nullable column value.
func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// floatPtr is the inverse of nullFloat.
func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
