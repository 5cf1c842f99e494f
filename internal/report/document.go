package report

import (
	"time"

	"github.com/roach88/kmeval/internal/evaluate"
	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/metrics"
)

// Document is the JSON form of a run report.
type Document struct {
	RunID             string    `json:"run_id"`
	Input             string    `json:"input"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	Tolerance         float64   `json:"tolerance"`
	SignificanceLevel float64   `json:"significance_level"`
	Outcomes          int       `json:"outcomes"`
	EventLogs         int       `json:"event_logs"`
	Failed            bool      `json:"failed"`

	Conflicts        []ConflictEntry        `json:"conflicts"`
	ValidationErrors []ValidationEntry      `json:"validation_errors"`
	Warnings         []WarningEntry         `json:"warnings"`
	Tasks            []*metrics.TaskMetrics `json:"tasks"`
	Omissions        []evaluate.Omission    `json:"omissions"`
}

// ConflictEntry is one key excluded for conflicting duplicates.
type ConflictEntry struct {
	Kind    string   `json:"kind"`
	Key     ir.Key   `json:"key"`
	Sources []string `json:"sources"`
}

// ValidationEntry is one event log rejected by the state machine.
type ValidationEntry struct {
	Code    string `json:"code"`
	Key     ir.Key `json:"key"`
	Index   int    `json:"index"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Message string `json:"message"`
}

// WarningEntry is one declared/derived duration mismatch.
type WarningEntry struct {
	Key      ir.Key  `json:"key"`
	Field    string  `json:"field"`
	Declared float64 `json:"declared"`
	Derived  float64 `json:"derived"`
	Delta    float64 `json:"delta"`
}

// NewDocument converts r for JSON output. Slices are never nil so empty
// sections encode as [].
func NewDocument(r *evaluate.Report) *Document {
	doc := &Document{
		RunID:             r.RunID,
		Input:             r.Input,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
		Tolerance:         r.Tolerance,
		SignificanceLevel: r.SignificanceLevel,
		Outcomes:          r.Outcomes,
		EventLogs:         r.EventLogs,
		Failed:            r.Failed(),
		Conflicts:         make([]ConflictEntry, 0, len(r.Conflicts)),
		ValidationErrors:  make([]ValidationEntry, 0, len(r.ValidationErrors)),
		Warnings:          make([]WarningEntry, 0, len(r.Warnings)),
		Tasks:             append(make([]*metrics.TaskMetrics, 0, len(r.Tasks)), r.Tasks...),
		Omissions:         append(make([]evaluate.Omission, 0, len(r.Omissions)), r.Omissions...),
	}

	for _, c := range r.Conflicts {
		doc.Conflicts = append(doc.Conflicts, ConflictEntry{Kind: string(c.Kind), Key: c.Key, Sources: c.Sources})
	}
	for _, ve := range r.ValidationErrors {
		doc.ValidationErrors = append(doc.ValidationErrors, ValidationEntry{
			Code:    string(ve.Code),
			Key:     ve.Key,
			Index:   ve.Index,
			From:    string(ve.From),
			To:      string(ve.To),
			Message: ve.Message,
		})
	}
	for _, w := range r.Warnings {
		doc.Warnings = append(doc.Warnings, WarningEntry{
			Key:      w.Key,
			Field:    string(w.Field),
			Declared: w.Declared,
			Derived:  w.Derived,
			Delta:    w.Delta(),
		})
	}
	return doc
}
