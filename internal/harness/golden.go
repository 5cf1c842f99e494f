package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/kmeval/internal/evaluate"
	"github.com/roach88/kmeval/internal/ir"
)

// Snapshot is the stable part of a run report compared against golden files.
// Metric values are left to metric assertions; the snapshot pins which
// tasks, problems and omissions a run produced.
type Snapshot struct {
	Scenario         string          `json:"scenario"`
	Tasks            []TaskSnapshot  `json:"tasks"`
	ValidationErrors []ErrorSnapshot `json:"validation_errors"`
	Warnings         []WarnSnapshot  `json:"warnings"`
	Omissions        []OmitSnapshot  `json:"omissions"`
}

// TaskSnapshot is one evaluated task with its group sizes.
type TaskSnapshot struct {
	Task       string `json:"task"`
	PrototypeN int    `json:"prototype_n"`
	BaselineN  int    `json:"baseline_n"`
}

// ErrorSnapshot is one rejected event log.
type ErrorSnapshot struct {
	Key   string `json:"key"`
	Code  string `json:"code"`
	Index int    `json:"index"`
}

// WarnSnapshot is one reconciliation warning.
type WarnSnapshot struct {
	Key   string `json:"key"`
	Field string `json:"field"`
}

// OmitSnapshot is one omitted computation.
type OmitSnapshot struct {
	Scope   string `json:"scope"`
	Subject string `json:"subject"`
	Metric  string `json:"metric"`
}

// NewSnapshot extracts the snapshot of a report. Slices are never nil so
// empty sections serialize as [].
func NewSnapshot(name string, r *evaluate.Report) Snapshot {
	s := Snapshot{
		Scenario:         name,
		Tasks:            []TaskSnapshot{},
		ValidationErrors: []ErrorSnapshot{},
		Warnings:         []WarnSnapshot{},
		Omissions:        []OmitSnapshot{},
	}
	for _, tm := range r.Tasks {
		s.Tasks = append(s.Tasks, TaskSnapshot{Task: string(tm.Task), PrototypeN: tm.PrototypeN, BaselineN: tm.BaselineN})
	}
	for _, ve := range r.ValidationErrors {
		s.ValidationErrors = append(s.ValidationErrors, ErrorSnapshot{Key: ve.Key.String(), Code: string(ve.Code), Index: ve.Index})
	}
	for _, w := range r.Warnings {
		s.Warnings = append(s.Warnings, WarnSnapshot{Key: w.Key.String(), Field: string(w.Field)})
	}
	for _, o := range r.Omissions {
		s.Omissions = append(s.Omissions, OmitSnapshot{Scope: string(o.Scope), Subject: o.Subject(), Metric: o.Metric})
	}
	return s
}

// RunWithGolden runs a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's snapshot against the golden
// file for name without re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := ir.MarshalCanonical(NewSnapshot(name, result.Report))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
