package harness

import "github.com/roach88/kmeval/internal/evaluate"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool

	// Report is the run report the assertions were checked against.
	Report *evaluate.Report

	// Errors holds one message per failed assertion.
	Errors []string
}

// NewResult creates a passing result for report.
func NewResult(report *evaluate.Report) *Result {
	return &Result{
		Pass:   true,
		Report: report,
		Errors: []string{},
	}
}

// AddError adds a failed assertion and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
