package harness

import (
	"fmt"
	"math"
	"strings"

	"github.com/roach88/kmeval/internal/evaluate"
	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/metrics"
	"github.com/roach88/kmeval/internal/stats"
)

// AssertionError is returned when an assertion fails.
// It includes the report's diagnostics to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome

	// Omissions lists every omitted computation of the run for context.
	Omissions []evaluate.Omission
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Omissions) > 0 {
		fmt.Fprintf(&buf, "\nOmitted computations:\n")
		for _, o := range e.Omissions {
			fmt.Fprintf(&buf, "  [%s] %s %s: %s\n", o.Scope, o.Subject(), o.Metric, o.Reason)
		}
	}

	return buf.String()
}

// check evaluates one assertion against report.
func check(report *evaluate.Report, a Assertion) error {
	switch a.Type {
	case AssertMetric:
		return assertMetric(report, a)
	case AssertTest:
		return assertTest(report, a)
	case AssertOmission:
		return assertOmission(report, a)
	case AssertValidationError:
		return assertValidationError(report, a)
	case AssertWarning:
		return assertWarning(report, a)
	case AssertCount:
		return assertCount(report, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func findTask(report *evaluate.Report, task string) *metrics.TaskMetrics {
	for _, tm := range report.Tasks {
		if tm.Task == ir.ID(task) {
			return tm
		}
	}
	return nil
}

func metricValue(tm *metrics.TaskMetrics, name string) *float64 {
	switch name {
	case metrics.MetricKMTimeReduction:
		return tm.KMTimeReduction
	case metrics.MetricOptimalTimeProximity:
		return tm.OptimalTimeProximity
	case metrics.MetricFailureRateReduction:
		return tm.FailureRateReduction
	case metrics.MetricProductivityGain:
		return tm.ProductivityGain
	case metrics.MetricBinarizedFailureRate:
		return tm.BinarizedFailureRate
	default:
		return nil
	}
}

// assertMetric checks a task metric's value, or that it was omitted.
func assertMetric(report *evaluate.Report, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: AssertMetric, Expected: expected, Actual: actual, Omissions: report.Omissions}
	}

	tm := findTask(report, a.Task)
	if tm == nil {
		return fail(fmt.Sprintf("task %s evaluated", a.Task), "task not evaluated")
	}

	got := metricValue(tm, a.Metric)
	if a.Omitted {
		if got != nil {
			return fail(fmt.Sprintf("%s %s omitted", a.Task, a.Metric), fmt.Sprintf("%g", *got))
		}
		return nil
	}

	expected := fmt.Sprintf("%s %s = %g ± %g", a.Task, a.Metric, *a.Value, a.Within)
	if got == nil {
		return fail(expected, "omitted")
	}
	if math.Abs(*got-*a.Value) > a.Within {
		return fail(expected, fmt.Sprintf("%g", *got))
	}
	return nil
}

// assertTest checks a significance test verdict, or that it was omitted.
func assertTest(report *evaluate.Report, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: AssertTest, Expected: expected, Actual: actual, Omissions: report.Omissions}
	}

	tm := findTask(report, a.Task)
	if tm == nil {
		return fail(fmt.Sprintf("task %s evaluated", a.Task), "task not evaluated")
	}

	var res *stats.TestResult
	if a.Metric == stats.NameWelch {
		res = tm.TimeTest
	} else {
		res = tm.GradeTest
	}

	if a.Omitted {
		if res != nil {
			return fail(fmt.Sprintf("%s %s omitted", a.Task, a.Metric), fmt.Sprintf("p=%g", res.PValue))
		}
		return nil
	}

	expected := fmt.Sprintf("%s %s significant=%t", a.Task, a.Metric, *a.Significant)
	if res == nil {
		return fail(expected, "omitted")
	}
	if res.Significant != *a.Significant {
		return fail(expected, fmt.Sprintf("significant=%t (p=%g)", res.Significant, res.PValue))
	}
	return nil
}

// assertOmission checks that an omission matches key, and scope and metric
// when given.
func assertOmission(report *evaluate.Report, a Assertion) error {
	for _, o := range report.Omissions {
		if o.Subject() != a.Key {
			continue
		}
		if a.Scope != "" && string(o.Scope) != a.Scope {
			continue
		}
		if a.Metric != "" && o.Metric != a.Metric {
			continue
		}
		return nil
	}

	return &AssertionError{
		Type:      AssertOmission,
		Expected:  fmt.Sprintf("omission of %s %s (scope %q)", a.Key, a.Metric, a.Scope),
		Actual:    "not found",
		Omissions: report.Omissions,
	}
}

// assertValidationError checks that the event log for key was rejected with code.
func assertValidationError(report *evaluate.Report, a Assertion) error {
	var codes []string
	for _, ve := range report.ValidationErrors {
		if ve.Key.String() != a.Key {
			continue
		}
		if string(ve.Code) == a.Code {
			return nil
		}
		codes = append(codes, string(ve.Code))
	}

	actual := "log accepted"
	if len(codes) > 0 {
		actual = "rejected with " + strings.Join(codes, ", ")
	}
	return &AssertionError{
		Type:     AssertValidationError,
		Expected: fmt.Sprintf("%s rejected with %s", a.Key, a.Code),
		Actual:   actual,
	}
}

// assertWarning checks for a reconciliation warning on key and field.
func assertWarning(report *evaluate.Report, a Assertion) error {
	for _, w := range report.Warnings {
		if w.Key.String() == a.Key && string(w.Field) == a.Field {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertWarning,
		Expected: fmt.Sprintf("warning for %s %s", a.Key, a.Field),
		Actual:   fmt.Sprintf("%d warning(s), none matching", len(report.Warnings)),
	}
}

// assertCount checks the number of entries in a report section.
func assertCount(report *evaluate.Report, a Assertion) error {
	var n int
	switch a.Section {
	case SectionTasks:
		n = len(report.Tasks)
	case SectionConflicts:
		n = len(report.Conflicts)
	case SectionValidationErrors:
		n = len(report.ValidationErrors)
	case SectionWarnings:
		n = len(report.Warnings)
	case SectionOmissions:
		n = len(report.Omissions)
	}

	if n != a.Count {
		return &AssertionError{
			Type:      AssertCount,
			Expected:  fmt.Sprintf("%d %s", a.Count, a.Section),
			Actual:    fmt.Sprintf("%d %s", n, a.Section),
			Omissions: report.Omissions,
		}
	}
	return nil
}
