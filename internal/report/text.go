package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/kmeval/internal/evaluate"
	"github.com/roach88/kmeval/internal/stats"
)

// WriteText renders the validation report and the omission summary.
func WriteText(w io.Writer, r *evaluate.Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s\n", r.RunID)
	fmt.Fprintf(&b, "Input: %s\n", r.Input)
	fmt.Fprintf(&b, "Dataset: %d outcome records, %d event logs\n", r.Outcomes, r.EventLogs)

	if len(r.Conflicts) > 0 {
		fmt.Fprintf(&b, "\nConflicting duplicates (%d):\n", len(r.Conflicts))
		for _, c := range r.Conflicts {
			fmt.Fprintf(&b, "  %s\n", c.Error())
		}
	}

	if len(r.ValidationErrors) > 0 {
		fmt.Fprintf(&b, "\nValidation errors (%d):\n", len(r.ValidationErrors))
		for _, ve := range r.ValidationErrors {
			fmt.Fprintf(&b, "  %s\n", ve.Error())
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintf(&b, "\nReconciliation warnings (%d):\n", len(r.Warnings))
		for _, warn := range r.Warnings {
			fmt.Fprintf(&b, "  %s\n", warn.String())
		}
	}

	fmt.Fprintf(&b, "\nTasks evaluated (%d, alpha %s):\n", len(r.Tasks), formatFloat(r.SignificanceLevel))
	for _, tm := range r.Tasks {
		fmt.Fprintf(&b, "  %s: prototype n=%d, baseline n=%d; time %s; grade %s\n",
			tm.Task, tm.PrototypeN, tm.BaselineN, describeTest(tm.TimeTest), describeTest(tm.GradeTest))
	}

	if len(r.Omissions) > 0 {
		fmt.Fprintf(&b, "\nOmitted computations (%d):\n", len(r.Omissions))
		for _, o := range r.Omissions {
			metric := o.Metric
			if metric == "" {
				metric = "-"
			}
			fmt.Fprintf(&b, "  [%s] %s %s: %s\n", o.Scope, o.Subject(), metric, o.Reason)
		}
	}

	if r.Failed() {
		b.WriteString("\nResult: FAILED (data problems found)\n")
	} else {
		b.WriteString("\nResult: OK\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func describeTest(res *stats.TestResult) string {
	if res == nil {
		return "omitted"
	}
	verdict := "not significant"
	if res.Significant {
		verdict = "significant"
	}
	return fmt.Sprintf("p=%s (%s)", formatFloat(res.PValue), verdict)
}
