package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kmeval/internal/metrics"
	"github.com/roach88/kmeval/internal/stats"
	"github.com/roach88/kmeval/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database string
}

// RunEntry is one recorded evaluation.
type RunEntry struct {
	ID                string    `json:"id"`
	StartedAt         time.Time `json:"started_at"`
	Input             string    `json:"input"`
	Tolerance         float64   `json:"tolerance"`
	SignificanceLevel float64   `json:"significance_level"`
}

// OmissionEntry is one computation a recorded run skipped.
type OmissionEntry struct {
	Scope   string `json:"scope"`
	Subject string `json:"subject"`
	Metric  string `json:"metric"`
	Reason  string `json:"reason"`
}

// RunDetail is a recorded run with its results.
type RunDetail struct {
	Run       RunEntry               `json:"run"`
	Tasks     []*metrics.TaskMetrics `json:"tasks"`
	Omissions []OmissionEntry        `json:"omissions"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List or show recorded evaluations",
		Long: `List the evaluations recorded in a database, oldest first, or show
one run's per-task results and omissions.

Examples:
  kmeval runs --db ./kmeval.db
  kmeval runs --db ./kmeval.db 0190d1c4-0000-7000-8000-00000000000a --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runShowRun(opts, args[0], cmd)
			}
			return runListRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runListRuns(opts *RunsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := openExisting(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context())
	if err != nil {
		return commandError(formatter, ErrCodeStore, err)
	}

	entries := make([]RunEntry, 0, len(runs))
	for _, r := range runs {
		entries = append(entries, runEntry(r))
	}

	if formatter.Format == "json" {
		return formatter.Success(entries)
	}

	w := formatter.Writer
	if len(entries) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	fmt.Fprintf(w, "%-36s  %-24s  %-6s  %s\n", "RUN ID", "STARTED", "ALPHA", "INPUT")
	for _, e := range entries {
		fmt.Fprintf(w, "%-36s  %-24s  %-6s  %s\n",
			e.ID, e.StartedAt.Format(time.RFC3339), formatNumber(e.SignificanceLevel), e.Input)
	}
	return nil
}

func runShowRun(opts *RunsOptions, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := openExisting(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	run, tasks, omissions, err := st.ReadRun(cmd.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		_ = formatter.Error(ErrCodeStore, fmt.Sprintf("run not found: %s", id), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: run not found: %s", ErrCodeStore, id))
	}
	if err != nil {
		return commandError(formatter, ErrCodeStore, err)
	}

	detail := RunDetail{Run: runEntry(run), Tasks: tasks, Omissions: make([]OmissionEntry, 0, len(omissions))}
	for _, o := range omissions {
		detail.Omissions = append(detail.Omissions, OmissionEntry(o))
	}

	if formatter.Format == "json" {
		return formatter.Success(detail)
	}
	writeRunDetail(formatter.Writer, detail)
	return nil
}

func runEntry(r store.Run) RunEntry {
	return RunEntry{
		ID:                r.ID,
		StartedAt:         r.StartedAt,
		Input:             r.Input,
		Tolerance:         r.Tolerance,
		SignificanceLevel: r.SignificanceLevel,
	}
}

func writeRunDetail(w io.Writer, d RunDetail) {
	fmt.Fprintf(w, "Run %s\n", d.Run.ID)
	fmt.Fprintf(w, "Started: %s\n", d.Run.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Input: %s\n", d.Run.Input)
	fmt.Fprintf(w, "Tolerance: %s, alpha: %s\n", formatNumber(d.Run.Tolerance), formatNumber(d.Run.SignificanceLevel))

	fmt.Fprintf(w, "\nTasks (%d):\n", len(d.Tasks))
	for _, tm := range d.Tasks {
		fmt.Fprintf(w, "  %s: prototype n=%d, baseline n=%d\n", tm.Task, tm.PrototypeN, tm.BaselineN)
		fmt.Fprintf(w, "    km time reduction %s, failure rate reduction %s, productivity gain %s\n",
			formatMetric(tm.KMTimeReduction), formatMetric(tm.FailureRateReduction), formatMetric(tm.ProductivityGain))
		fmt.Fprintf(w, "    time test %s, grade test %s\n", formatTest(tm.TimeTest), formatTest(tm.GradeTest))
	}

	if len(d.Omissions) > 0 {
		fmt.Fprintf(w, "\nOmitted computations (%d):\n", len(d.Omissions))
		for _, o := range d.Omissions {
			fmt.Fprintf(w, "  [%s] %s %s: %s\n", o.Scope, o.Subject, o.Metric, o.Reason)
		}
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatMetric(v *float64) string {
	if v == nil {
		return "-"
	}
	return formatNumber(*v)
}

func formatTest(res *stats.TestResult) string {
	if res == nil {
		return "omitted"
	}
	verdict := "not significant"
	if res.Significant {
		verdict = "significant"
	}
	return fmt.Sprintf("p=%s (%s)", formatNumber(res.PValue), verdict)
}
