package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/roach88/kmeval/internal/evaluate"
	"github.com/roach88/kmeval/internal/ingest"
	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/metrics"
	"github.com/roach88/kmeval/internal/stats"
)

// Metrics CSV columns beyond the metric names.
const (
	ColumnTask             = "task"
	ColumnTimePValue       = "time_p_value"
	ColumnTimeSignificant  = "time_significant"
	ColumnGradePValue      = "grade_p_value"
	ColumnGradeSignificant = "grade_significant"
)

// MetricsHeader returns the metrics CSV header. The binarized column is
// present only when some task has a passing score.
func MetricsHeader(withBinarized bool) []string {
	header := []string{
		ColumnTask,
		metrics.MetricKMTimeReduction,
		metrics.MetricOptimalTimeProximity,
		metrics.MetricFailureRateReduction,
		metrics.MetricProductivityGain,
	}
	if withBinarized {
		header = append(header, metrics.MetricBinarizedFailureRate)
	}
	return append(header, ColumnTimePValue, ColumnTimeSignificant, ColumnGradePValue, ColumnGradeSignificant)
}

// WriteMetricsCSV writes one row per evaluated task. Omitted values are
// empty cells.
func WriteMetricsCSV(w io.Writer, r *evaluate.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(MetricsHeader(r.HasPassingScore)); err != nil {
		return err
	}

	for _, tm := range r.Tasks {
		row := []string{
			string(tm.Task),
			formatOptional(tm.KMTimeReduction),
			formatOptional(tm.OptimalTimeProximity),
			formatOptional(tm.FailureRateReduction),
			formatOptional(tm.ProductivityGain),
		}
		if r.HasPassingScore {
			row = append(row, formatOptional(tm.BinarizedFailureRate))
		}
		row = append(row, testCells(tm.TimeTest)...)
		row = append(row, testCells(tm.GradeTest)...)
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func testCells(res *stats.TestResult) []string {
	if res == nil {
		return []string{"", ""}
	}
	return []string{formatFloat(res.PValue), strconv.FormatBool(res.Significant)}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

// SummaryHeader returns the summary CSV header: every outcome field
// followed by the task metadata columns.
func SummaryHeader(withPassing bool) []string {
	header := []string{
		"subject_id",
		"condition",
		"task_id",
		"task_start_time",
		"task_total_time",
		"km_pull_total_time",
		"km_push_total_time",
		"task_grade",
		"corpus_knowledge_nugget_count",
		"expert_captured_nugget_count",
		"nugget_content",
		"task_timeout",
		"optional_content",
		ingest.ColOptimalTime,
		ingest.ColMaximumScore,
	}
	if withPassing {
		header = append(header, ingest.ColPassingScore)
	}
	return header
}

// WriteSummaryCSV writes one row per outcome record joined with its task
// metadata. Metadata cells are empty for tasks without metadata.
func WriteSummaryCSV(w io.Writer, outcomes []ir.OutcomeRecord, meta map[ir.ID]ir.TaskMetadata) error {
	withPassing := false
	for _, m := range meta {
		if m.PassingScore != nil {
			withPassing = true
			break
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryHeader(withPassing)); err != nil {
		return err
	}

	for _, r := range outcomes {
		nuggets, err := ir.MarshalCanonical(r.NuggetContent)
		if err != nil {
			return fmt.Errorf("summary %s: %w", r.Key(), err)
		}
		optional := ""
		if len(r.OptionalContent) > 0 {
			data, err := ir.MarshalCanonical(r.OptionalContent)
			if err != nil {
				return fmt.Errorf("summary %s: %w", r.Key(), err)
			}
			optional = string(data)
		}

		row := []string{
			string(r.SubjectID),
			string(r.Condition),
			string(r.TaskID),
			r.TaskStartTime.UTC().Format(time.RFC3339Nano),
			formatFloat(r.TaskTotalTime),
			formatFloat(r.KMPullTotalTime),
			formatFloat(r.KMPushTotalTime),
			formatFloat(r.TaskGrade),
			strconv.Itoa(r.CorpusKnowledgeNuggetCount),
			strconv.Itoa(r.ExpertCapturedNuggetCount),
			string(nuggets),
			strconv.FormatBool(r.TaskTimeout),
			optional,
		}

		m, ok := meta[r.TaskID]
		switch {
		case ok:
			row = append(row, formatFloat(m.OptimalTime), formatFloat(m.MaximumScore))
			if withPassing {
				row = append(row, formatOptional(m.PassingScore))
			}
		case withPassing:
			row = append(row, "", "", "")
		default:
			row = append(row, "", "")
		}

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
