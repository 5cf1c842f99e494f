package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/roach88/kmeval/internal/ir"
)

// Task metadata columns.
const (
	ColTaskID       = "task_id"
	ColOptimalTime  = "task_optimal_time_in_seconds"
	ColMaximumScore = "task_maximum_score"
	ColPassingScore = "task_passing_score"
)

var requiredColumns = []string{ColTaskID, ColOptimalTime, ColMaximumScore}

// LoadMetadata reads task_metadata.csv. The returned bool reports whether
// the header carries the optional passing score column.
func (l *Loader) LoadMetadata(path string) (map[ir.ID]ir.TaskMetadata, bool, []error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, []error{&LoadError{Code: ErrCodeReadFailed, Message: err.Error(), File: path}}
	}
	defer f.Close()
	return l.ReadMetadata(f, path)
}

// ReadMetadata parses task metadata CSV from r. name is used in errors.
func (l *Loader) ReadMetadata(r io.Reader, name string) (map[ir.ID]ir.TaskMetadata, bool, []error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, false, []error{&LoadError{Code: ErrCodeCSVHeader, Message: fmt.Sprintf("reading header: %v", err), File: name, Line: 1}}
	}
	cols, err := checkHeader(header)
	if err != nil {
		return nil, false, []error{&LoadError{Code: ErrCodeCSVHeader, Message: err.Error(), File: name, Line: 1}}
	}
	_, hasPassing := cols[ColPassingScore]

	out := make(map[ir.ID]ir.TaskMetadata)
	var errs []error
	for lineNo := 2; ; lineNo++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeCSVRow, Message: err.Error(), File: name, Line: lineNo})
			if l.Mode == LoadModeFailFast {
				return out, hasPassing, errs
			}
			continue
		}

		meta, err := parseRow(row, cols)
		if err == nil {
			for _, ve := range l.Schema.ValidateMetadata(meta, lineNo) {
				err = errors.Join(err, ve)
			}
		}
		if err == nil {
			if _, dup := out[meta.TaskID]; dup {
				err = fmt.Errorf("duplicate task_id %q", meta.TaskID)
			}
		}
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeCSVRow, Message: err.Error(), File: name, Line: lineNo})
			if l.Mode == LoadModeFailFast {
				return out, hasPassing, errs
			}
			continue
		}
		out[meta.TaskID] = meta
	}
	return out, hasPassing, errs
}

// checkHeader requires the three mandatory columns, allows the passing
// score column, and rejects anything else.
func checkHeader(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}

	var missing, extra []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	for _, h := range header {
		h = strings.TrimSpace(h)
		if h != ColTaskID && h != ColOptimalTime && h != ColMaximumScore && h != ColPassingScore {
			extra = append(extra, h)
		}
	}

	switch {
	case len(missing) > 0:
		return nil, fmt.Errorf("missing column(s) %s; required: %s; optional: %s",
			strings.Join(missing, ", "), strings.Join(requiredColumns, ", "), ColPassingScore)
	case len(extra) > 0:
		return nil, fmt.Errorf("unexpected column(s) %s; required: %s; optional: %s",
			strings.Join(extra, ", "), strings.Join(requiredColumns, ", "), ColPassingScore)
	}
	return cols, nil
}

func parseRow(row []string, cols map[string]int) (ir.TaskMetadata, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	number := func(name string) (float64, error) {
		v, err := strconv.ParseFloat(field(name), 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not a number", name, field(name))
		}
		return v, nil
	}

	meta := ir.TaskMetadata{TaskID: ir.ID(field(ColTaskID))}
	var err error
	if meta.OptimalTime, err = number(ColOptimalTime); err != nil {
		return meta, err
	}
	if meta.MaximumScore, err = number(ColMaximumScore); err != nil {
		return meta, err
	}
	if field(ColPassingScore) != "" {
		p, err := number(ColPassingScore)
		if err != nil {
			return meta, err
		}
		meta.PassingScore = &p
	}
	return meta, nil
}
