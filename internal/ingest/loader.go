// Package ingest reads a directory of raw collector output into ir types.
//
// Inputs:
//   - *.json: one outcome record per file
//   - *.jsonl: outcome records or transition events, one per line; the
//     kind is detected from the first line
//   - task_metadata.csv: per-task reference data
//
// Every record is checked against the CUE schema before decoding.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/schema"
)

// MetadataFile is the fixed name of the task metadata spreadsheet.
const MetadataFile = "task_metadata.csv"

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains everything read from an input directory.
type LoadResult struct {
	Outcomes  []ir.OutcomeRecord
	EventLogs []ir.EventLog
	Metadata  map[ir.ID]ir.TaskMetadata

	// MetadataPath is the metadata file that was read, if any.
	MetadataPath string

	// HasPassingScore is true when the metadata header carries task_passing_score.
	HasPassingScore bool

	FileCount int
}

// Files groups the input files found in a directory, each list sorted.
type Files struct {
	JSON     []string
	JSONL    []string
	Metadata string
}

// Count is the number of input files.
func (f Files) Count() int {
	n := len(f.JSON) + len(f.JSONL)
	if f.Metadata != "" {
		n++
	}
	return n
}

// FindFiles walks the directory and classifies input files by extension.
func FindFiles(dir string) (Files, error) {
	var files Files
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch {
		case d.Name() == MetadataFile:
			if files.Metadata == "" || path < files.Metadata {
				files.Metadata = path
			}
		case filepath.Ext(path) == ".json":
			files.JSON = append(files.JSON, path)
		case filepath.Ext(path) == ".jsonl":
			files.JSONL = append(files.JSONL, path)
		}
		return nil
	})
	sort.Strings(files.JSON)
	sort.Strings(files.JSONL)
	return files, err
}

// Loader reads input files, validating each record against a schema.
type Loader struct {
	Schema *schema.Schema
	Mode   LoadMode
}

// NewLoader creates a loader with the embedded schema.
func NewLoader(mode LoadMode) (*Loader, error) {
	s, err := schema.New()
	if err != nil {
		return nil, err
	}
	return &Loader{Schema: s, Mode: mode}, nil
}

// LoadDir loads every input file under dir.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, skips bad records and collects all errors.
func (l *Loader) LoadDir(dir string) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("input directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing input directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files.JSON) == 0 && len(files.JSONL) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no .json or .jsonl files found in %s", dir)}}
	}

	result := &LoadResult{
		Metadata:  make(map[ir.ID]ir.TaskMetadata),
		FileCount: files.Count(),
	}
	var errs []error

	stop := func(fileErrs []error) bool {
		errs = append(errs, fileErrs...)
		return len(fileErrs) > 0 && l.Mode == LoadModeFailFast
	}

	for _, path := range files.JSON {
		r, fileErrs := l.LoadOutcomeFile(path)
		if r != nil {
			result.Outcomes = append(result.Outcomes, *r)
		}
		if stop(fileErrs) {
			return result, errs
		}
	}

	for _, path := range files.JSONL {
		part, fileErrs := l.LoadJSONL(path)
		if part != nil {
			result.Outcomes = append(result.Outcomes, part.Outcomes...)
			result.EventLogs = append(result.EventLogs, part.EventLogs...)
		}
		if stop(fileErrs) {
			return result, errs
		}
	}

	if files.Metadata != "" {
		meta, hasPassing, fileErrs := l.LoadMetadata(files.Metadata)
		result.Metadata = meta
		result.MetadataPath = files.Metadata
		result.HasPassingScore = hasPassing
		if stop(fileErrs) {
			return result, errs
		}
	}

	return result, errs
}

// LoadOutcomeFile reads a single-record .json file.
func (l *Loader) LoadOutcomeFile(path string) (*ir.OutcomeRecord, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeReadFailed, Message: err.Error(), File: path}}
	}
	if errs := l.Schema.ValidateOutcome(data, 0); len(errs) > 0 {
		return nil, schemaErrors(path, errs)
	}
	r, err := decodeOutcome(data, path)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeDecode, Message: err.Error(), File: path}}
	}
	return r, nil
}

// LoadJSONL reads a .jsonl file. Only Outcomes and EventLogs are set on
// the returned result; a file holds exactly one record kind.
//
// Event lines that fail to load are recorded on the returned log's
// Rejected list, so the affected sequences are reported as incomplete
// instead of being validated without the missing event.
func (l *Loader) LoadJSONL(path string) (*LoadResult, []error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeReadFailed, Message: err.Error(), File: path}}
	}
	defer f.Close()

	result := &LoadResult{}
	log := ir.EventLog{Source: path}
	var (
		errs []error
		kind schema.Kind
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if kind == "" {
			detected, detectErrs := l.Schema.Detect(line, lineNo)
			if len(detectErrs) > 0 {
				// Without a kind no later line can be interpreted.
				return nil, schemaErrors(path, detectErrs)
			}
			kind = detected
		}

		var lineErrs []error
		switch kind {
		case schema.KindOutcome:
			if verrs := l.Schema.ValidateOutcome(line, lineNo); len(verrs) > 0 {
				lineErrs = schemaErrors(path, verrs)
				break
			}
			r, err := decodeOutcome(line, path)
			if err != nil {
				lineErrs = []error{&LoadError{Code: ErrCodeDecode, Message: err.Error(), File: path, Line: lineNo}}
				break
			}
			result.Outcomes = append(result.Outcomes, *r)
		case schema.KindEvent:
			if verrs := l.Schema.ValidateEvent(line, lineNo); len(verrs) > 0 {
				lineErrs = schemaErrors(path, verrs)
				break
			}
			var e ir.TransitionEvent
			if err := json.Unmarshal(line, &e); err != nil {
				lineErrs = []error{&LoadError{Code: ErrCodeDecode, Message: err.Error(), File: path, Line: lineNo}}
				break
			}
			e.Normalize()
			log.Events = append(log.Events, e)
		}
		if kind == schema.KindEvent && len(lineErrs) > 0 {
			log.Rejected = append(log.Rejected, ir.RejectedLine{Key: peekKey(line), Line: lineNo})
		}

		errs = append(errs, lineErrs...)
		if len(lineErrs) > 0 && l.Mode == LoadModeFailFast {
			return result, errs
		}
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, &LoadError{Code: ErrCodeReadFailed, Message: err.Error(), File: path})
	}

	if len(log.Events) > 0 || len(log.Rejected) > 0 {
		result.EventLogs = append(result.EventLogs, log)
	}
	return result, errs
}

// peekKey reads the subject-task of an event line that failed to load.
// Returns nil when the line does not name one.
func peekKey(line []byte) *ir.Key {
	var k ir.Key
	if err := json.Unmarshal(line, &k); err != nil {
		return nil
	}
	if k.Subject == "" || k.Task == "" || !k.Condition.Valid() {
		return nil
	}
	return &k
}

func decodeOutcome(data []byte, source string) (*ir.OutcomeRecord, error) {
	var r ir.OutcomeRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if r.NuggetContent == nil {
		r.NuggetContent = []ir.Nugget{}
	}
	r.Normalize()
	r.Source = source
	return &r, nil
}

func schemaErrors(path string, errs []schema.ValidationError) []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		msg := e.Message
		if e.Field != "" {
			msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
		}
		out[i] = &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("[%s] %s", e.Code, msg), File: path, Line: e.Line}
	}
	return out
}

// IsMetadataFile reports whether path names a task metadata file.
func IsMetadataFile(path string) bool {
	return strings.EqualFold(filepath.Base(path), MetadataFile)
}
