package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/kmeval/internal/ingest"
	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/merge"
	"github.com/roach88/kmeval/internal/store"
)

// LoadIssue is one input record that was skipped while loading.
type LoadIssue struct {
	Code    string `json:"code"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Key     string `json:"key,omitempty"`
	Message string `json:"message"`
}

func (i LoadIssue) String() string {
	loc := i.File
	switch {
	case i.File != "" && i.Line > 0:
		loc = fmt.Sprintf("%s:%d", i.File, i.Line)
	case i.Key != "":
		loc = i.Key
	}
	if loc == "" {
		return fmt.Sprintf("%s: %s", i.Code, i.Message)
	}
	return fmt.Sprintf("%s %s: %s", loc, i.Code, i.Message)
}

// issuesFrom converts load errors to issues. Errors that are not
// *ingest.LoadError are reported under the generic code.
func issuesFrom(errs []error) []LoadIssue {
	issues := make([]LoadIssue, 0, len(errs))
	for _, err := range errs {
		var le *ingest.LoadError
		if errors.As(err, &le) {
			issues = append(issues, LoadIssue{Code: le.Code, File: le.File, Line: le.Line, Message: le.Message})
			continue
		}
		issues = append(issues, LoadIssue{Code: ingest.ErrCodeGeneric, Message: err.Error()})
	}
	return issues
}

// loadFailure reports an error that prevented loading anything.
func loadFailure(f *OutputFormatter, err error) error {
	var le *ingest.LoadError
	if errors.As(err, &le) {
		_ = f.Error(le.Code, le.Message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", le.Code, le.Message))
	}
	return commandError(f, ingest.ErrCodeGeneric, err)
}

// source is the dataset a command works on, read either from a raw input
// directory or from a database written by merge.
type source struct {
	// Input is set for a directory. Records are unmerged.
	Input *merge.Input

	// Merged is set for a database. Stored records are already merged.
	Merged *merge.Result

	Metadata map[ir.ID]ir.TaskMetadata

	// MetadataPath is the task metadata file read from a directory, if any.
	MetadataPath string

	FileCount int
	Issues    []LoadIssue
}

// loadDir reads every input file under dir, skipping bad records.
// The returned error has already been reported through f.
func loadDir(f *OutputFormatter, logger *slog.Logger, dir string) (*source, error) {
	loader, err := ingest.NewLoader(ingest.LoadModeCollectAll)
	if err != nil {
		return nil, commandError(f, ingest.ErrCodeGeneric, err)
	}

	res, errs := loader.LoadDir(dir)
	if res == nil {
		return nil, loadFailure(f, errs[0])
	}

	issues := issuesFrom(errs)
	for _, issue := range issues {
		logger.Warn("record skipped", "code", issue.Code, "file", issue.File, "line", issue.Line, "reason", issue.Message)
	}
	logger.Debug("input loaded",
		"dir", dir,
		"files", res.FileCount,
		"outcomes", len(res.Outcomes),
		"event_logs", len(res.EventLogs),
		"tasks", len(res.Metadata),
		"skipped", len(issues))

	return &source{
		Input:        &merge.Input{Outcomes: res.Outcomes, EventLogs: res.EventLogs},
		Metadata:     res.Metadata,
		MetadataPath: res.MetadataPath,
		FileCount:    res.FileCount,
		Issues:       issues,
	}, nil
}

// openExisting opens a database that merge has already written.
// The returned error has already been reported through f.
func openExisting(f *OutputFormatter, path string) (*store.Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = f.Error(ingest.ErrCodeNotFound, fmt.Sprintf("database not found: %s", path), nil)
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("%s: database not found: %s", ingest.ErrCodeNotFound, path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, commandError(f, ErrCodeStore, err)
	}
	return st, nil
}

// loadStore reads the merged dataset and task metadata from st.
func loadStore(ctx context.Context, f *OutputFormatter, st *store.Store) (*source, error) {
	ds, err := st.ReadDataset(ctx)
	if err != nil {
		return nil, commandError(f, ErrCodeStore, err)
	}
	meta, err := st.ReadMetadata(ctx)
	if err != nil {
		return nil, commandError(f, ErrCodeStore, err)
	}
	return &source{
		Merged:   &merge.Result{Dataset: *ds, Identical: make(map[merge.Kind]int)},
		Metadata: meta,
	}, nil
}

// requireMetadata fails when no task has metadata.
func requireMetadata(f *OutputFormatter, src *source) error {
	if len(src.Metadata) > 0 {
		return nil
	}
	return commandError(f, ErrCodeNoMetadata, fmt.Errorf("no task metadata: %s is missing or empty", ingest.MetadataFile))
}

// refuseExisting fails before any work when an output file is already present.
func refuseExisting(f *OutputFormatter, paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return commandError(f, ErrCodeOutput, fmt.Errorf("%s already exists; refusing to overwrite", p))
		}
	}
	return nil
}
