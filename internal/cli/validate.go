package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kmeval/internal/ingest"
	"github.com/roach88/kmeval/internal/merge"
	"github.com/roach88/kmeval/internal/statemachine"
)

// CodeConflict marks a key excluded for conflicting duplicates.
const CodeConflict = "D001"

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool        `json:"valid"`
	Outcomes  int         `json:"outcomes"`
	EventLogs int         `json:"event_logs"`
	Tasks     int         `json:"tasks"`
	Errors    []LoadIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate input files without evaluating",
		Long: `Validate raw collector output without computing metrics.

<path> is a single .json or .jsonl file, a task_metadata.csv, or a
directory of them. Every record is checked against the input schema.
Event logs are then checked against the state machine and, for a
directory, outcome and event keys are checked for conflicting duplicates.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return commandError(formatter, ErrCodeConfig, err)
	}
	logger := opts.logger(cmd, cfg)

	info, err := os.Stat(path)
	if err != nil {
		return loadFailure(formatter, &ingest.LoadError{Code: ingest.ErrCodeNotFound, Message: fmt.Sprintf("path not found: %s", path)})
	}

	loader, err := ingest.NewLoader(ingest.LoadModeCollectAll)
	if err != nil {
		return commandError(formatter, ingest.ErrCodeGeneric, err)
	}

	var (
		res  *ingest.LoadResult
		errs []error
	)
	switch {
	case info.IsDir():
		res, errs = loader.LoadDir(path)
		if res == nil {
			return loadFailure(formatter, errs[0])
		}
	case ingest.IsMetadataFile(path):
		meta, _, metaErrs := loader.LoadMetadata(path)
		res, errs = &ingest.LoadResult{Metadata: meta, FileCount: 1}, metaErrs
	case strings.EqualFold(filepath.Ext(path), ".json"):
		r, fileErrs := loader.LoadOutcomeFile(path)
		res, errs = &ingest.LoadResult{FileCount: 1}, fileErrs
		if r != nil {
			res.Outcomes = append(res.Outcomes, *r)
		}
	case strings.EqualFold(filepath.Ext(path), ".jsonl"):
		part, fileErrs := loader.LoadJSONL(path)
		res, errs = &ingest.LoadResult{FileCount: 1}, fileErrs
		if part != nil {
			res.Outcomes, res.EventLogs = part.Outcomes, part.EventLogs
		}
	default:
		return loadFailure(formatter, &ingest.LoadError{
			Code:    ingest.ErrCodeNoFiles,
			Message: fmt.Sprintf("unsupported file type: %s (want .json, .jsonl or %s)", path, ingest.MetadataFile),
		})
	}
	formatter.VerboseLog("Read %d file(s) from %s", res.FileCount, path)

	issues := issuesFrom(errs)

	merged, err := merge.Merge(merge.Input{Outcomes: res.Outcomes, EventLogs: res.EventLogs})
	if err != nil {
		return commandError(formatter, ingest.ErrCodeGeneric, err)
	}
	for _, c := range merged.Conflicts {
		issues = append(issues, LoadIssue{Code: CodeConflict, Key: c.Key.String(), Message: c.Error()})
	}

	checked, err := statemachine.ValidateAll(cmd.Context(), merged.EventLogs, cfg.Workers)
	if err != nil {
		return commandError(formatter, ingest.ErrCodeGeneric, err)
	}
	for _, ve := range checked.Errors {
		issues = append(issues, LoadIssue{Code: string(ve.Code), Key: ve.Key.String(), Message: ve.Error()})
	}

	result := ValidationResult{
		Valid:     len(issues) == 0,
		Outcomes:  len(merged.Outcomes),
		EventLogs: len(merged.EventLogs),
		Tasks:     len(res.Metadata),
		Errors:    issues,
	}
	logger.Debug("validation finished", "path", path, "errors", len(issues))

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ All input valid (%d outcome record(s), %d event log(s), %d task(s))\n",
		result.Outcomes, result.EventLogs, result.Tasks)
	return nil
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.Format == "json" {
		first := result.Errors[0]
		if err := formatter.Failure(first.Code, first.Message, result, ""); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range result.Errors {
		fmt.Fprintf(formatter.Writer, "  %s\n", issue)
	}
	fmt.Fprintln(formatter.Writer)
	fmt.Fprintf(formatter.Writer, "%d error(s)\n", len(result.Errors))

	return failed
}
