package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/kmeval/internal/ingest"
	"github.com/roach88/kmeval/internal/merge"
	"github.com/roach88/kmeval/internal/report"
)

// SummaryOptions holds flags for the summary command.
type SummaryOptions struct {
	*RootOptions
	Database string
	Output   string
}

// SummaryResult is the JSON payload of the summary command.
type SummaryResult struct {
	Rows      int         `json:"rows"`
	Conflicts int         `json:"conflicts"`
	Skipped   []LoadIssue `json:"skipped"`
	Output    string      `json:"output"`
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SummaryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "summary [input-dir]",
		Short: "Write a flat CSV of outcome records and task metadata",
		Long: `Write one CSV row per merged outcome record, joined with its task
metadata columns.

The dataset is read from [input-dir] or, when no directory is given, from
the database named by --db.

Examples:
  kmeval summary ./raw --output summary.csv
  kmeval summary --db ./kmeval.db --output summary.csv`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			inputDir := ""
			if len(args) == 1 {
				inputDir = args[0]
			}
			return runSummary(opts, inputDir, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database to read the dataset from")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "summary CSV path (required)")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runSummary(opts *SummaryOptions, inputDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	switch {
	case inputDir == "" && opts.Database == "":
		return commandError(formatter, ErrCodeUsage, errors.New("an input directory or --db is required"))
	case inputDir != "" && opts.Database != "":
		return commandError(formatter, ErrCodeUsage, errors.New("give an input directory or --db, not both"))
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return commandError(formatter, ErrCodeConfig, err)
	}
	logger := opts.logger(cmd, cfg)

	if err := refuseExisting(formatter, opts.Output); err != nil {
		return err
	}

	var src *source
	if inputDir != "" {
		if src, err = loadDir(formatter, logger, inputDir); err != nil {
			return err
		}
		merged, err := merge.Merge(*src.Input)
		if err != nil {
			return commandError(formatter, ingest.ErrCodeGeneric, err)
		}
		for _, c := range merged.Conflicts {
			logger.Warn("conflicting duplicates excluded", "kind", string(c.Kind), "key", c.Key.String(), "sources", c.Sources)
		}
		src.Merged = merged
	} else {
		st, err := openExisting(formatter, opts.Database)
		if err != nil {
			return err
		}
		defer st.Close()
		if src, err = loadStore(cmd.Context(), formatter, st); err != nil {
			return err
		}
	}
	if err := requireMetadata(formatter, src); err != nil {
		return err
	}

	err = report.WriteFile(opts.Output, func(f *os.File) error {
		return report.WriteSummaryCSV(f, src.Merged.Outcomes, src.Metadata)
	})
	if err != nil {
		return commandError(formatter, ErrCodeOutput, err)
	}

	result := SummaryResult{
		Rows:      len(src.Merged.Outcomes),
		Conflicts: len(src.Merged.Conflicts),
		Skipped:   src.Issues,
		Output:    opts.Output,
	}
	if result.Skipped == nil {
		result.Skipped = []LoadIssue{}
	}
	logger.Debug("summary written", "output", opts.Output, "rows", result.Rows)

	var failed error
	if problems := result.Conflicts + len(result.Skipped); problems > 0 {
		failed = NewExitError(ExitFailure, fmt.Sprintf("summary written with %d data problem(s)", problems))
	}

	if formatter.Format == "json" {
		if failed != nil {
			if err := formatter.Failure(ErrCodeInvalid, failed.Error(), result, ""); err != nil {
				return err
			}
			return failed
		}
		return formatter.Success(result)
	}

	mark := "✓"
	if failed != nil {
		mark = "✗"
	}
	fmt.Fprintf(formatter.Writer, "%s Wrote %d row(s) to %s\n", mark, result.Rows, result.Output)
	for _, issue := range result.Skipped {
		fmt.Fprintf(formatter.Writer, "  skipped %s\n", issue)
	}
	if result.Conflicts > 0 {
		fmt.Fprintf(formatter.Writer, "  %d conflicting key(s) excluded\n", result.Conflicts)
	}
	return failed
}
