package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/kmeval/internal/evaluate"
	"github.com/roach88/kmeval/internal/ingest"
	"github.com/roach88/kmeval/internal/ir"
	"github.com/roach88/kmeval/internal/merge"
	"github.com/roach88/kmeval/internal/report"
	"github.com/roach88/kmeval/internal/store"
	"github.com/roach88/kmeval/internal/telemetry"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	OutputDir   string
	Database    string
	MetricsFile string
}

// MergeResult describes what merge wrote.
type MergeResult struct {
	Outcomes   int                    `json:"outcomes"`
	EventLogs  int                    `json:"event_logs"`
	Identical  map[merge.Kind]int     `json:"identical"`
	Conflicts  []report.ConflictEntry `json:"conflicts"`
	Skipped    []LoadIssue            `json:"skipped"`
	Incomplete []ir.Key               `json:"incomplete"`
	Files      []string               `json:"files"`
	Database   string                 `json:"database,omitempty"`
	Stored     *StoredCounts          `json:"stored,omitempty"`
}

// StoredCounts are the records that were new to the database.
type StoredCounts struct {
	Outcomes  int `json:"outcomes"`
	EventLogs int `json:"event_logs"`
	Tasks     int `json:"tasks"`
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merge <input-dir>",
		Short: "Consolidate raw collector output",
		Long: `Merge every outcome record and transition event under <input-dir>
into one dataset keyed by (subject, task, condition).

Writes subject_task.jsonl and state_transitions.jsonl to the output
directory and copies task_metadata.csv next to them. With --db the merged
dataset is also stored in a SQLite database for later evaluate, summary
and runs commands.

Identical duplicates are kept once. Conflicting duplicates are excluded
and reported; the command then exits with status 1.

Examples:
  kmeval merge ./raw --output ./merged
  kmeval merge ./raw --output ./merged --db ./kmeval.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.OutputDir, "output", "o", "", "output directory (required)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database to store the merged dataset in")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write merge counters in Prometheus text format")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runMerge(opts *MergeOptions, inputDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	cfg, err := opts.loadConfig()
	if err != nil {
		return commandError(formatter, ErrCodeConfig, err)
	}
	if cmd.Flags().Changed("metrics-file") {
		cfg.MetricsFile = opts.MetricsFile
	}
	logger := opts.logger(cmd, cfg)

	outcomesPath := filepath.Join(opts.OutputDir, report.OutcomesFile)
	eventsPath := filepath.Join(opts.OutputDir, report.EventsFile)
	metadataPath := filepath.Join(opts.OutputDir, ingest.MetadataFile)
	if err := refuseExisting(formatter, outcomesPath, eventsPath, metadataPath); err != nil {
		return err
	}

	src, err := loadDir(formatter, logger, inputDir)
	if err != nil {
		return err
	}

	merged, err := merge.Merge(*src.Input)
	if err != nil {
		return commandError(formatter, ingest.ErrCodeGeneric, err)
	}
	rec := telemetry.NewRecorder()
	evaluate.RecordMerge(rec, logger, merged)

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return commandError(formatter, ErrCodeOutput, fmt.Errorf("create output directory: %w", err))
	}

	// Sequences that lost lines at load are never written.
	complete, incomplete := merged.Complete()

	result := MergeResult{
		Outcomes:   len(complete.Outcomes),
		EventLogs:  len(complete.EventLogs),
		Incomplete: append([]ir.Key{}, incomplete...),
		Identical:  merged.Identical,
		Conflicts:  make([]report.ConflictEntry, 0, len(merged.Conflicts)),
		Skipped:    src.Issues,
		Files:      []string{},
	}
	for _, c := range merged.Conflicts {
		result.Conflicts = append(result.Conflicts, report.ConflictEntry{Kind: string(c.Kind), Key: c.Key, Sources: c.Sources})
	}

	err = report.WriteFile(outcomesPath, func(f *os.File) error {
		return report.WriteOutcomesJSONL(f, complete.Outcomes)
	})
	if err != nil {
		return commandError(formatter, ErrCodeOutput, err)
	}
	result.Files = append(result.Files, outcomesPath)

	err = report.WriteFile(eventsPath, func(f *os.File) error {
		return report.WriteEventsJSONL(f, complete.EventLogs)
	})
	if err != nil {
		return commandError(formatter, ErrCodeOutput, err)
	}
	result.Files = append(result.Files, eventsPath)

	if src.MetadataPath != "" {
		if err := copyFile(src.MetadataPath, metadataPath); err != nil {
			return commandError(formatter, ErrCodeOutput, err)
		}
		result.Files = append(result.Files, metadataPath)
	}
	for _, p := range result.Files {
		formatter.VerboseLog("Wrote %s", p)
	}

	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return commandError(formatter, ErrCodeStore, err)
		}
		defer st.Close()

		outcomes, logs, err := st.WriteDataset(ctx, complete)
		if err != nil {
			return commandError(formatter, ErrCodeStore, err)
		}
		if err := st.WriteMetadata(ctx, src.Metadata); err != nil {
			return commandError(formatter, ErrCodeStore, err)
		}
		result.Database = opts.Database
		result.Stored = &StoredCounts{Outcomes: outcomes, EventLogs: logs, Tasks: len(src.Metadata)}
		logger.Info("dataset stored", "db", opts.Database, "new_outcomes", outcomes, "new_event_logs", logs)
	}

	if cfg.MetricsFile != "" {
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			return commandError(formatter, ErrCodeOutput, err)
		}
	}

	return outputMergeResult(formatter, result)
}

// copyFile copies src to a new file at dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	defer in.Close()

	return report.WriteFile(dst, func(f *os.File) error {
		_, err := io.Copy(f, in)
		return err
	})
}

func outputMergeResult(formatter *OutputFormatter, result MergeResult) error {
	problems := len(result.Conflicts) + len(result.Skipped) + len(result.Incomplete)
	var failed error
	if problems > 0 {
		failed = NewExitError(ExitFailure, fmt.Sprintf("merge finished with %d problem(s)", problems))
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

	w := formatter.Writer
	mark := "✓"
	if failed != nil {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s Merged %d outcome record(s) and %d event log(s)\n", mark, result.Outcomes, result.EventLogs)
	for _, p := range result.Files {
		fmt.Fprintf(w, "  wrote %s\n", p)
	}
	if result.Stored != nil {
		fmt.Fprintf(w, "  stored %d new outcome record(s), %d new event log(s) in %s\n",
			result.Stored.Outcomes, result.Stored.EventLogs, result.Database)
	}
	if n := result.Identical[merge.KindOutcome] + result.Identical[merge.KindEventLog]; n > 0 {
		fmt.Fprintf(w, "  %d identical duplicate(s) kept once\n", n)
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(w, "\nSkipped records (%d):\n", len(result.Skipped))
		for _, issue := range result.Skipped {
			fmt.Fprintf(w, "  %s\n", issue)
		}
	}
	if len(result.Incomplete) > 0 {
		fmt.Fprintf(w, "\nIncomplete event logs excluded (%d):\n", len(result.Incomplete))
		for _, k := range result.Incomplete {
			fmt.Fprintf(w, "  %s\n", k)
		}
	}
	if len(result.Conflicts) > 0 {
		fmt.Fprintf(w, "\nConflicting duplicates excluded (%d):\n", len(result.Conflicts))
		for _, c := range result.Conflicts {
			fmt.Fprintf(w, "  %s %s: %v\n", c.Kind, c.Key, c.Sources)
		}
	}
	return failed
}
