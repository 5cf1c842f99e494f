package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/kmeval/internal/config"
	"github.com/roach88/kmeval/internal/evaluate"
	"github.com/roach88/kmeval/internal/report"
	"github.com/roach88/kmeval/internal/store"
	"github.com/roach88/kmeval/internal/telemetry"
)

// EvaluateOptions holds flags for the evaluate command.
type EvaluateOptions struct {
	*RootOptions
	Database          string
	Output            string
	ReportFile        string
	Tolerance         float64
	SignificanceLevel float64
	Workers           int
	MetricsFile       string
}

// EvaluateResult is the JSON payload of the evaluate command.
type EvaluateResult struct {
	Report  *report.Document `json:"report"`
	Skipped []LoadIssue      `json:"skipped"`
	Output  string           `json:"output"`
}

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvaluateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "evaluate [input-dir]",
		Short: "Compute prototype-vs-baseline metrics",
		Long: `Evaluate a dataset and write the per-task metrics CSV.

The dataset is read from [input-dir] (raw collector output, merged in
memory) or, when no directory is given, from the database named by --db.
With --db the run, its task results and its omissions are recorded in the
database either way.

Event logs are validated against the state machine, declared durations
are reconciled against the logs, and every metric and one-sided test that
cannot be computed is reported as an omission with its reason.

Exit status is 1 when input records were skipped, duplicates conflicted,
or event logs failed validation. The metrics CSV is still written.

Examples:
  kmeval evaluate ./raw --output metrics.csv
  kmeval evaluate --db ./kmeval.db --output metrics.csv --alpha 0.01
  kmeval evaluate ./raw -o metrics.csv --format json --report report.json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			inputDir := ""
			if len(args) == 1 {
				inputDir = args[0]
			}
			return runEvaluate(opts, inputDir, cmd)
		},
	}

	def := config.Default()
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database to read the dataset from and record the run in")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "metrics CSV path (required)")
	cmd.Flags().StringVar(&opts.ReportFile, "report", "", "also write the run report to this file (in --format)")
	cmd.Flags().Float64Var(&opts.Tolerance, "tolerance", def.Tolerance, "seconds of declared-vs-derived difference tolerated")
	cmd.Flags().Float64Var(&opts.SignificanceLevel, "alpha", def.SignificanceLevel, "significance level for both tests")
	cmd.Flags().IntVar(&opts.Workers, "workers", def.Workers, "concurrent validation and task workers")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write run counters in Prometheus text format")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

// evaluateConfig applies flags that were set explicitly over the config file.
func evaluateConfig(opts *EvaluateOptions, cmd *cobra.Command) (*config.Config, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("tolerance") {
		cfg.Tolerance = opts.Tolerance
	}
	if flags.Changed("alpha") {
		cfg.SignificanceLevel = opts.SignificanceLevel
	}
	if flags.Changed("workers") {
		cfg.Workers = opts.Workers
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = opts.MetricsFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runEvaluate(opts *EvaluateOptions, inputDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	if inputDir == "" && opts.Database == "" {
		return commandError(formatter, ErrCodeUsage, errors.New("an input directory or --db is required"))
	}

	cfg, err := evaluateConfig(opts, cmd)
	if err != nil {
		return commandError(formatter, ErrCodeConfig, err)
	}
	logger := opts.logger(cmd, cfg)

	if err := refuseExisting(formatter, opts.Output, opts.ReportFile); err != nil {
		return err
	}

	var st *store.Store
	if opts.Database != "" {
		if inputDir == "" {
			st, err = openExisting(formatter, opts.Database)
		} else if st, err = store.Open(opts.Database); err != nil {
			err = commandError(formatter, ErrCodeStore, err)
		}
		if err != nil {
			return err
		}
		defer st.Close()
	}

	var (
		src   *source
		input string
	)
	if inputDir != "" {
		src, err = loadDir(formatter, logger, inputDir)
		input = inputDir
	} else {
		src, err = loadStore(ctx, formatter, st)
		input = opts.Database
	}
	if err != nil {
		return err
	}
	if err := requireMetadata(formatter, src); err != nil {
		return err
	}

	rec := telemetry.NewRecorder()
	evalOpts := evaluate.Options{
		Input:             input,
		Tolerance:         cfg.Tolerance,
		SignificanceLevel: cfg.SignificanceLevel,
		Workers:           cfg.Workers,
		Logger:            logger,
		Recorder:          rec,
	}

	r, err := runEvaluation(ctx, evalOpts, src)
	if err != nil {
		return commandError(formatter, ErrCodeEvaluate, err)
	}

	err = report.WriteFile(opts.Output, func(f *os.File) error {
		return report.WriteMetricsCSV(f, r)
	})
	if err != nil {
		return commandError(formatter, ErrCodeOutput, err)
	}
	formatter.VerboseLog("Wrote %s", opts.Output)

	if st != nil {
		if err := r.Save(ctx, st); err != nil {
			return commandError(formatter, ErrCodeStore, err)
		}
		formatter.VerboseLog("Recorded run %s in %s", r.RunID, opts.Database)
	}

	if cfg.MetricsFile != "" {
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			return commandError(formatter, ErrCodeOutput, err)
		}
	}

	result := EvaluateResult{Report: report.NewDocument(r), Skipped: src.Issues, Output: opts.Output}
	if result.Skipped == nil {
		result.Skipped = []LoadIssue{}
	}

	var failed error
	if problems := len(src.Issues) + len(r.Conflicts) + len(r.ValidationErrors); problems > 0 {
		failed = NewExitError(ExitFailure, fmt.Sprintf("evaluation finished with %d data problem(s)", problems))
	}

	var out bytes.Buffer
	if err := renderEvaluation(&out, formatter.Format, result, r, failed); err != nil {
		return commandError(formatter, ErrCodeOutput, err)
	}
	if opts.ReportFile != "" {
		err := report.WriteFile(opts.ReportFile, func(f *os.File) error {
			_, err := f.Write(out.Bytes())
			return err
		})
		if err != nil {
			return commandError(formatter, ErrCodeOutput, err)
		}
	}
	if _, err := formatter.Writer.Write(out.Bytes()); err != nil {
		return err
	}
	return failed
}

// runEvaluation evaluates a directory source from its raw records and a
// database source from its stored, already merged, dataset.
func runEvaluation(ctx context.Context, opts evaluate.Options, src *source) (*evaluate.Report, error) {
	if src.Input != nil {
		return evaluate.Run(ctx, opts, *src.Input, src.Metadata)
	}
	return evaluate.Evaluate(ctx, opts, src.Merged, src.Metadata)
}

// renderEvaluation writes the run report in format. Text output lists
// skipped input records ahead of the report itself.
func renderEvaluation(w io.Writer, format string, result EvaluateResult, r *evaluate.Report, failed error) error {
	if format == "json" {
		f := &OutputFormatter{Format: format, Writer: w}
		if failed != nil {
			return f.Failure(ErrCodeInvalid, failed.Error(), result, r.RunID)
		}
		return f.encode(CLIResponse{Status: "ok", Data: result, RunID: r.RunID})
	}

	if len(result.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped input records (%d):\n", len(result.Skipped))
		for _, issue := range result.Skipped {
			fmt.Fprintf(w, "  %s\n", issue)
		}
		fmt.Fprintln(w)
	}
	if err := report.WriteText(w, r); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nMetrics written to %s\n", result.Output)
	return nil
}
