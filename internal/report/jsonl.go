package report

import (
	"bufio"
	"fmt"
	"io"

	"github.com/roach88/kmeval/internal/ir"
)

// Merge output file names.
const (
	OutcomesFile = "subject_task.jsonl"
	EventsFile   = "state_transitions.jsonl"
)

// WriteOutcomesJSONL writes one canonical JSON outcome record per line.
func WriteOutcomesJSONL(w io.Writer, outcomes []ir.OutcomeRecord) error {
	bw := bufio.NewWriter(w)
	for _, r := range outcomes {
		if err := writeLine(bw, r); err != nil {
			return fmt.Errorf("outcome %s: %w", r.Key(), err)
		}
	}
	return bw.Flush()
}

// WriteEventsJSONL writes every event of every log, one canonical JSON
// event per line, logs in slice order.
func WriteEventsJSONL(w io.Writer, logs []ir.EventLog) error {
	bw := bufio.NewWriter(w)
	for _, log := range logs {
		for i, e := range log.Events {
			if err := writeLine(bw, e); err != nil {
				return fmt.Errorf("event %d of %s: %w", i, log.Key, err)
			}
		}
	}
	return bw.Flush()
}

func writeLine(w *bufio.Writer, v any) error {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.WriteByte('\n')
}
