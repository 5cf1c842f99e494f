package harness

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/kmeval/internal/evaluate"
	"github.com/roach88/kmeval/internal/logging"
	"github.com/roach88/kmeval/internal/testutil"
)

// Run evaluates a scenario's dataset and checks every assertion against
// the resulting report.
//
// Runs are deterministic: the clock starts at testutil.Epoch, evaluation
// uses a single worker and the run ID is derived from the scenario name.
//
// The returned error is reserved for failures that prevent a report;
// failed assertions are recorded on the Result.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	in, meta := s.Dataset()

	clock := testutil.NewEventClock()
	opts := evaluate.Options{
		Input:             s.Name,
		Tolerance:         s.Tolerance,
		SignificanceLevel: s.SignificanceLevel,
		Workers:           1,
		Logger:            logging.Discard(),
		Now:               clock.Now,
		NewRunID: func() (string, error) {
			return uuid.NewSHA1(uuid.NameSpaceOID, []byte(s.Name)).String(), nil
		},
	}

	report, err := evaluate.Run(ctx, opts, in, meta)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	result := NewResult(report)
	for i, a := range s.Assertions {
		if err := check(report, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return result, nil
}
