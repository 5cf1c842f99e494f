package evaluate

import (
	"context"

	"github.com/roach88/kmeval/internal/store"
)

// Save records the run, its task results and its omissions in s.
func (r *Report) Save(ctx context.Context, s *store.Store) error {
	run := store.Run{
		ID:                r.RunID,
		StartedAt:         r.StartedAt,
		Input:             r.Input,
		Tolerance:         r.Tolerance,
		SignificanceLevel: r.SignificanceLevel,
	}

	omissions := make([]store.Omission, len(r.Omissions))
	for i, o := range r.Omissions {
		omissions[i] = store.Omission{
			Scope:   string(o.Scope),
			Subject: o.Subject(),
			Metric:  o.Metric,
			Reason:  o.Reason,
		}
	}
	return s.WriteRun(ctx, run, r.Tasks, omissions)
}
