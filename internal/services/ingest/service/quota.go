package service

import (
	"context"
	"time"

	"bugsink/internal/core/periods"
	ptime "bugsink/internal/platform/time"
	"bugsink/internal/services/ingest/domain"

	evdom "bugsink/internal/services/events/domain"
)

// checkForThresholds is the seam the project quota gate goes through;
// tests swap it to count evaluations.
var checkForThresholds = CheckForThresholds

// farFuture stands in for "this condition never self-clears" on the
// unbounded total period; we'll deal with it by the end of the myria-annum.
var farFuture = time.Date(9999, 12, 31, 23, 59, 0, 0, time.UTC)

// WindowFunc returns the digest-order window stats of one scope (project
// or issue) for events digested at or after since, everything when since
// is nil.
type WindowFunc func(ctx context.Context, since *time.Time) (evdom.WindowStats, error)

// CheckForThresholds evaluates each threshold against the scope behind
// window at the given instant. Panics on a non-UTC now.
//
// The count of events in a period is approximated as the difference of
// the scope's digest-order sequence between the first and last event in
// the window, plus addForCurrent for an event that is being digested but
// not yet stored. The difference is insensitive to gaps left by eviction,
// so the approximation can overcount by at most the number of events
// evicted from inside the window; two indexed point lookups instead of a
// row count is the trade.
func CheckForThresholds(
	ctx context.Context,
	window WindowFunc,
	now time.Time,
	thresholds []domain.Threshold,
	addForCurrent int64,
) ([]domain.ThresholdState, error) {
	if now.Location() != time.UTC {
		panic("ingest: now must be UTC")
	}

	states := make([]domain.ThresholdState, 0, len(thresholds))
	for _, spec := range thresholds {
		var since *time.Time
		if spec.Period != periods.Total {
			s := periods.Sub(now, spec.Period, spec.NrOfPeriods)
			since = &s
		}

		stats, err := window(ctx, since)
		if err != nil {
			return nil, err
		}
		total := stats.ApproximateCount() + addForCurrent

		state := domain.ThresholdState{
			Exceeded:        total >= spec.GTE,
			CheckAgainAfter: spec.GTE - total,
			Spec:            spec,
		}
		if state.Exceeded {
			if spec.Period == periods.Total {
				state.BelowFrom = ptime.Ptr(farFuture)
			} else {
				// first moment the condition no longer holds: one window
				// length past the oldest event in it; an empty window
				// (gte 0) falls back to now
				start := now
				if stats.Found {
					start = stats.MinDigestedAt
				}
				state.BelowFrom = ptime.Ptr(periods.Add(start, spec.Period, spec.NrOfPeriods))
			}
		}
		states = append(states, state)
	}
	return states, nil
}
