package periodcounter

import (
	"time"

	"bugsink/internal/core/periods"
)

// How many buckets each granularity retains. The windows roughly cover the
// span of the next coarser granularity; history beyond them is dropped.
var maxAge = [int(periods.Minute) + 1]int{
	periods.Total:  1,
	periods.Year:   5,
	periods.Month:  12,
	periods.Day:    30,
	periods.Hour:   24,
	periods.Minute: 60,
}

// Purpose names a group of threshold checks so callers can tell outcomes
// apart ("unmute", "quota").
type Purpose string

// ThresholdSpec asks Inc whether the rolling count over the last NrOfPeriods
// buckets at Period granularity has reached GTE. Metadata is opaque and
// returned with the outcome so the caller can tie it back to its cause.
type ThresholdSpec struct {
	Period      periods.Period
	NrOfPeriods int
	GTE         int64
	Metadata    any
}

// Outcome is the evaluation of one ThresholdSpec at the time of an Inc.
type Outcome struct {
	Exceeded bool
	Metadata any
}

// PeriodCounter keeps rolling counts per granularity. It is not safe for
// concurrent use; the owning registry serializes access.
type PeriodCounter struct {
	counts [int(periods.Minute) + 1]map[Tuple]int64
}

// New returns an empty counter.
func New() *PeriodCounter {
	pc := &PeriodCounter{}
	for i := range pc.counts {
		pc.counts[i] = make(map[Tuple]int64)
	}
	return pc
}

// Inc records n events at the given UTC instant and evaluates the supplied
// thresholds against the updated counts. Outcomes are returned per purpose,
// in the order the specs were given. Panics on a non-UTC timestamp: every
// stored timestamp in the system is UTC and anything else is a caller bug.
func (pc *PeriodCounter) Inc(
	at time.Time, n int64, thresholds map[Purpose][]ThresholdSpec,
) map[Purpose][]Outcome {
	if at.Location() != time.UTC {
		panic("periodcounter: timestamp must be UTC")
	}

	for p := periods.Total; p <= periods.Minute; p++ {
		pc.incAt(p, At(at, p), n)
	}

	if len(thresholds) == 0 {
		return nil
	}
	out := make(map[Purpose][]Outcome, len(thresholds))
	for purpose, specs := range thresholds {
		outcomes := make([]Outcome, 0, len(specs))
		for _, spec := range specs {
			outcomes = append(outcomes, Outcome{
				Exceeded: pc.state(At(at, spec.Period), spec),
				Metadata: spec.Metadata,
			})
		}
		out[purpose] = outcomes
	}
	return out
}

// incAt bumps the bucket for tup, first pruning buckets that fell out of the
// retention window for that granularity. Pruning happens only when a new
// bucket appears, so a burst within one bucket costs one map write.
func (pc *PeriodCounter) incAt(p periods.Period, tup Tuple, n int64) {
	m := pc.counts[p]
	if _, ok := m[tup]; !ok {
		minTup := tup.Prev(maxAge[p] - 1)
		for k := range m {
			if k.Before(minTup) {
				delete(m, k)
			}
		}
		m[tup] = 0
	}
	m[tup] += n
}

// state sums the retained buckets covering the spec's window and compares
// against the threshold. Buckets older than the granularity's retention
// window are gone, so a window larger than the retention cap silently
// undercounts; specs are expected to stay within the caps.
func (pc *PeriodCounter) state(tup Tuple, spec ThresholdSpec) bool {
	minTup := tup.Prev(spec.NrOfPeriods - 1)
	var total int64
	for k, v := range pc.counts[spec.Period] {
		if !k.Before(minTup) {
			total += v
		}
	}
	return total >= spec.GTE
}
