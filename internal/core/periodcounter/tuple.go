// Package periodcounter implements a fixed-memory rolling counter over
// calendar buckets. Counts are kept at every granularity from "all time"
// down to minutes, each granularity retaining only a bounded window of
// recent buckets; anything older is summed into oblivion on the next
// increment. That makes the counter cheap and bounded at the cost of never
// being able to look further back than the window.
package periodcounter

import (
	"time"

	"bugsink/internal/core/periods"
)

// Calendar positions run (year, month, day, hour, minute). Years below 1000
// don't occur in practice; the bounds exist so the rollover arithmetic has
// somewhere to stop.
var (
	minAt = [5]int{1000, 1, 1, 0, 0}
	maxAt = [5]int{3000, 12, 0, 23, 59} // day is handled by date arithmetic, never this table
)

// Tuple is a calendar bucket key: (year, month, day, hour, minute) truncated
// to a granularity depth. Tuples of equal depth order lexicographically,
// which coincides with chronological order.
type Tuple struct {
	depth periods.Period
	v     [5]int
}

// At returns the calendar tuple for t truncated to depth p.
func At(t time.Time, p periods.Period) Tuple {
	tup := Tuple{depth: p}
	y, mo, d := t.Date()
	full := [5]int{y, int(mo), d, t.Hour(), t.Minute()}
	copy(tup.v[:p], full[:p])
	return tup
}

// Depth returns the granularity this tuple is truncated to.
func (t Tuple) Depth() periods.Period { return t.depth }

// Before reports whether t orders strictly before o. Only meaningful for
// tuples of the same depth.
func (t Tuple) Before(o Tuple) bool {
	for i := 0; i < int(t.depth); i++ {
		if t.v[i] != o.v[i] {
			return t.v[i] < o.v[i]
		}
	}
	return false
}

// Prev returns the tuple n periods before t at t's own depth. Rollovers at
// month and year boundaries are done positionally; a day rollover falls back
// to real date arithmetic because month lengths are irregular.
func (t Tuple) Prev(n int) Tuple {
	if t.depth == periods.Total || n <= 0 {
		return t
	}
	v := t.v
	last := int(t.depth) - 1

	// skip as many whole periods as possible at the least significant
	// position, leaving one step (plus any rollover) for the loop below
	remainder := 0
	if n > 1 {
		chunk := n - 1
		if room := v[last] - minAt[last] - 1; room < chunk {
			chunk = room
		}
		if chunk < 0 {
			chunk = 0
		}
		v[last] -= chunk
		remainder = n - chunk - 1
	}

	for i := last; i >= 0; i-- {
		if v[i] != minAt[i] {
			v[i]--
			break
		}
		if i == 2 {
			// day rollover: positions to the right have already been
			// rolled, so the date below carries them as-is
			d := time.Date(v[0], time.Month(v[1]), v[2], v[3], v[4], 0, 0, time.UTC).AddDate(0, 0, -1)
			y, mo, dd := d.Date()
			v = [5]int{y, int(mo), dd, d.Hour(), d.Minute()}
			break
		}
		v[i] = maxAt[i]
		// no break: keep rolling into the more significant position
	}

	out := Tuple{depth: t.depth, v: v}
	if remainder > 0 {
		return out.Prev(remainder)
	}
	return out
}
