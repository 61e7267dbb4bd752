// Package time contains time related helpers
package time

import (
	"math"
	"time"
)

// maxNano is the latest instant UnixNano can represent (year 2262).
var maxNano = time.Unix(0, math.MaxInt64).UTC()

// Ptr returns a pointer to t or nil if t is zero
func Ptr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// NullableNano converts an optional time to the nanosecond form the
// stores persist, nil staying nil. Times past the UnixNano range are
// clamped to its maximum so a far-future sentinel cannot overflow into
// the past on the round trip.
func NullableNano(t *time.Time) any {
	if t == nil {
		return nil
	}
	if t.After(maxNano) {
		return maxNano.UnixNano()
	}
	return t.UnixNano()
}
