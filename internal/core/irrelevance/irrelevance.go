// Package irrelevance scores events for eviction preference. An event's
// total irrelevance is the sum of a fixed-at-creation item score and an
// age score derived from how many epochs ago it was stored; higher totals
// are evicted first.
package irrelevance

import (
	"math"
	"math/bits"
)

// Source yields floats in [0, 1). It exists so tests can pin the randomness;
// production wires math/rand.
type Source interface {
	Float64() float64
}

// NonzeroLeadingBits returns the number of bits from the most significant
// bit down to the last set bit, i.e. the "non-roundness" of n in binary:
//
//	100000 -> 1
//	101000 -> 3
//	110001 -> 6
func NonzeroLeadingBits(n uint64) int {
	if n == 0 {
		return 0
	}
	return bits.Len64(n) - bits.TrailingZeros64(n)
}

// Random returns the item irrelevance for a new event given the number of
// events currently stored for its issue. The more events an issue already
// has, the higher the expected score of new ones, so busy issues produce
// events that are on average easier to evict while still yielding the
// occasional hard-to-evict (round-numbered) one. The randomization avoids
// repeated outcomes when the stored count hovers around one value during
// evict/fill-up cycles; the factor 2 corrects for Float64 averaging 0.5.
func Random(src Source, storedEventCount int) int {
	return NonzeroLeadingBits(uint64(math.Round(src.Float64() * float64(storedEventCount) * 2)))
}

// ForAge returns the age-based irrelevance of an event stored age epochs
// ago: floor(log4(age+1)). The +1 pins zero-aged events at zero. Base 4 is
// tuned so that a one-year-old event sits around 6.5, comparable to being
// one event among several dozen, which keeps old-but-rare events alive.
func ForAge(age int) int {
	n := 0
	for age >= 3 { // 4^(n+1) - 1 at n=0 is 3
		age = (age - 3) / 4
		n++
	}
	return n
}

// AgeForIrrelevance is the inverse of ForAge: the smallest age (in epochs)
// at which the age-based irrelevance reaches the given value, 4^n - 1.
func AgeForIrrelevance(n int) int {
	age := 1
	for i := 0; i < n; i++ {
		age *= 4
	}
	return age - 1
}
