// Package periods defines the calendar granularities used for counting and
// quota windows, plus calendar-aware arithmetic over them.
package periods

import (
	"fmt"
	"time"
)

// Period is a calendar granularity, ordered from coarse to fine. The zero
// value (Total) means "all time". The integer value doubles as the calendar
// tuple depth: a Period p keeps the first int(p) positions of
// (year, month, day, hour, minute).
type Period int

// Granularities from coarse to fine.
const (
	Total Period = iota
	Year
	Month
	Day
	Hour
	Minute
)

var names = [...]string{"total", "year", "month", "day", "hour", "minute"}

func (p Period) String() string {
	if p < Total || p > Minute {
		return fmt.Sprintf("period(%d)", int(p))
	}
	return names[p]
}

// Parse maps a period name ("total".."minute") to its Period.
func Parse(s string) (Period, error) {
	for i, n := range names {
		if n == s {
			return Period(i), nil
		}
	}
	return 0, fmt.Errorf("unknown period %q", s)
}

// Add returns t shifted forward by n periods. Month and year arithmetic
// clamps to the last day of the target month (Jan 31 + 1 month = Feb 28/29)
// rather than normalizing past it.
func Add(t time.Time, p Period, n int) time.Time {
	return shift(t, p, n)
}

// Sub returns t shifted backward by n periods, with the same clamping rules
// as Add.
func Sub(t time.Time, p Period, n int) time.Time {
	return shift(t, p, -n)
}

func shift(t time.Time, p Period, n int) time.Time {
	switch p {
	case Total:
		return t
	case Year:
		return addMonths(t, 12*n)
	case Month:
		return addMonths(t, n)
	case Day:
		return t.AddDate(0, 0, n)
	case Hour:
		return t.Add(time.Duration(n) * time.Hour)
	case Minute:
		return t.Add(time.Duration(n) * time.Minute)
	}
	panic(fmt.Sprintf("shift: %v", p))
}

// addMonths shifts by whole months, clamping the day-of-month. Go's AddDate
// normalizes overflow (Jan 31 + 1 month = Mar 2/3), which is wrong for
// quota windows.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	mo := int(m) - 1 + n
	y += mo / 12
	mo %= 12
	if mo < 0 {
		mo += 12
		y--
	}
	month := time.Month(mo + 1)
	if last := daysIn(y, month); d > last {
		d = last
	}
	h, mi, s := t.Clock()
	return time.Date(y, month, d, h, mi, s, t.Nanosecond(), t.Location())
}

func daysIn(year int, m time.Month) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
