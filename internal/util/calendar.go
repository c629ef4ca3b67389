package util

import "time"

// Midnight truncates t to its calendar date in UTC. All simulator dates are
// day-granular.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextWeekdayOnOrAfter returns the first date with the given weekday that is
// on or after t.
func NextWeekdayOnOrAfter(t time.Time, day time.Weekday) time.Time {
	t = Midnight(t)
	ahead := (int(day) - int(t.Weekday()) + 7) % 7
	return t.AddDate(0, 0, ahead)
}

// NextWeekdayAfter returns the first date with the given weekday that is
// strictly after t.
func NextWeekdayAfter(t time.Time, day time.Weekday) time.Time {
	return NextWeekdayOnOrAfter(Midnight(t).AddDate(0, 0, 1), day)
}

// SameDate reports whether a and b fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	return Midnight(a).Equal(Midnight(b))
}
