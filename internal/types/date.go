package types

import "time"

// TimeUnit is the smallest step between two adjacent periods. A period ends
// one TimeUnit before the next one starts.
const TimeUnit = time.Millisecond

// DaysInMonth returns the number of days of the month t falls in
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampedDate builds a UTC midnight date, collapsing day onto the last day of
// the month when the month is shorter
func ClampedDate(year int, month time.Month, day int) time.Time {
	// normalise month overflow first so DaysInMonth sees the right month
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := DaysInMonth(first.Year(), first.Month())
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// AddClampedDate adds years, months and days to t, keeping the day inside the target month
func AddClampedDate(t time.Time, years, months, days int) time.Time {
	y, m, d := t.Date()
	h, min, sec := t.Clock()

	target := time.Date(y+years, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	lastDay := DaysInMonth(target.Year(), target.Month())

	newD := d
	if newD > lastDay {
		newD = lastDay
	}

	return time.Date(target.Year(), target.Month(), newD, h, min, sec, t.Nanosecond(), t.Location()).AddDate(0, 0, days)
}

// EndOf returns the inclusive end of a period whose successor starts at next
func EndOf(next time.Time) time.Time {
	return next.Add(-TimeUnit)
}

// After returns the first instant of the period following an inclusive end
func After(end time.Time) time.Time {
	return end.Add(TimeUnit)
}

// MinTime returns the earliest of t and the optional bound
func MinTime(t time.Time, bound *time.Time) time.Time {
	if bound != nil && bound.Before(t) {
		return *bound
	}
	return t
}
