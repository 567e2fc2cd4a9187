package immunization

import (
	"math"
	"time"
)

// Days per unit used for age conversions. Months and years use calendar averages.
const (
	daysPerWeek  = 7.0
	daysPerMonth = 30.44
	daysPerYear  = 365.25
)

// ToDays converts an age expressed in unit into whole days (floored).
// Unknown units are treated as days.
func ToDays(value int, unit AgeUnit) int {
	v := float64(value)
	switch unit {
	case UnitWeeks:
		v *= daysPerWeek
	case UnitMonths:
		v *= daysPerMonth
	case UnitYears:
		v *= daysPerYear
	}
	return int(math.Floor(v))
}

// AddDays returns the calendar date n days after date.
func AddDays(date time.Time, n int) time.Time {
	return date.AddDate(0, 0, n)
}

// DateOf truncates t to midnight of its calendar day in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DaysBetween returns the number of calendar days from a to b (negative if b is before a).
// Both values are compared by their calendar date in their own location, so DST
// shifts never produce fractional days.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// AgeInDays is the child's age on the calendar day of now, evaluated in loc.
func AgeInDays(dateOfBirth, now time.Time, loc *time.Location) int {
	return DaysBetween(DateOf(dateOfBirth, loc), DateOf(now, loc))
}
