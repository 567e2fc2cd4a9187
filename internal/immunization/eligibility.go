package immunization

// IsEligible reports whether ageInDays falls inside any of the windows
// (inclusive bounds). Windows are independent catch-up periods: one match is enough.
func IsEligible(ageInDays int, windows []AgeWindow) bool {
	return IsEligibleWithin(ageInDays, windows, 0)
}

// IsEligibleWithin is IsEligible with each window's upper bound extended by
// graceDays. The schedule generator uses it so a child who aged out of a window
// within the catch-up grace period still gets the pending dose scheduled.
func IsEligibleWithin(ageInDays int, windows []AgeWindow, graceDays int) bool {
	if graceDays < 0 {
		graceDays = 0
	}
	for _, w := range windows {
		minDays := ToDays(w.MinAge, w.Unit)
		maxDays := ToDays(w.MaxAge, w.Unit) + graceDays
		if ageInDays >= minDays && ageInDays <= maxDays {
			return true
		}
	}
	return false
}
