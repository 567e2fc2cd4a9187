package immunization

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsEligibleSingleWindow(t *testing.T) {
	t.Parallel()
	windows := []AgeWindow{{MinAge: 11, MaxAge: 15, Unit: UnitMonths}}

	assert.False(t, IsEligible(333, windows))
	assert.True(t, IsEligible(334, windows))
	assert.True(t, IsEligible(365, windows))
	assert.True(t, IsEligible(456, windows))
	assert.False(t, IsEligible(457, windows))
}

func TestIsEligibleIsOrAcrossWindows(t *testing.T) {
	t.Parallel()
	windows := []AgeWindow{
		{MinAge: 0, MaxAge: 10, Unit: UnitDays},
		{MinAge: 6, MaxAge: 8, Unit: UnitWeeks},
		{MinAge: 1, MaxAge: 2, Unit: UnitYears},
	}
	for _, age := range []int{0, 10, 42, 56, 365, 730} {
		assert.Truef(t, IsEligible(age, windows), "age %d", age)
		// Eligible in the union means eligible in at least one window on its own.
		hit := false
		for _, w := range windows {
			hit = hit || IsEligible(age, []AgeWindow{w})
		}
		assert.True(t, hit)
	}
	for _, age := range []int{11, 41, 57, 364, 731} {
		assert.Falsef(t, IsEligible(age, windows), "age %d", age)
	}
}

func TestIsEligibleNoWindows(t *testing.T) {
	t.Parallel()
	assert.False(t, IsEligible(100, nil))
}

func TestIsEligibleWithinExtendsUpperBound(t *testing.T) {
	t.Parallel()
	windows := []AgeWindow{{MinAge: 365, MaxAge: 365 + 30, Unit: UnitDays}}

	assert.False(t, IsEligible(400, windows))
	assert.True(t, IsEligibleWithin(400, windows, 30))
	assert.False(t, IsEligibleWithin(500, windows, 30))
	assert.False(t, IsEligibleWithin(364, windows, 30), "grace never lowers the minimum")
	assert.Equal(t, IsEligible(380, windows), IsEligibleWithin(380, windows, -5))
}
