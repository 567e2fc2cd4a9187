package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSchedule(t *testing.T) {
	cases := map[string]string{
		"0 9 * * *":   "0 9 * * *",
		" 0 2 * * 0 ": "0 2 * * 0",
		"0 0 2 * * 0": "0 0 2 * * 0",
		"@weekly":     "@weekly",
		"@every 30m":  "@every 30m",
		"6h":          "@every 6h0m0s",
		"90m":         "@every 1h30m0s",
	}
	for raw, want := range cases {
		got, err := normalizeSchedule(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestValidateSchedule_Rejects(t *testing.T) {
	for _, bad := range []string{"", "every tuesday", "61 9 * * *", "not-a-schedule", "-5m", "@fortnightly"} {
		assert.Error(t, ValidateSchedule(bad), bad)
	}
}
