package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts 5-field and 6-field (leading seconds) specs and descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// normalizeSchedule turns a job schedule into a spec cron understands.
//
//   - cron expressions and descriptors pass through: "0 9 * * *", "@weekly", "@every 6h"
//   - a bare Go duration becomes an interval: "6h" -> "@every 6h"
func normalizeSchedule(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}
	if !strings.ContainsAny(s, " \t") && !strings.HasPrefix(s, "@") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return "", fmt.Errorf("invalid schedule %q: want a cron expression like \"0 9 * * *\" or a duration like \"6h\"", raw)
		}
		if d <= 0 {
			return "", fmt.Errorf("invalid schedule %q: interval must be > 0", raw)
		}
		s = "@every " + d.String()
	}
	if _, err := cronParser.Parse(s); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return s, nil
}

// ValidateSchedule reports whether raw can be registered.
func ValidateSchedule(raw string) error {
	_, err := normalizeSchedule(raw)
	return err
}
