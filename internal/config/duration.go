package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// parseDays accepts Go durations with an optional leading whole-day term:
// "90d", "1d12h", "-2d". Plain Go durations pass through unchanged.
func parseDays(s string) (time.Duration, error) {
	neg := strings.HasPrefix(s, "-")
	body := strings.TrimPrefix(s, "-")
	i := strings.IndexByte(body, 'd')
	if i < 0 {
		return time.ParseDuration(s)
	}
	n, err := strconv.Atoi(body[:i])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad day count %q", body[:i])
	}
	d := time.Duration(n) * day
	if rest := body[i+1:]; rest != "" {
		extra, err := time.ParseDuration(rest)
		if err != nil {
			return 0, err
		}
		if extra < 0 {
			return 0, fmt.Errorf("sign must lead %q", s)
		}
		d += extra
	}
	if neg {
		d = -d
	}
	return d, nil
}

func parseAt(path, raw string) (time.Duration, bool, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false, nil
	}
	d, err := parseDays(s)
	if err != nil {
		return 0, false, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	return d, true, nil
}

// Duration parses a non-negative duration at path. Empty means 0.
func Duration(path, raw string) (time.Duration, error) {
	d, _, err := parseAt(path, raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// DurationOr is Duration with def for empty or zero values.
func DurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := Duration(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// SignedDurationOr keeps negative values, which callers read as "off".
func SignedDurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, set, err := parseAt(path, raw)
	if err != nil {
		return 0, err
	}
	if !set || d == 0 {
		return def, nil
	}
	return d, nil
}
