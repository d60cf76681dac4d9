package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses an optional duration setting. Empty means zero;
// negative values are rejected. path only labels the error.
func ParseDurationField(path, raw string) (time.Duration, error) {
	return parseDuration(path, raw, 0)
}

// ParseDurationOrDefault is ParseDurationField with def standing in for an
// empty or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDuration(path, raw, 0)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// ParseDurationBounded is ParseDurationOrDefault with an upper bound. Plugins
// use it for timeouts that must fit inside the command deadline.
func ParseDurationBounded(path, raw string, def, max time.Duration) (time.Duration, error) {
	d, err := parseDuration(path, raw, max)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

func parseDuration(path, raw string, max time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case max > 0 && d > max:
		return 0, fmt.Errorf("%s: %s exceeds the %s limit", path, d, max)
	}
	return d, nil
}
