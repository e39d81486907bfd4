package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration reads a non-negative duration at the given config key.
// Blank means 0.
func ParseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", key, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %s", key, d)
	}
	return d, nil
}

// DurationOr falls back to def when the key is blank or zero.
func DurationOr(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDuration(key, raw)
	if err == nil && d == 0 {
		d = def
	}
	return d, err
}
