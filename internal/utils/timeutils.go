package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 parses a timestamp from query parameters and payloads. Empty
// input is an error; callers treat absent values as "unset" before calling.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}
