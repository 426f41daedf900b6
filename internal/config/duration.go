package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations are carried as strings in the config file ("30s", "10m") so
// operators can edit them without counting nanoseconds. An empty string
// means "unset"; callers decide whether unset falls back to a default.

// ParseDurationField decodes one duration field. path names the field in
// the error so validation messages point at the offending key.
func ParseDurationField(path, raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with unset (or zero)
// resolving to def.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
