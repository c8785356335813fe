// Package util provides environment variable parsing helpers for the ReEngage binary.
//
// Every helper falls back to its default when the variable is unset and logs a warning
// when it is set to something unparsable.
package util

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// StringEnv returns the trimmed value of key, or defaultValue when unset or blank.
func StringEnv(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

// ParseBoolEnv parses a boolean environment variable with a default value.
// Accepts: true/1/yes/on and false/0/no/off (case-insensitive). Invalid values return default.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		slog.Warn("ParseBoolEnv: invalid boolean value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
}

// ParseDurationEnv parses a Go duration such as "30m" or "3s". Negative values are invalid.
func ParseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		slog.Warn("ParseDurationEnv: invalid duration, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return d
}

// ParseLocationEnv loads an IANA time zone name such as "Asia/Kolkata".
func ParseLocationEnv(key string, defaultValue *time.Location) *time.Location {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	loc, err := time.LoadLocation(val)
	if err != nil {
		slog.Warn("ParseLocationEnv: unknown time zone, using default", "key", key, "value", val, "default", defaultValue, "error", err)
		return defaultValue
	}
	return loc
}

// ParseLevelEnv parses a slog level name (debug, info, warn, error).
func ParseLevelEnv(key string, defaultValue slog.Level) slog.Level {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(val)); err != nil {
		slog.Warn("ParseLevelEnv: invalid log level, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return level
}
