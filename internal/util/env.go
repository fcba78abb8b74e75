// Package util provides small helpers shared across RentBot components:
// environment lookups and random identifier generation.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// EnvOr returns the trimmed value of key, or fallback when it is unset or blank.
func EnvOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// ParseBoolEnv reads a boolean variable. true/1/yes/on and false/0/no/off are
// accepted in any case; anything else yields defaultValue.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: unrecognized boolean, using default", "key", key, "value", val, "default", defaultValue)
	return defaultValue
}
