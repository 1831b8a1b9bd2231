// Package config reads process settings from the environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"
)

// EnvOrDefault returns the value of key parsed as T, or defaultValue when the variable is
// unset or does not parse.
func EnvOrDefault[T any](key string, defaultValue T) T {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	switch any(defaultValue).(type) {
	case string:
		return any(value).(T)
	case int:
		if intValue, err := strconv.Atoi(value); err == nil {
			return any(intValue).(T)
		}
	case int64:
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return any(intValue).(T)
		}
	case uint:
		if uintValue, err := strconv.ParseUint(value, 10, 0); err == nil {
			return any(uint(uintValue)).(T)
		}
	case float64:
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return any(floatValue).(T)
		}
	case bool:
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return any(boolValue).(T)
		}
	case time.Duration:
		if durationValue, err := time.ParseDuration(value); err == nil {
			return any(durationValue).(T)
		}
	}

	return defaultValue
}

// LoadEnvFile loads variables from path without overriding ones already set.
// An empty path reads ENV_FILE, and a missing default .env is not an error.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = EnvOrDefault("ENV_FILE", ".env")
		_, explicit = os.LookupEnv("ENV_FILE")
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return xerrors.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
