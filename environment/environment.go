package environment

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/datatrails/go-servicebus-repro/logger"
)

const (
	logLevelKey     = "LOGLEVEL"
	defaultLogLevel = logger.InfoLevel
)

// GetLogLevel returns the log level. This is called before any logger is
// available, i.e. don't use a logger here.
func GetLogLevel() string {
	return GetWithDefault(logLevelKey, defaultLogLevel)
}

// GetWithDefault returns value of environment variable.
// If the environment variable does not exist the default value is returned.
func GetWithDefault(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		value = fallback
	}
	return value
}

// GetFirst returns the value of the first of keys that is set and not empty.
func GetFirst(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			return value, true
		}
	}
	return "", false
}

// GetIntWithDefault returns value of environment variable that is
// expected to be an int.
// If the environment variable does not exist or is incorrect,
// then the default value is returned.
func GetIntWithDefault(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(val)
	if err != nil {
		logger.Sugar.Infof("`%s' can not be converted to an integer. defaulting to %v. err=%v", key, fallback, err)
		return fallback
	}
	return value
}

// GetDurationWithDefault returns value of environment variable parsed with
// time.ParseDuration ("5s", "2m"...). Missing or malformed values yield the
// fallback.
func GetDurationWithDefault(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(val)
	if err != nil {
		logger.Sugar.Infof("`%s' can not be converted to a duration. defaulting to %v. err=%v", key, fallback, err)
		return fallback
	}
	return value
}

// GetRequired gets the value for the key, or an error if it is not set.
func GetRequired(key string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("required environment variable '%s' is not defined", key)
	}
	return value, nil
}

// GetTruthy returns true if key is set to a value that is truthy. Returns
// false otherwise.
func GetTruthy(key string) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return false
	}
	// t,true,True,1 are all examples of 'truthy' values understood by ParseBool
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return b
}
