package environment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/datatrails/go-servicebus-repro/logger"
)

func TestGetRequiredSet(t *testing.T) {
	t.Setenv("ABC", "VAL")
	value, err := GetRequired("ABC")

	assert.Equal(t, "VAL", value)
	assert.Nil(t, err)
}

func TestGetRequiredUnset(t *testing.T) {
	value, err := GetRequired("SURELY_NOT_DEFINED_ANYWHERE")

	assert.Equal(t, "", value)
	assert.Equal(t, "required environment variable 'SURELY_NOT_DEFINED_ANYWHERE' is not defined", err.Error())
}

// TestGetFirst tests:
//
// 1. the first non empty variable wins
// 2. empty variables are skipped
// 3. nothing set reports not found
func TestGetFirst(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		keys     []string
		expected string
		found    bool
	}{
		{
			name:     "first set",
			env:      map[string]string{"FIRST_KEY": "one", "SECOND_KEY": "two"},
			keys:     []string{"FIRST_KEY", "SECOND_KEY"},
			expected: "one",
			found:    true,
		},
		{
			name:     "empty skipped",
			env:      map[string]string{"FIRST_KEY": "", "SECOND_KEY": "two"},
			keys:     []string{"FIRST_KEY", "SECOND_KEY"},
			expected: "two",
			found:    true,
		},
		{
			name: "none set",
			keys: []string{"FIRST_KEY_UNSET", "SECOND_KEY_UNSET"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			for k, v := range test.env {
				t.Setenv(k, v)
			}

			actual, found := GetFirst(test.keys...)

			assert.Equal(t, test.found, found)
			assert.Equal(t, test.expected, actual)
		})
	}
}

func TestGetDurationWithDefault(t *testing.T) {
	logger.New(logger.NoopLevel)
	t.Cleanup(logger.OnExit)

	t.Setenv("SETTLE_DELAY", "7s")
	assert.Equal(t, 7*time.Second, GetDurationWithDefault("SETTLE_DELAY", time.Second))

	t.Setenv("SETTLE_DELAY", "seven seconds")
	assert.Equal(t, time.Second, GetDurationWithDefault("SETTLE_DELAY", time.Second))

	assert.Equal(t, time.Minute, GetDurationWithDefault("POLL_TIMEOUT_UNSET", time.Minute))
}

func TestGetLogLevelDefault(t *testing.T) {
	t.Setenv("LOGLEVEL", "DEBUG")
	assert.Equal(t, "DEBUG", GetLogLevel())
}
