package errhandling

import (
	"errors"
	"fmt"
)

type transientError struct {
	desc string
	err  error
}

func (e *transientError) Error() string {
	return e.desc + ": " + e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// NewTransientError marks err as transient. Whether to retry, carry on or
// give up is left to the caller.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{
		desc: "transient error",
		err:  err,
	}
}

func NewTransientErrorf(format string, a ...any) error {
	return NewTransientError(fmt.Errorf(format, a...))
}

// IsTransient returns true if err, or any error it wraps, was marked with
// NewTransientError.
func IsTransient(err error) bool {
	var target *transientError

	return errors.As(err, &target)
}

// Describe prefixes msg with "Transient" or "Non transient" according to err.
func Describe(err error, msg string) string {
	if IsTransient(err) {
		return "Transient " + msg
	}
	return "Non transient " + msg
}
