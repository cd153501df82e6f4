// Package throttle defines the error remote capabilities return when they are rate limited.
// The dispatcher uses the carried delay to schedule redelivery instead of retrying at once.
package throttle

import (
	"errors"
	"fmt"
	"time"
)

// Error reports that a remote service asked the caller to back off.
type Error struct {
	Service    string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s rate limited, retry after %s", e.Service, e.RetryAfter)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New returns a throttling error. A non-positive delay is replaced by fallback.
func New(service string, retryAfter, fallback time.Duration, cause error) *Error {
	if retryAfter <= 0 {
		retryAfter = fallback
	}
	return &Error{Service: service, RetryAfter: retryAfter, Cause: cause}
}

// RetryAfter extracts the resume delay from any error chain containing an *Error.
func RetryAfter(err error) (time.Duration, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.RetryAfter, true
	}
	return 0, false
}

// Is reports whether err is a throttling error.
func Is(err error) bool {
	_, ok := RetryAfter(err)
	return ok
}
