package domain

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned when a job id or (record, operation) pair does
// not match any row. Marking an unknown job surfaces this to the caller.
var ErrJobNotFound = errors.New("job not found")

// TransientError marks a failure that is expected to succeed on retry:
// timeouts, throttling, connectivity. The retry controller reschedules
// jobs failing with a transient error until retries are exhausted.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a failure that retrying cannot fix: malformed input,
// validation rejection. Jobs failing permanently go straight to FAILED.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Transientf wraps a formatted error as a TransientError.
func Transientf(format string, args ...interface{}) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// Permanentf wraps a formatted error as a PermanentError.
func Permanentf(format string, args ...interface{}) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is classified transient.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is classified permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
