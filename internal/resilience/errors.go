package resilience

import (
	"context"
	"errors"
)

// PermanentError wraps an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not retryable. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err or anything it wraps is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Retryable is the default policy: everything except permanent errors and
// context cancellation.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !IsPermanent(err)
}

// IsTransientHTTPStatus returns true for statuses worth retrying.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return statusCode >= 500
	}
}

// FromHTTPStatus marks client errors permanent, leaving transient statuses retryable.
func FromHTTPStatus(err error, statusCode int) error {
	if err == nil {
		return nil
	}
	if statusCode >= 400 && !IsTransientHTTPStatus(statusCode) {
		return Permanent(err)
	}
	return err
}
