package calls

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a call record does not exist.
var ErrNotFound = errors.New("call record not found")

// ErrNoRecording means neither a stored blob nor a downloadable reference exists.
var ErrNoRecording = errors.New("recording not available")

// IngestionError rejects a malformed intake event.
type IngestionError struct {
	Field  string
	Reason string
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("invalid call event: %s %s", e.Field, e.Reason)
}
