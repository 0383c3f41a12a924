package calls

import (
	"context"
	"time"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/analysis"
)

// Repository port (persistence for call records)
type Repository interface {
	Create(ctx context.Context, c *CallRecord) error
	Get(ctx context.Context, id CallID) (*CallRecord, error)
	// FindRecent returns the newest record for the caller digits created at or after since, or (nil, nil).
	FindRecent(ctx context.Context, callerDigits string, since time.Time) (*CallRecord, error)
	UpdateIntake(ctx context.Context, c *CallRecord) error
	SetRecordingKey(ctx context.Context, id CallID, key string) error

	// TransitionStatus is a compare-and-set on the status gate. It reports false
	// when the record was not in from.
	TransitionStatus(ctx context.Context, id CallID, from, to PipelineStatus) (bool, error)

	// The run writes below are guarded the same way and report false when the
	// record has left the expected processing status, e.g. after a retrigger.

	// SaveTranscript requires PROCESSING_TRANSCRIBE.
	SaveTranscript(ctx context.Context, id CallID, t analysis.Transcript, retryCount int) (bool, error)
	// MarkFailed moves the record from the given processing status to FAILED.
	MarkFailed(ctx context.Context, id CallID, from PipelineStatus, reason string, retryCount int) (bool, error)
	// MarkSkipped requires PROCESSING_TRANSCRIBE.
	MarkSkipped(ctx context.Context, id CallID, reason string) (bool, error)
	// MarkCompleted requires PROCESSING_CLASSIFY. A manually corrected caller
	// name is never replaced.
	MarkCompleted(ctx context.Context, id CallID, callerName string, retryCount int, at time.Time) (bool, error)
	// ResetForRetrigger moves a record from the given status back to PENDING and clears failure state.
	ResetForRetrigger(ctx context.Context, id CallID, from PipelineStatus) (bool, error)

	UpdatedSince(ctx context.Context, since time.Time, limit int) ([]*CallRecord, error)
	ListRetryable(ctx context.Context, from, to time.Time) ([]*CallRecord, error)
	// CallerNameHistory lists names of other calls from the same digits, oldest first.
	CallerNameHistory(ctx context.Context, callerDigits string, exclude CallID) ([]NameObservation, error)
	SetCallerName(ctx context.Context, id CallID, name string, manual bool) error
}

// RecordingStore port. Put is write-once: an existing key is left untouched.
type RecordingStore interface {
	Put(ctx context.Context, blob RecordingBlob) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// RecordingFetcher downloads audio referenced by URL.
type RecordingFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Scheduler hands a call to the background pipeline. Cancel drops a job that
// has not started yet.
type Scheduler interface {
	Enqueue(id CallID) bool
	Cancel(id CallID) bool
}
