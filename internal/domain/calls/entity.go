package calls

import (
	"path"
	"strings"
	"time"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/analysis"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/patients"
)

// CallID identifier type
type CallID string

// Direction enum
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// PipelineStatus is the state of the transcribe/classify pipeline for one call.
type PipelineStatus string

const (
	StatusPending              PipelineStatus = "PENDING"
	StatusProcessingTranscribe PipelineStatus = "PROCESSING_TRANSCRIBE"
	StatusProcessingClassify   PipelineStatus = "PROCESSING_CLASSIFY"
	StatusCompleted            PipelineStatus = "COMPLETED"
	StatusFailed               PipelineStatus = "FAILED"
	StatusSkipped              PipelineStatus = "SKIPPED"
)

var transitions = map[PipelineStatus][]PipelineStatus{
	StatusPending:              {StatusProcessingTranscribe},
	StatusProcessingTranscribe: {StatusProcessingClassify, StatusFailed, StatusSkipped},
	StatusProcessingClassify:   {StatusCompleted, StatusFailed},
	StatusCompleted:            {StatusPending},
	StatusFailed:               {StatusPending},
	StatusSkipped:              {StatusPending},
}

// CanTransition reports whether from -> to is an edge of the state machine.
// Resetting a stale PROCESSING_* record is handled by Retrigger, not here.
func CanTransition(from, to PipelineStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Processing reports whether a pipeline run currently holds the record.
func (s PipelineStatus) Processing() bool {
	return s == StatusProcessingTranscribe || s == StatusProcessingClassify
}

// Terminal reports whether the pipeline has finished with this record.
func (s PipelineStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Stage of the pipeline, used to tag failures.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageClassify   Stage = "classify"
)

// PatientRef is a weak reference to a directory identity with cached display fields.
type PatientRef struct {
	ID         patients.PatientID  `json:"id"`
	Name       string              `json:"name,omitempty"`
	Confidence patients.Confidence `json:"confidence"`
	MatchType  patients.MatchType  `json:"matchType"`
}

// RefFromMatch returns nil for a nil match.
func RefFromMatch(m *patients.Match) *PatientRef {
	if m == nil {
		return nil
	}
	return &PatientRef{
		ID:         m.Identity.ID,
		Name:       m.Identity.Name,
		Confidence: m.Confidence,
		MatchType:  m.MatchType,
	}
}

// Aggregate Root: CallRecord
type CallRecord struct {
	ID               CallID               `json:"id"`
	Direction        Direction            `json:"direction"`
	CallerNumber     string               `json:"callerNumber"`
	CallerDigits     string               `json:"callerDigits"`
	CalledNumber     string               `json:"calledNumber,omitempty"`
	Patient          *PatientRef          `json:"patient,omitempty"`
	CallerName       string               `json:"callerName,omitempty"`
	CallerNameManual bool                 `json:"callerNameManual"`
	DurationSeconds  int                  `json:"durationSeconds"`
	RecordingRef     string               `json:"recordingRef,omitempty"`
	RecordingKey     string               `json:"recordingKey,omitempty"`
	Status           PipelineStatus       `json:"status"`
	RetryCount       int                  `json:"retryCount"`
	FailureReason    string               `json:"failureReason,omitempty"`
	Transcript       *analysis.Transcript `json:"transcript,omitempty"`
	StartedAt        time.Time            `json:"startedAt"`
	CompletedAt      *time.Time           `json:"completedAt,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// RemoteRecording reports whether RecordingRef can be downloaded.
func (c *CallRecord) RemoteRecording() bool {
	ref := strings.ToLower(c.RecordingRef)
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// HasAudioSource reports whether the pipeline can obtain audio for this call.
func (c *CallRecord) HasAudioSource() bool {
	return c.RecordingKey != "" || c.RemoteRecording()
}

// RecordingKey builds the blob key for a call's audio. The extension of the
// original file name is kept so the content type survives.
func RecordingKey(id CallID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if ext == "" || len(ext) > 5 {
		ext = ".wav"
	}
	return "recordings/" + string(id) + ext
}

// NameObservation is a caller name seen on an earlier call from the same number.
type NameObservation struct {
	CallID     CallID
	Name       string
	Manual     bool
	ObservedAt time.Time
}

// RecordingBlob is the immutable audio of one call.
type RecordingBlob struct {
	Key         string
	ContentType string
	Data        []byte
}
