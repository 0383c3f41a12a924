package calls

import (
	"context"
	"time"
)

// EventAnalysisComplete is the event type published when a call reaches COMPLETED.
const EventAnalysisComplete = "analysis-complete"

// AnalysisCompleted is the payload consumed by notification collaborators.
type AnalysisCompleted struct {
	CallRecordID string    `json:"callRecordId"`
	PatientID    string    `json:"patientId,omitempty"`
	CallerNumber string    `json:"callerNumber"`
	CallerName   string    `json:"callerName,omitempty"`
	Category     string    `json:"category"`
	Temperature  string    `json:"temperature"`
	Summary      string    `json:"summary"`
	Degraded     bool      `json:"degraded"`
	CompletedAt  time.Time `json:"completedAt"`
}

// EventPublisher port
type EventPublisher interface {
	PublishAnalysisCompleted(ctx context.Context, e AnalysisCompleted) error
}
