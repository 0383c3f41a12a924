package analysis

import (
	"fmt"
	"strings"
	"time"
)

// ResultID identifier type
type ResultID string

// Speaker role of a transcript segment
type Speaker string

const (
	SpeakerStaff   Speaker = "staff"
	SpeakerCaller  Speaker = "caller"
	SpeakerUnknown Speaker = "unknown"
)

// SpeakerForIndex maps a diarization index to a role. Index 0 is assumed to be
// staff because staff answers the phone first.
func SpeakerForIndex(i int) Speaker {
	switch i {
	case 0:
		return SpeakerStaff
	case 1:
		return SpeakerCaller
	case -1:
		return SpeakerUnknown
	default:
		return Speaker(fmt.Sprintf("speaker_%d", i))
	}
}

// Label is the line prefix used in the formatted transcript.
func (s Speaker) Label() string {
	switch s {
	case SpeakerStaff:
		return "Staff"
	case SpeakerCaller:
		return "Caller"
	case SpeakerUnknown, "":
		return "Unknown"
	}
	if n, ok := strings.CutPrefix(string(s), "speaker_"); ok {
		return "Speaker " + n
	}
	return string(s)
}

// Segment is a run of consecutive words from one speaker.
type Segment struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Transcript value object
type Transcript struct {
	Text            string    `json:"text"`
	Segments        []Segment `json:"segments"`
	Formatted       string    `json:"formatted"`
	Language        string    `json:"language,omitempty"`
	DurationSeconds float64   `json:"durationSeconds,omitempty"`
	Diarized        bool      `json:"diarized"`
}

// Category enum
type Category string

const (
	CategoryNewPatient      Category = "new_patient"
	CategoryReturningNew    Category = "returning_new"
	CategoryExistingPatient Category = "existing_patient"
	CategoryMissed          Category = "missed"
	CategoryVendor          Category = "vendor"
	CategorySpam            Category = "spam"
	CategoryOther           Category = "other"
)

var categories = map[Category]bool{
	CategoryNewPatient: true, CategoryReturningNew: true, CategoryExistingPatient: true,
	CategoryMissed: true, CategoryVendor: true, CategorySpam: true, CategoryOther: true,
}

// Temperature is the lead temperature of the caller.
type Temperature string

const (
	TemperatureHot  Temperature = "hot"
	TemperatureWarm Temperature = "warm"
	TemperatureCold Temperature = "cold"
)

var temperatures = map[Temperature]bool{TemperatureHot: true, TemperatureWarm: true, TemperatureCold: true}

// FollowUp is the next action the front desk should take.
type FollowUp string

const (
	FollowUpBooked         FollowUp = "booked"
	FollowUpCallbackNeeded FollowUp = "callback_needed"
	FollowUpClosed         FollowUp = "closed"
)

var followUps = map[FollowUp]bool{FollowUpBooked: true, FollowUpCallbackNeeded: true, FollowUpClosed: true}

// ConsultationStatus enum
type ConsultationStatus string

const (
	ConsultationAgreed    ConsultationStatus = "agreed"
	ConsultationDisagreed ConsultationStatus = "disagreed"
	ConsultationPending   ConsultationStatus = "pending"
)

// Consultation is the treatment-consultation outcome discussed on the call.
type Consultation struct {
	Status          ConsultationStatus `json:"status"`
	Reason          string             `json:"reason,omitempty"`
	EstimatedAmount int64              `json:"estimatedAmount,omitempty"`
	AppointmentDate string             `json:"appointmentDate,omitempty"`
	DisagreeReasons []string           `json:"disagreeReasons,omitempty"`
	Confidence      float64            `json:"confidence"`
	Inferred        bool               `json:"inferred,omitempty"`
}

// Result is one generated analysis of a call. A call may accumulate several
// results across retriggers; the latest one is current.
type Result struct {
	ID             ResultID     `json:"id"`
	CallID         string       `json:"callId"`
	Transcript     Transcript   `json:"transcript"`
	Category       Category     `json:"category"`
	Temperature    Temperature  `json:"temperature"`
	Summary        string       `json:"summary"`
	Concerns       []string     `json:"concerns"`
	FollowUp       FollowUp     `json:"followUp"`
	Confidence     float64      `json:"confidence"`
	PatientName    string       `json:"patientName,omitempty"`
	Interest       string       `json:"interest,omitempty"`
	InterestDetail string       `json:"interestDetail,omitempty"`
	PreferredTime  string       `json:"preferredTime,omitempty"`
	Consultation   Consultation `json:"consultation"`
	Degraded       bool         `json:"degraded"`
	GeneratedAt    time.Time    `json:"generatedAt"`
}

// FallbackSummary is stored when the model output could not be decoded.
const FallbackSummary = "analysis output could not be parsed"

// Fallback is the deterministic degraded result.
func Fallback() Result {
	return Result{
		Category:    CategoryOther,
		Temperature: TemperatureWarm,
		Summary:     FallbackSummary,
		Concerns:    []string{},
		FollowUp:    FollowUpCallbackNeeded,
		Confidence:  0.5,
		Consultation: Consultation{
			Status:     ConsultationPending,
			Confidence: 0.5,
			Inferred:   true,
		},
		Degraded: true,
	}
}
