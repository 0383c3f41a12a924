package analysis

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("```(?:json|JSON)?\\s*([\\s\\S]*?)```")

// DefaultConfidence applies when the model omits a confidence score.
const DefaultConfidence = 0.8

// inferredConsultationWeight discounts a consultation outcome derived from other fields.
const inferredConsultationWeight = 0.7

// ParseError describes why a model response could not be decoded.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis decode: %s: %v", e.Reason, e.Err)
	}
	return "analysis decode: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// wire shape requested from the model
type wireResult struct {
	Category       string            `json:"category"`
	Temperature    string            `json:"temperature"`
	Summary        string            `json:"summary"`
	Concerns       []string          `json:"concerns"`
	FollowUp       string            `json:"followUp"`
	Confidence     *float64          `json:"confidence"`
	PatientName    string            `json:"patientName"`
	Interest       string            `json:"interest"`
	InterestDetail string            `json:"interestDetail"`
	PreferredTime  string            `json:"preferredTime"`
	Consultation   *wireConsultation `json:"consultation"`
}

type wireConsultation struct {
	Status          string   `json:"status"`
	Reason          string   `json:"reason"`
	EstimatedAmount int64    `json:"estimatedAmount"`
	AppointmentDate string   `json:"appointmentDate"`
	DisagreeReasons []string `json:"disagreeReasons"`
	Confidence      *float64 `json:"confidence"`
}

// StripFences returns the body of the first fenced code block, or the trimmed
// input when there is none.
func StripFences(raw string) string {
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

// Decode validates a model response against the classification schema. The
// returned error is always a *ParseError. Transcript, ID, CallID and
// GeneratedAt are left for the caller.
func Decode(raw string) (Result, error) {
	body := StripFences(raw)
	if body == "" {
		return Result{}, &ParseError{Reason: "empty response"}
	}

	var w wireResult
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return Result{}, &ParseError{Reason: "invalid json", Err: err}
	}

	category := Category(enumKey(w.Category))
	if !categories[category] {
		return Result{}, &ParseError{Reason: fmt.Sprintf("unknown category %q", w.Category)}
	}
	temperature := Temperature(enumKey(w.Temperature))
	if !temperatures[temperature] {
		return Result{}, &ParseError{Reason: fmt.Sprintf("unknown temperature %q", w.Temperature)}
	}
	summary := strings.TrimSpace(w.Summary)
	if summary == "" {
		return Result{}, &ParseError{Reason: "missing summary"}
	}

	followUp := FollowUp(enumKey(w.FollowUp))
	if !followUps[followUp] {
		followUp = FollowUpCallbackNeeded
	}

	confidence := DefaultConfidence
	if w.Confidence != nil {
		confidence = clamp01(*w.Confidence)
	}

	res := Result{
		Category:       category,
		Temperature:    temperature,
		Summary:        summary,
		Concerns:       compact(w.Concerns),
		FollowUp:       followUp,
		Confidence:     confidence,
		PatientName:    strings.TrimSpace(w.PatientName),
		Interest:       strings.TrimSpace(w.Interest),
		InterestDetail: strings.TrimSpace(w.InterestDetail),
		PreferredTime:  strings.TrimSpace(w.PreferredTime),
	}
	res.Consultation = decodeConsultation(w.Consultation, res)
	return res, nil
}

func decodeConsultation(w *wireConsultation, r Result) Consultation {
	if w == nil {
		return InferConsultation(r)
	}
	status := ConsultationStatus(enumKey(w.Status))
	switch status {
	case ConsultationAgreed, ConsultationDisagreed, ConsultationPending:
	default:
		return InferConsultation(r)
	}
	c := Consultation{
		Status:          status,
		Reason:          strings.TrimSpace(w.Reason),
		AppointmentDate: strings.TrimSpace(w.AppointmentDate),
		DisagreeReasons: compact(w.DisagreeReasons),
		Confidence:      r.Confidence,
	}
	if w.EstimatedAmount > 0 {
		c.EstimatedAmount = w.EstimatedAmount
	}
	if w.Confidence != nil {
		c.Confidence = clamp01(*w.Confidence)
	}
	return c
}

// InferConsultation derives a consultation outcome when the model gave none.
func InferConsultation(r Result) Consultation {
	c := Consultation{
		Status:     ConsultationPending,
		Confidence: r.Confidence * inferredConsultationWeight,
		Inferred:   true,
	}
	switch {
	case r.FollowUp == FollowUpBooked && r.Temperature == TemperatureHot:
		c.Status = ConsultationAgreed
		c.Reason = "appointment booked on the call"
	case r.FollowUp == FollowUpClosed && r.Temperature == TemperatureCold:
		c.Status = ConsultationDisagreed
		c.Reason = "caller closed the conversation without interest"
	default:
		c.Reason = "decision not reached on the call"
	}
	return c
}

func enumKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
