package calls

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/InahHwang/d-care-console-sub007/internal/application"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/analysis"
	domain "github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/patients"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/stageerrors"
)

// IdentityResolver port implemented by identity.Resolver
type IdentityResolver interface {
	Resolve(ctx context.Context, phone string) (*patients.Match, error)
}

// Service implements call intake, status polling and retrigger use-cases.
// Safe for concurrent use.
type Service struct {
	Repo        domain.Repository
	Analyses    analysis.Repository
	StageErrors stageerrors.Repository
	Blobs       domain.RecordingStore
	Resolver    IdentityResolver
	Scheduler   domain.Scheduler
	Clock       application.Clock
	Logger      *zap.Logger

	// DedupWindow absorbs a call-start event followed by the completion event.
	DedupWindow time.Duration
	// RunBudget marks a PROCESSING_* record as stale once exceeded.
	RunBudget time.Duration
	// Location defines the local day used by RetryFailed.
	Location *time.Location
}

const (
	defaultDedupWindow = 10 * time.Minute
	defaultPollWindow  = 5 * time.Minute
	defaultPollLimit   = 20
	maxPollLimit       = 100
)

func (s *Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Service) window() time.Duration {
	if s.DedupWindow <= 0 {
		return defaultDedupWindow
	}
	return s.DedupWindow
}

//
// ==== INTAKE ====
//

// StartCommand is the call-start event from the phone bridge.
type StartCommand struct {
	CallerNumber string
	CalledNumber string
	Direction    string
	Timestamp    time.Time
}

// IngestCommand is the call-completion event.
type IngestCommand struct {
	CallerNumber      string
	CalledNumber      string
	Direction         string
	RecordingFileName string
	RecordingURL      string
	RecordingPayload  string // base64
	DurationSeconds   int
	Timestamp         time.Time
}

// IntakeResult is returned to the phone bridge.
type IntakeResult struct {
	CallRecordID string                `json:"callRecordId"`
	Status       domain.PipelineStatus `json:"status"`
	Queued       bool                  `json:"queued"`
	Duplicate    bool                  `json:"duplicate,omitempty"`
	Patient      *domain.PatientRef    `json:"patient,omitempty"`
}

func resultOf(rec *domain.CallRecord) *IntakeResult {
	return &IntakeResult{CallRecordID: string(rec.ID), Status: rec.Status, Patient: rec.Patient}
}

func callerDigits(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", &domain.IngestionError{Field: "callerNumber", Reason: "is required"}
	}
	d := patients.NormalizePhone(raw)
	if d == "" {
		return "", &domain.IngestionError{Field: "callerNumber", Reason: "has no digits"}
	}
	return d, nil
}

func parseDirection(s string) (domain.Direction, error) {
	switch domain.Direction(strings.ToLower(strings.TrimSpace(s))) {
	case "", domain.DirectionInbound:
		return domain.DirectionInbound, nil
	case domain.DirectionOutbound:
		return domain.DirectionOutbound, nil
	}
	return "", &domain.IngestionError{Field: "direction", Reason: fmt.Sprintf("unknown value %q", s)}
}

func decodePayload(p string) ([]byte, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return nil, nil
	}
	// data URL form: data:audio/wav;base64,....
	if i := strings.Index(p, ";base64,"); i >= 0 && strings.HasPrefix(p, "data:") {
		p = p[i+len(";base64,"):]
	}
	b, err := base64.StdEncoding.DecodeString(p)
	if err != nil {
		return nil, &domain.IngestionError{Field: "recordingPayload", Reason: "is not valid base64"}
	}
	return b, nil
}

// resolve treats a directory failure as an unknown caller.
func (s *Service) resolve(ctx context.Context, phone string) *domain.PatientRef {
	if s.Resolver == nil {
		return nil
	}
	m, err := s.Resolver.Resolve(ctx, phone)
	if err != nil {
		s.log().Warn("identity lookup failed", zap.Error(err))
		return nil
	}
	return domain.RefFromMatch(m)
}

// Start records a ringing call so caller identity is known before the recording arrives.
func (s *Service) Start(ctx context.Context, cmd StartCommand) (*IntakeResult, error) {
	digits, err := callerDigits(cmd.CallerNumber)
	if err != nil {
		return nil, err
	}
	dir, err := parseDirection(cmd.Direction)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	existing, err := s.Repo.FindRecent(ctx, digits, now.Add(-s.window()))
	if err != nil {
		return nil, err
	}
	if existing != nil && awaitingRecording(existing) {
		return resultOf(existing), nil
	}

	started := cmd.Timestamp
	if started.IsZero() {
		started = now
	}
	rec := &domain.CallRecord{
		ID:           domain.CallID(uuid.New().String()),
		Direction:    dir,
		CallerNumber: cmd.CallerNumber,
		CallerDigits: digits,
		CalledNumber: cmd.CalledNumber,
		Patient:      s.resolve(ctx, cmd.CallerNumber),
		Status:       domain.StatusPending,
		StartedAt:    started,
		CreatedAt:    now,
	}
	if err := s.Repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	return resultOf(rec), nil
}

// awaitingRecording reports a call-start record that no recording has been
// attached to yet. Only such records absorb a completion event.
func awaitingRecording(rec *domain.CallRecord) bool {
	return rec.Status == domain.StatusPending && rec.RecordingRef == "" && rec.RecordingKey == ""
}

// Ingest accepts a finished call. A started call for the same caller inside
// the dedup window is reused; a repeat of an already received recording is
// returned unchanged. Any other recording gets its own record so every blob
// stays with the call it came from. The pipeline is queued when audio is
// available, otherwise the record stays PENDING for a manual retrigger.
func (s *Service) Ingest(ctx context.Context, cmd IngestCommand) (*IntakeResult, error) {
	digits, err := callerDigits(cmd.CallerNumber)
	if err != nil {
		return nil, err
	}
	if cmd.DurationSeconds < 0 {
		return nil, &domain.IngestionError{Field: "durationSeconds", Reason: "must not be negative"}
	}
	dir, err := parseDirection(cmd.Direction)
	if err != nil {
		return nil, err
	}
	audio, err := decodePayload(cmd.RecordingPayload)
	if err != nil {
		return nil, err
	}
	ref := strings.TrimSpace(cmd.RecordingURL)
	if ref == "" {
		ref = strings.TrimSpace(cmd.RecordingFileName)
	}

	now := s.Clock.Now()
	rec, err := s.Repo.FindRecent(ctx, digits, now.Add(-s.window()))
	if err != nil {
		return nil, err
	}
	if rec != nil {
		switch {
		case ref != "" && rec.RecordingRef == ref:
			res := resultOf(rec)
			res.Duplicate = true
			if rec.Status == domain.StatusPending && rec.HasAudioSource() {
				res.Queued = s.Scheduler.Enqueue(rec.ID)
			}
			return res, nil
		case !awaitingRecording(rec):
			rec = nil
		}
	}

	isNew := rec == nil
	if isNew {
		rec = &domain.CallRecord{
			ID:           domain.CallID(uuid.New().String()),
			CallerNumber: cmd.CallerNumber,
			CallerDigits: digits,
			Status:       domain.StatusPending,
			CreatedAt:    now,
		}
	}
	rec.Direction = dir
	if cmd.CalledNumber != "" {
		rec.CalledNumber = cmd.CalledNumber
	}
	rec.DurationSeconds = cmd.DurationSeconds
	if ref != "" {
		rec.RecordingRef = ref
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = cmd.Timestamp
		if rec.StartedAt.IsZero() {
			rec.StartedAt = now
		}
	}
	if rec.Patient == nil {
		rec.Patient = s.resolve(ctx, cmd.CallerNumber)
	}

	if len(audio) > 0 {
		key := domain.RecordingKey(rec.ID, cmd.RecordingFileName)
		if err := s.Blobs.Put(ctx, domain.RecordingBlob{Key: key, Data: audio}); err != nil {
			return nil, fmt.Errorf("store recording: %w", err)
		}
		rec.RecordingKey = key
	}

	if isNew {
		err = s.Repo.Create(ctx, rec)
	} else {
		err = s.Repo.UpdateIntake(ctx, rec)
	}
	if err != nil {
		return nil, err
	}

	res := resultOf(rec)
	if rec.HasAudioSource() {
		res.Queued = s.Scheduler.Enqueue(rec.ID)
	} else {
		s.log().Info("call stored without recording, waiting for retrigger", zap.String("call_id", string(rec.ID)))
	}
	return res, nil
}

//
// ==== STATUS ====
//

// CallStatus is the polling view of one call.
type CallStatus struct {
	CallRecordID  string                `json:"callRecordId"`
	Status        domain.PipelineStatus `json:"status"`
	RetryCount    int                   `json:"retryCount"`
	FailureReason string                `json:"failureReason,omitempty"`
	CallerNumber  string                `json:"callerNumber"`
	CallerName    string                `json:"callerName,omitempty"`
	Patient       *domain.PatientRef    `json:"patient,omitempty"`
	Analysis      *analysis.Result      `json:"analysis,omitempty"`
	Transcript    *analysis.Transcript  `json:"transcript,omitempty"`
	CompletedAt   *time.Time            `json:"completedAt,omitempty"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// StatusPage is a cursor page; pass NextSince as the next since value.
type StatusPage struct {
	Items     []*CallStatus `json:"items"`
	NextSince time.Time     `json:"nextSince"`
}

func (s *Service) view(ctx context.Context, rec *domain.CallRecord) (*CallStatus, error) {
	st := &CallStatus{
		CallRecordID:  string(rec.ID),
		Status:        rec.Status,
		RetryCount:    rec.RetryCount,
		FailureReason: rec.FailureReason,
		CallerNumber:  rec.CallerNumber,
		CallerName:    rec.CallerName,
		Patient:       rec.Patient,
		CompletedAt:   rec.CompletedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	a, err := s.Analyses.LatestByCall(ctx, string(rec.ID))
	if err != nil {
		return nil, err
	}
	st.Analysis = a
	if a == nil {
		st.Transcript = rec.Transcript
	}
	return st, nil
}

// Status returns domain.ErrNotFound for unknown ids.
func (s *Service) Status(ctx context.Context, id domain.CallID) (*CallStatus, error) {
	rec, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, rec)
}

// UpdatedSince lists calls updated after since, oldest change first. A zero
// since means the last five minutes.
func (s *Service) UpdatedSince(ctx context.Context, since time.Time, limit int) (*StatusPage, error) {
	if since.IsZero() {
		since = s.Clock.Now().Add(-defaultPollWindow)
	}
	switch {
	case limit <= 0:
		limit = defaultPollLimit
	case limit > maxPollLimit:
		limit = maxPollLimit
	}

	recs, err := s.Repo.UpdatedSince(ctx, since, limit)
	if err != nil {
		return nil, err
	}
	page := &StatusPage{Items: make([]*CallStatus, 0, len(recs)), NextSince: since}
	for _, rec := range recs {
		v, err := s.view(ctx, rec)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, v)
		page.NextSince = rec.UpdatedAt
	}
	return page, nil
}

// ListStageErrors lists recorded stage failures of a call, newest first.
func (s *Service) ListStageErrors(ctx context.Context, id domain.CallID, limit int) ([]*stageerrors.StageError, error) {
	if _, err := s.Repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.StageErrors.ListByCall(ctx, string(id), limit)
}

//
// ==== RETRIGGER ====
//

// Retrigger resets a finished or stale call to PENDING and queues it. It
// reports false while a live run holds the call or when another reset won.
func (s *Service) Retrigger(ctx context.Context, id domain.CallID) (bool, error) {
	rec, err := s.Repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	log := s.log().With(zap.String("call_id", string(id)))

	switch {
	case rec.Status == domain.StatusPending:
	case rec.Status.Processing():
		if s.Clock.Now().Sub(rec.UpdatedAt) < s.RunBudget || s.RunBudget <= 0 {
			log.Info("retrigger refused, pipeline running", zap.String("status", string(rec.Status)))
			return false, nil
		}
		log.Warn("resetting stale run", zap.Time("updated_at", rec.UpdatedAt))
		fallthrough
	default:
		ok, err := s.Repo.ResetForRetrigger(ctx, id, rec.Status)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if !s.Scheduler.Enqueue(id) {
		log.Debug("call already queued")
	}
	return true, nil
}

// Cancel drops a queued run that has not started. The call stays PENDING.
func (s *Service) Cancel(ctx context.Context, id domain.CallID) (bool, error) {
	if _, err := s.Repo.Get(ctx, id); err != nil {
		return false, err
	}
	return s.Scheduler.Cancel(id), nil
}

// RetryFailed retriggers FAILED and PENDING calls with audio created on the
// given local day (YYYY-MM-DD). It returns how many were accepted.
func (s *Service) RetryFailed(ctx context.Context, day string) (int, error) {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	from, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(day), loc)
	if err != nil {
		return 0, &domain.IngestionError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	recs, err := s.Repo.ListRetryable(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		return 0, err
	}

	accepted := 0
	for _, rec := range recs {
		ok, err := s.Retrigger(ctx, rec.ID)
		if err != nil {
			s.log().Warn("retry-failed: retrigger error", zap.String("call_id", string(rec.ID)), zap.Error(err))
			continue
		}
		if ok {
			accepted++
		}
	}
	s.log().Info("retry-failed done", zap.String("date", day), zap.Int("found", len(recs)), zap.Int("accepted", accepted))
	return accepted, nil
}

// CorrectCallerName stores a manually verified caller name, which then wins
// over any name the pipeline recognizes later.
func (s *Service) CorrectCallerName(ctx context.Context, id domain.CallID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &domain.IngestionError{Field: "name", Reason: "is required"}
	}
	return s.Repo.SetCallerName(ctx, id, name, true)
}
