package httpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InahHwang/d-care-console-sub007/internal/application"
	appcalls "github.com/InahHwang/d-care-console-sub007/internal/application/calls"
	"github.com/InahHwang/d-care-console-sub007/internal/application/identity"
	domai "github.com/InahHwang/d-care-console-sub007/internal/domain/ai"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/patients"
	"github.com/InahHwang/d-care-console-sub007/internal/infra/db/memory"
	"github.com/InahHwang/d-care-console-sub007/internal/middleware"
)

const testKey = "console-key"

type recordingScheduler struct{ queued []calls.CallID }

func (s *recordingScheduler) Enqueue(id calls.CallID) bool {
	s.queued = append(s.queued, id)
	return true
}

func (s *recordingScheduler) Cancel(calls.CallID) bool { return false }

type testServer struct {
	handler http.Handler
	repo    *memory.CallRepository
	dir     *memory.Directory
	sched   *recordingScheduler
	clock   *application.ManualClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := application.NewManualClock(time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC))
	repo := memory.NewCallRepository(clock.Now)
	dir := memory.NewDirectory()
	dir.Upsert(patients.Identity{ID: "p-kim", Name: "Kim"}, patients.PhoneSet{Primary: "010-1234-5678"})
	resolver := identity.NewResolver(dir, nil)
	sched := &recordingScheduler{}

	svc := &appcalls.Service{
		Repo:        repo,
		Analyses:    memory.NewAnalysisRepository(),
		StageErrors: memory.NewStageErrorRepository(),
		Blobs:       memory.NewRecordingStore(),
		Resolver:    resolver,
		Scheduler:   sched,
		Clock:       clock,
		RunBudget:   time.Minute,
	}
	h := NewRouter(Options{
		Calls:    svc,
		Identity: resolver,
		Phones:   dir,
		APIKeys:  map[string]string{"console": testKey},
		Health: map[string]middleware.HealthChecker{
			"db": middleware.CheckFunc(func(context.Context) error { return nil }),
		},
	})
	return &testServer{handler: h, repo: repo, dir: dir, sched: sched, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRouter_HealthAndMetricsArePublic(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/health", "/health/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouter_RequiresAPIKey(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_IngestAndPoll(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/calls/recordings", map[string]any{
		"callerNumber":      "010-1234-5678",
		"recordingFileName": "call.wav",
		"recordingPayload":  base64.StdEncoding.EncodeToString([]byte("RIFF....WAVE")),
		"durationSeconds":   42,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	res := decodeBody[appcalls.IntakeResult](t, rec)
	assert.True(t, res.Queued)
	assert.Equal(t, calls.StatusPending, res.Status)
	require.NotNil(t, res.Patient)
	assert.Equal(t, patients.PatientID("p-kim"), res.Patient.ID)
	assert.Equal(t, []calls.CallID{calls.CallID(res.CallRecordID)}, s.sched.queued)

	rec = s.do(t, http.MethodGet, "/v1/calls/"+res.CallRecordID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[appcalls.CallStatus](t, rec)
	assert.Equal(t, calls.StatusPending, st.Status)
	assert.Equal(t, "010-1234-5678", st.CallerNumber)

	rec = s.do(t, http.MethodGet, "/v1/calls/status?since="+s.clock.Now().Add(-time.Minute).Format(time.RFC3339), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[appcalls.StatusPage](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, res.CallRecordID, page.Items[0].CallRecordID)

	rec = s.do(t, http.MethodGet, "/v1/calls/"+res.CallRecordID+"/errors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRouter_IngestValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/calls/recordings", map[string]any{"durationSeconds": 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "callerNumber")

	rec = s.do(t, http.MethodPost, "/v1/calls/recordings", map[string]any{
		"callerNumber": "01012345678",
		"recordingUrl": "file:///etc/passwd",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/calls/recordings", strings.NewReader("{"))
	req.Header.Set("X-API-Key", testKey)
	raw := httptest.NewRecorder()
	s.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestRouter_StatusNotFoundAndBadID(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/calls/7f1c1d38-3f0e-4d55-9f4c-1a2b3c4d5e6f/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/calls/nope/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_Actions(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/calls/start", map[string]any{"callerNumber": "01099998888"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[appcalls.IntakeResult](t, rec)
	id := calls.CallID(res.CallRecordID)

	ok, err := s.repo.TransitionStatus(t.Context(), id, calls.StatusPending, calls.StatusProcessingTranscribe)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.repo.MarkFailed(t.Context(), id, calls.StatusProcessingTranscribe, "transcribe: boom", 3)
	require.NoError(t, err)
	require.True(t, ok)

	rec = s.do(t, http.MethodPost, "/v1/calls/"+string(id)+"/actions", map[string]string{"action": "retrigger"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["accepted"])
	assert.Contains(t, s.sched.queued, id)

	rec = s.do(t, http.MethodPost, "/v1/calls/"+string(id)+"/actions", map[string]string{"action": "explode"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/v1/calls/"+string(id)+"/caller-name", map[string]string{"name": "Park"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	got, err := s.repo.Get(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, "Park", got.CallerName)
	assert.True(t, got.CallerNameManual)
}

func TestRouter_RetryFailedValidatesDate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/calls/retry-failed", map[string]string{"date": "June 1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/calls/retry-failed", map[string]string{"date": "2024-06-01"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"date":"2024-06-01","accepted":0}`, rec.Body.String())
}

func TestRouter_PatientsResolveAndIndex(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/patients/resolve?phone=010-1234-5678", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Digits string          `json:"digits"`
		Match  *patients.Match `json:"match"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "01012345678", body.Digits)
	require.NotNil(t, body.Match)
	assert.Equal(t, patients.ConfidenceHigh, body.Match.Confidence)

	rec = s.do(t, http.MethodPut, "/v1/patients/p-kim/phones", patients.PhoneSet{Primary: "010-1234-5678", Mobile: "010-5555-6666"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"patientId":"p-kim","indexed":2}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/v1/patients/resolve?phone=01055556666", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Match)
	assert.Equal(t, patients.TierAuxiliary, body.Match.Tier)

	rec = s.do(t, http.MethodGet, "/v1/patients/resolve", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type quotaCalls struct{ CallService }

func (quotaCalls) RetryFailed(context.Context, string) (int, error) {
	return 0, errors.Join(errors.New("classify"), domai.ErrQuotaExceeded)
}

func (quotaCalls) Status(context.Context, calls.CallID) (*appcalls.CallStatus, error) {
	return nil, errors.New("database is on fire")
}

func TestRouter_ErrorMapping(t *testing.T) {
	h := NewRouter(Options{Calls: quotaCalls{}})

	req := httptest.NewRequest(http.MethodPost, "/v1/calls/retry-failed", strings.NewReader(`{"date":"2024-06-01"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/calls/7f1c1d38-3f0e-4d55-9f4c-1a2b3c4d5e6f/status", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "fire")
}
