package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	appcalls "github.com/InahHwang/d-care-console-sub007/internal/application/calls"
	domai "github.com/InahHwang/d-care-console-sub007/internal/domain/ai"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/patients"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/stageerrors"
	"github.com/InahHwang/d-care-console-sub007/internal/middleware"
)

const maxBodyBytes = 64 << 20

// CallService is the call use-case surface served over HTTP.
type CallService interface {
	Start(ctx context.Context, cmd appcalls.StartCommand) (*appcalls.IntakeResult, error)
	Ingest(ctx context.Context, cmd appcalls.IngestCommand) (*appcalls.IntakeResult, error)
	Status(ctx context.Context, id calls.CallID) (*appcalls.CallStatus, error)
	UpdatedSince(ctx context.Context, since time.Time, limit int) (*appcalls.StatusPage, error)
	ListStageErrors(ctx context.Context, id calls.CallID, limit int) ([]*stageerrors.StageError, error)
	Retrigger(ctx context.Context, id calls.CallID) (bool, error)
	Cancel(ctx context.Context, id calls.CallID) (bool, error)
	RetryFailed(ctx context.Context, day string) (int, error)
	CorrectCallerName(ctx context.Context, id calls.CallID, name string) error
}

// IdentityResolver answers caller-id lookups.
type IdentityResolver interface {
	Resolve(ctx context.Context, phone string) (*patients.Match, error)
}

// Options wires the router. Nil collaborators disable their routes.
type Options struct {
	Calls    CallService
	Identity IdentityResolver
	Phones   patients.PhoneIndexer

	Metrics        *middleware.Metrics
	Health         map[string]middleware.HealthChecker
	APIKeys        map[string]string
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string
	Logger         *zap.Logger
}

type Router struct {
	calls    CallService
	identity IdentityResolver
	phones   patients.PhoneIndexer
	log      *zap.Logger
}

func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = middleware.NewMetrics()
	}
	r := &Router{calls: opts.Calls, identity: opts.Identity, phones: opts.Phones, log: opts.Logger}
	mux := chi.NewRouter()

	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Logging(opts.Logger))
	mux.Use(opts.Metrics.Middleware)
	if len(opts.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	mux.Get("/health", middleware.LivenessHandler)
	mux.Get("/health/ready", middleware.HealthHandler(opts.Health))
	mux.Get("/metrics", opts.Metrics.Handler)

	mux.Route("/v1", func(rt chi.Router) {
		rt.Use(middleware.APIKeyAuth(opts.APIKeys))
		if opts.RateLimiter != nil {
			rt.Use(middleware.RateLimit(opts.RateLimiter))
		}

		if r.calls != nil {
			rt.Post("/calls/start", r.wrap(r.handleStart))
			rt.Post("/calls/recordings", r.wrap(r.handleIngest))
			rt.Get("/calls/status", r.wrap(r.handleUpdatedSince))
			rt.Post("/calls/retry-failed", r.wrap(r.handleRetryFailed))
			rt.Get("/calls/{id}/status", r.wrap(r.handleStatus))
			rt.Get("/calls/{id}/errors", r.wrap(r.handleStageErrors))
			rt.Post("/calls/{id}/actions", r.wrap(r.handleAction))
			rt.Put("/calls/{id}/caller-name", r.wrap(r.handleCallerName))
		}
		if r.identity != nil {
			rt.Get("/patients/resolve", r.wrap(r.handleResolve))
		}
		if r.phones != nil {
			rt.Put("/patients/{id}/phones", r.wrap(r.handleIndexPhones))
		}
	})

	return mux
}

// badRequest is a request that failed validation before reaching a service.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return &badRequest{msg: fmt.Sprintf(format, args...)}
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var (
			ingestion *calls.IngestionError
			bad       *badRequest
		)
		switch {
		case errors.Is(err, calls.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found")
		case errors.As(err, &ingestion), errors.As(err, &bad):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domai.ErrQuotaExceeded):
			writeError(w, http.StatusTooManyRequests, "ai quota exceeded")
		default:
			r.log.Error("request failed",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, req *http.Request, v any) error {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return invalid("invalid request body: %v", err)
	}
	return nil
}

func callID(req *http.Request) (calls.CallID, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateCallID(id); err != nil {
		return "", invalid("%v", err)
	}
	return calls.CallID(id), nil
}

// parseSince accepts RFC3339 or unix milliseconds; empty means zero.
func parseSince(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, invalid("since must be RFC3339 or unix milliseconds")
	}
	return t.UTC(), nil
}

// POST /v1/calls/start
func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		CallerNumber string    `json:"callerNumber"`
		CalledNumber string    `json:"calledNumber"`
		Direction    string    `json:"direction"`
		Timestamp    time.Time `json:"timestamp"`
	}
	if err := decode(w, req, &body); err != nil {
		return err
	}
	res, err := r.calls.Start(req.Context(), appcalls.StartCommand{
		CallerNumber: body.CallerNumber,
		CalledNumber: body.CalledNumber,
		Direction:    body.Direction,
		Timestamp:    body.Timestamp,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// POST /v1/calls/recordings
// Body: {"callerNumber", "calledNumber", "direction", "recordingFileName",
// "recordingUrl", "recordingPayload" (base64), "durationSeconds", "timestamp"}
func (r *Router) handleIngest(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		CallerNumber      string    `json:"callerNumber"`
		CalledNumber      string    `json:"calledNumber"`
		Direction         string    `json:"direction"`
		RecordingFileName string    `json:"recordingFileName"`
		RecordingURL      string    `json:"recordingUrl"`
		RecordingPayload  string    `json:"recordingPayload"`
		DurationSeconds   int       `json:"durationSeconds"`
		Timestamp         time.Time `json:"timestamp"`
	}
	if err := decode(w, req, &body); err != nil {
		return err
	}
	if err := middleware.ValidateRecordingURL(body.RecordingURL); err != nil {
		return &calls.IngestionError{Field: "recordingUrl", Reason: err.Error()}
	}

	res, err := r.calls.Ingest(req.Context(), appcalls.IngestCommand{
		CallerNumber:      body.CallerNumber,
		CalledNumber:      body.CalledNumber,
		Direction:         body.Direction,
		RecordingFileName: middleware.SanitizeString(body.RecordingFileName),
		RecordingURL:      body.RecordingURL,
		RecordingPayload:  body.RecordingPayload,
		DurationSeconds:   body.DurationSeconds,
		Timestamp:         body.Timestamp,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusAccepted, res)
}

// GET /v1/calls/status?since=&limit=
func (r *Router) handleUpdatedSince(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	since, err := parseSince(q.Get("since"))
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	page, err := r.calls.UpdatedSince(req.Context(), since, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, page)
}

// GET /v1/calls/{id}/status
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) error {
	id, err := callID(req)
	if err != nil {
		return err
	}
	st, err := r.calls.Status(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, st)
}

// GET /v1/calls/{id}/errors?limit=
func (r *Router) handleStageErrors(w http.ResponseWriter, req *http.Request) error {
	id, err := callID(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.calls.ListStageErrors(req.Context(), id, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*stageerrors.StageError{}
	}
	return writeJSON(w, http.StatusOK, list)
}

// POST /v1/calls/{id}/actions
// Body: {"action": "retrigger" | "cancel"}
func (r *Router) handleAction(w http.ResponseWriter, req *http.Request) error {
	id, err := callID(req)
	if err != nil {
		return err
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := decode(w, req, &body); err != nil {
		return err
	}

	var accepted bool
	switch strings.ToLower(strings.TrimSpace(body.Action)) {
	case "retrigger":
		accepted, err = r.calls.Retrigger(req.Context(), id)
	case "cancel":
		accepted, err = r.calls.Cancel(req.Context(), id)
	default:
		return invalid("unknown action %q", body.Action)
	}
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"callRecordId": id,
		"action":       body.Action,
		"accepted":     accepted,
	})
}

// PUT /v1/calls/{id}/caller-name
func (r *Router) handleCallerName(w http.ResponseWriter, req *http.Request) error {
	id, err := callID(req)
	if err != nil {
		return err
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decode(w, req, &body); err != nil {
		return err
	}
	if err := r.calls.CorrectCallerName(req.Context(), id, middleware.SanitizeString(body.Name)); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// POST /v1/calls/retry-failed
// Body: {"date": "YYYY-MM-DD"}
func (r *Router) handleRetryFailed(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Date string `json:"date"`
	}
	if err := decode(w, req, &body); err != nil {
		return err
	}
	if err := middleware.ValidateDate(body.Date); err != nil {
		return invalid("%v", err)
	}
	n, err := r.calls.RetryFailed(req.Context(), body.Date)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"date": body.Date, "accepted": n})
}

// GET /v1/patients/resolve?phone=
func (r *Router) handleResolve(w http.ResponseWriter, req *http.Request) error {
	phone := req.URL.Query().Get("phone")
	if strings.TrimSpace(phone) == "" {
		return invalid("phone is required")
	}
	m, err := r.identity.Resolve(req.Context(), phone)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"phone":  phone,
		"digits": patients.NormalizePhone(phone),
		"match":  m,
	})
}

// PUT /v1/patients/{id}/phones
func (r *Router) handleIndexPhones(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidatePatientID(id); err != nil {
		return invalid("%v", err)
	}
	var phones patients.PhoneSet
	if err := decode(w, req, &phones); err != nil {
		return err
	}
	if err := r.phones.IndexPhones(req.Context(), patients.PatientID(id), phones); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"patientId": id,
		"indexed":   len(phones.Index(patients.PatientID(id))),
	})
}
