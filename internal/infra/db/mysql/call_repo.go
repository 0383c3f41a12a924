package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/analysis"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/patients"
)

const callColumns = `id, direction, caller_number, caller_digits, called_number,
       patient_id, patient_name, patient_confidence, patient_match_type,
       caller_name, caller_name_manual, duration_seconds, recording_ref, recording_key,
       pipeline_status, retry_count, failure_reason, transcript,
       started_at, completed_at, created_at, updated_at`

type CallRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewCallRepository stamps updated_at with now; nil means the UTC wall clock.
func NewCallRepository(db *sql.DB, now func() time.Time) *CallRepository {
	if now == nil {
		now = utcNow
	}
	return &CallRepository{db: db, now: now}
}

func patientArgs(p *calls.PatientRef) (id, name, confidence, matchType sql.NullString) {
	if p == nil {
		return
	}
	return nullIfEmpty(string(p.ID)), nullIfEmpty(p.Name), nullIfEmpty(string(p.Confidence)), nullIfEmpty(string(p.MatchType))
}

func scanCall(row rowScanner) (*calls.CallRecord, error) {
	var (
		c                                   calls.CallRecord
		pID, pName, pConfidence, pMatchType sql.NullString
		transcript                          []byte
		completed                           sql.NullTime
	)
	if err := row.Scan(
		&c.ID, &c.Direction, &c.CallerNumber, &c.CallerDigits, &c.CalledNumber,
		&pID, &pName, &pConfidence, &pMatchType,
		&c.CallerName, &c.CallerNameManual, &c.DurationSeconds, &c.RecordingRef, &c.RecordingKey,
		&c.Status, &c.RetryCount, &c.FailureReason, &transcript,
		&c.StartedAt, &completed, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if pID.Valid {
		c.Patient = &calls.PatientRef{
			ID:         patients.PatientID(pID.String),
			Name:       pName.String,
			Confidence: patients.Confidence(pConfidence.String),
			MatchType:  patients.MatchType(pMatchType.String),
		}
	}
	if len(transcript) > 0 {
		var t analysis.Transcript
		if err := json.Unmarshal(transcript, &t); err != nil {
			return nil, eris.Wrapf(err, "decode transcript of %s", c.ID)
		}
		c.Transcript = &t
	}
	if completed.Valid {
		t := completed.Time
		c.CompletedAt = &t
	}
	return &c, nil
}

func (r *CallRepository) queryCalls(ctx context.Context, q string, args ...any) ([]*calls.CallRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*calls.CallRecord
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CallRepository) Create(ctx context.Context, c *calls.CallRecord) error {
	const q = `
INSERT INTO call_records
(id, direction, caller_number, caller_digits, called_number,
 patient_id, patient_name, patient_confidence, patient_match_type,
 caller_name, caller_name_manual, duration_seconds, recording_ref, recording_key,
 pipeline_status, retry_count, failure_reason, started_at, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

	now := r.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = c.CreatedAt
	}
	if c.Status == "" {
		c.Status = calls.StatusPending
	}
	c.UpdatedAt = now
	pID, pName, pConfidence, pMatchType := patientArgs(c.Patient)

	_, err := r.db.ExecContext(ctx, q,
		c.ID, c.Direction, c.CallerNumber, c.CallerDigits, c.CalledNumber,
		pID, pName, pConfidence, pMatchType,
		c.CallerName, c.CallerNameManual, c.DurationSeconds, c.RecordingRef, c.RecordingKey,
		c.Status, c.RetryCount, c.FailureReason, c.StartedAt, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *CallRepository) Get(ctx context.Context, id calls.CallID) (*calls.CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM call_records WHERE id=? LIMIT 1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, calls.ErrNotFound
	}
	return c, err
}

func (r *CallRepository) FindRecent(ctx context.Context, digits string, since time.Time) (*calls.CallRecord, error) {
	q := `SELECT ` + callColumns + `
FROM call_records
WHERE caller_digits=? AND created_at >= ?
ORDER BY created_at DESC LIMIT 1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, digits, since))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *CallRepository) UpdateIntake(ctx context.Context, c *calls.CallRecord) error {
	const q = `
UPDATE call_records SET
 direction=?, called_number=?,
 patient_id=?, patient_name=?, patient_confidence=?, patient_match_type=?,
 duration_seconds=?, recording_ref=?, recording_key=?, started_at=?, updated_at=?
WHERE id=?`
	pID, pName, pConfidence, pMatchType := patientArgs(c.Patient)
	res, err := r.db.ExecContext(ctx, q,
		c.Direction, c.CalledNumber,
		pID, pName, pConfidence, pMatchType,
		c.DurationSeconds, c.RecordingRef, c.RecordingKey, c.StartedAt, r.now(),
		c.ID,
	)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r *CallRepository) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r *CallRepository) SetRecordingKey(ctx context.Context, id calls.CallID, key string) error {
	return r.exec(ctx, `UPDATE call_records SET recording_key=?, updated_at=? WHERE id=?`, key, r.now(), id)
}

// cas runs a status-guarded update and reports whether it matched.
func (r *CallRepository) cas(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// TransitionStatus is a compare-and-set on pipeline_status.
func (r *CallRepository) TransitionStatus(ctx context.Context, id calls.CallID, from, to calls.PipelineStatus) (bool, error) {
	return r.cas(ctx, `UPDATE call_records SET pipeline_status=?, updated_at=? WHERE id=? AND pipeline_status=?`,
		to, r.now(), id, from)
}

func (r *CallRepository) SaveTranscript(ctx context.Context, id calls.CallID, t analysis.Transcript, retryCount int) (bool, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return false, eris.Wrap(err, "encode transcript")
	}
	return r.cas(ctx, `UPDATE call_records SET transcript=?, retry_count=?, updated_at=? WHERE id=? AND pipeline_status=?`,
		b, retryCount, r.now(), id, calls.StatusProcessingTranscribe)
}

func (r *CallRepository) MarkFailed(ctx context.Context, id calls.CallID, from calls.PipelineStatus, reason string, retryCount int) (bool, error) {
	return r.cas(ctx, `UPDATE call_records SET pipeline_status=?, failure_reason=?, retry_count=?, updated_at=? WHERE id=? AND pipeline_status=?`,
		calls.StatusFailed, reason, retryCount, r.now(), id, from)
}

func (r *CallRepository) MarkSkipped(ctx context.Context, id calls.CallID, reason string) (bool, error) {
	return r.cas(ctx, `UPDATE call_records SET pipeline_status=?, failure_reason=?, updated_at=? WHERE id=? AND pipeline_status=?`,
		calls.StatusSkipped, reason, r.now(), id, calls.StatusProcessingTranscribe)
}

func (r *CallRepository) MarkCompleted(ctx context.Context, id calls.CallID, callerName string, retryCount int, at time.Time) (bool, error) {
	const q = `
UPDATE call_records SET
 pipeline_status=?, caller_name=IF(caller_name_manual, caller_name, ?),
 retry_count=?, failure_reason='', completed_at=?, updated_at=?
WHERE id=? AND pipeline_status=?`
	return r.cas(ctx, q, calls.StatusCompleted, callerName, retryCount, at, r.now(), id, calls.StatusProcessingClassify)
}

func (r *CallRepository) ResetForRetrigger(ctx context.Context, id calls.CallID, from calls.PipelineStatus) (bool, error) {
	const q = `
UPDATE call_records SET
 pipeline_status=?, retry_count=0, failure_reason='', completed_at=NULL, updated_at=?
WHERE id=? AND pipeline_status=?`
	return r.cas(ctx, q, calls.StatusPending, r.now(), id, from)
}

func (r *CallRepository) UpdatedSince(ctx context.Context, since time.Time, limit int) ([]*calls.CallRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + callColumns + `
FROM call_records
WHERE updated_at > ?
ORDER BY updated_at ASC, id ASC LIMIT ?`
	return r.queryCalls(ctx, q, since, limit)
}

func (r *CallRepository) ListRetryable(ctx context.Context, from, to time.Time) ([]*calls.CallRecord, error) {
	q := `SELECT ` + callColumns + `
FROM call_records
WHERE pipeline_status IN (?, ?)
  AND created_at >= ? AND created_at < ?
  AND (recording_key <> '' OR recording_ref LIKE 'http://%' OR recording_ref LIKE 'https://%')
ORDER BY created_at ASC`
	return r.queryCalls(ctx, q, calls.StatusFailed, calls.StatusPending, from, to)
}

func (r *CallRepository) CallerNameHistory(ctx context.Context, digits string, exclude calls.CallID) ([]calls.NameObservation, error) {
	const q = `
SELECT id, caller_name, caller_name_manual, created_at
FROM call_records
WHERE caller_digits=? AND id<>? AND caller_name<>''
ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q, digits, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.NameObservation
	for rows.Next() {
		var o calls.NameObservation
		if err := rows.Scan(&o.CallID, &o.Name, &o.Manual, &o.ObservedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *CallRepository) SetCallerName(ctx context.Context, id calls.CallID, name string, manual bool) error {
	return r.exec(ctx, `UPDATE call_records SET caller_name=?, caller_name_manual=?, updated_at=? WHERE id=?`,
		name, manual, r.now(), id)
}
