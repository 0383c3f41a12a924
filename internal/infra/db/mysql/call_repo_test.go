package mysql

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/analysis"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/patients"
)

var fixedNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var callCols = []string{
	"id", "direction", "caller_number", "caller_digits", "called_number",
	"patient_id", "patient_name", "patient_confidence", "patient_match_type",
	"caller_name", "caller_name_manual", "duration_seconds", "recording_ref", "recording_key",
	"pipeline_status", "retry_count", "failure_reason", "transcript",
	"started_at", "completed_at", "created_at", "updated_at",
}

func TestCallRepository_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCallRepository(db, func() time.Time { return fixedNow })

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO call_records")).
		WithArgs("c1", "inbound", "010-1234-5678", "01012345678", "",
			"p-kim", "Kim", "HIGH", "EXACT",
			"", false, 42, "a.wav", "recordings/c1.wav",
			"PENDING", 0, "", fixedNow, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := &calls.CallRecord{
		ID:              "c1",
		Direction:       calls.DirectionInbound,
		CallerNumber:    "010-1234-5678",
		CallerDigits:    "01012345678",
		Patient:         &calls.PatientRef{ID: "p-kim", Name: "Kim", Confidence: patients.ConfidenceHigh, MatchType: patients.MatchExact},
		DurationSeconds: 42,
		RecordingRef:    "a.wav",
		RecordingKey:    "recordings/c1.wav",
	}
	require.NoError(t, repo.Create(context.Background(), rec))
	assert.Equal(t, calls.StatusPending, rec.Status)
	assert.Equal(t, fixedNow, rec.UpdatedAt)
}

func TestCallRepository_Get(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCallRepository(db, nil)
	completed := fixedNow.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("FROM call_records WHERE id=?")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(callCols).AddRow(
			"c1", "inbound", "010-1234-5678", "01012345678", "",
			"p-kim", "Kim", "LOW", "SIMILAR",
			"Lee", true, 42, "a.wav", "recordings/c1.wav",
			"COMPLETED", 1, "", []byte(`{"text":"hi","segments":[{"speaker":"caller","text":"hi"}],"formatted":"Caller: hi","diarized":true}`),
			fixedNow, completed, fixedNow, completed,
		))

	rec, err := repo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, calls.StatusCompleted, rec.Status)
	require.NotNil(t, rec.Patient)
	assert.Equal(t, patients.ConfidenceLow, rec.Patient.Confidence)
	assert.True(t, rec.CallerNameManual)
	require.NotNil(t, rec.Transcript)
	assert.Equal(t, "Caller: hi", rec.Transcript.Formatted)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, completed, *rec.CompletedAt)
}

func TestCallRepository_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCallRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM call_records WHERE id=?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(callCols))

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, calls.ErrNotFound)
}

func TestCallRepository_FindRecentNone(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCallRepository(db, nil)
	since := fixedNow.Add(-10 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE caller_digits=? AND created_at >= ?")).
		WithArgs("01012345678", since).
		WillReturnRows(sqlmock.NewRows(callCols))

	rec, err := repo.FindRecent(context.Background(), "01012345678", since)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCallRepository_TransitionStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCallRepository(db, func() time.Time { return fixedNow })
	q := regexp.QuoteMeta("UPDATE call_records SET pipeline_status=?, updated_at=? WHERE id=? AND pipeline_status=?")

	mock.ExpectExec(q).
		WithArgs("PROCESSING_TRANSCRIBE", fixedNow, "c1", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).
		WithArgs("PROCESSING_TRANSCRIBE", fixedNow, "c1", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.TransitionStatus(context.Background(), "c1", calls.StatusPending, calls.StatusProcessingTranscribe)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TransitionStatus(context.Background(), "c1", calls.StatusPending, calls.StatusProcessingTranscribe)
	require.NoError(t, err)
	assert.False(t, ok, "second caller loses the compare-and-set")
}

func TestCallRepository_MarkFailedGuardedByStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCallRepository(db, func() time.Time { return fixedNow })

	mock.ExpectExec(regexp.QuoteMeta("UPDATE call_records SET pipeline_status=?, failure_reason=?, retry_count=?, updated_at=? WHERE id=? AND pipeline_status=?")).
		WithArgs("FAILED", "classify: boom", 3, fixedNow, "c1", "PROCESSING_CLASSIFY").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkFailed(context.Background(), "c1", calls.StatusProcessingClassify, "classify: boom", 3)
	require.NoError(t, err)
	assert.False(t, ok, "record moved on, the late failure is dropped")
}

func TestCallRepository_MarkCompletedKeepsManualName(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCallRepository(db, func() time.Time { return fixedNow })
	done := fixedNow.Add(time.Minute)

	mock.ExpectExec(regexp.QuoteMeta("caller_name=IF(caller_name_manual, caller_name, ?)")).
		WithArgs("COMPLETED", "Lee", 1, done, fixedNow, "c1", "PROCESSING_CLASSIFY").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkCompleted(context.Background(), "c1", "Lee", 1, done)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCallRepository_SaveTranscriptGuardedByStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCallRepository(db, func() time.Time { return fixedNow })

	mock.ExpectExec(regexp.QuoteMeta("UPDATE call_records SET transcript=?, retry_count=?, updated_at=? WHERE id=? AND pipeline_status=?")).
		WithArgs(sqlmock.AnyArg(), 0, fixedNow, "c1", "PROCESSING_TRANSCRIBE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.SaveTranscript(context.Background(), "c1", analysis.Transcript{Text: "hi"}, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCallRepository_ResetForRetrigger(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCallRepository(db, func() time.Time { return fixedNow })

	mock.ExpectExec(regexp.QuoteMeta("completed_at=NULL")).
		WithArgs("PENDING", fixedNow, "c1", "FAILED").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.ResetForRetrigger(context.Background(), "c1", calls.StatusFailed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCallRepository_CallerNameHistory(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCallRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE caller_digits=? AND id<>? AND caller_name<>''")).
		WithArgs("01012345678", "c3").
		WillReturnRows(sqlmock.NewRows([]string{"id", "caller_name", "caller_name_manual", "created_at"}).
			AddRow("c1", "Park", false, fixedNow).
			AddRow("c2", "Choi", true, fixedNow.Add(time.Hour)))

	got, err := repo.CallerNameHistory(context.Background(), "01012345678", "c3")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, calls.NameObservation{CallID: "c2", Name: "Choi", Manual: true, ObservedAt: fixedNow.Add(time.Hour)}, got[1])
}

func TestCallRepository_UpdatedSince(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCallRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE updated_at > ?")).
		WithArgs(fixedNow, 20).
		WillReturnRows(sqlmock.NewRows(callCols).AddRow(
			"c1", "outbound", "010", "010", "",
			nil, nil, nil, nil,
			"", false, 0, "", "",
			"PENDING", 0, "", nil,
			fixedNow, nil, fixedNow, fixedNow.Add(time.Second),
		))

	recs, err := repo.UpdatedSince(context.Background(), fixedNow, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Patient)
	assert.Nil(t, recs[0].Transcript)
	assert.Nil(t, recs[0].CompletedAt)
	assert.Equal(t, calls.DirectionOutbound, recs[0].Direction)
}
