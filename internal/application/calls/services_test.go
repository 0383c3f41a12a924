package calls

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InahHwang/d-care-console-sub007/internal/application"
	"github.com/InahHwang/d-care-console-sub007/internal/application/identity"
	domain "github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/patients"
	"github.com/InahHwang/d-care-console-sub007/internal/infra/db/memory"
)

type fakeScheduler struct {
	mu     sync.Mutex
	queued []domain.CallID
}

func (f *fakeScheduler) Enqueue(id domain.CallID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queued {
		if q == id {
			return false
		}
	}
	f.queued = append(f.queued, id)
	return true
}

func (f *fakeScheduler) Cancel(id domain.CallID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, q := range f.queued {
		if q == id {
			f.queued = append(f.queued[:i], f.queued[i+1:]...)
			return true
		}
	}
	return false
}

func (f *fakeScheduler) ids() []domain.CallID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CallID(nil), f.queued...)
}

type fixture struct {
	svc   *Service
	repo  *memory.CallRepository
	blobs *memory.RecordingStore
	sched *fakeScheduler
	clock *application.ManualClock
}

func newFixture() *fixture {
	clock := application.NewManualClock(time.Date(2024, 6, 1, 0, 30, 0, 0, time.UTC))
	repo := memory.NewCallRepository(clock.Now)
	blobs := memory.NewRecordingStore()
	dir := memory.NewDirectory()
	dir.Upsert(patients.Identity{ID: "p-kim", Name: "Kim"}, patients.PhoneSet{Primary: "01012345678"})
	sched := &fakeScheduler{}

	return &fixture{
		svc: &Service{
			Repo:        repo,
			Analyses:    memory.NewAnalysisRepository(),
			StageErrors: memory.NewStageErrorRepository(),
			Blobs:       blobs,
			Resolver:    identity.NewResolver(dir, nil),
			Scheduler:   sched,
			Clock:       clock,
			DedupWindow: 10 * time.Minute,
			RunBudget:   5 * time.Minute,
			Location:    time.FixedZone("KST", 9*3600),
		},
		repo:  repo,
		blobs: blobs,
		sched: sched,
		clock: clock,
	}
}

var audio = []byte("RIFF....WAVEfmt fake audio bytes")

func payload() string { return base64.StdEncoding.EncodeToString(audio) }

func TestIngest_NewCallWithPayload(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, IngestCommand{
		CallerNumber:      "010-1234-5678",
		CalledNumber:      "02-555-0000",
		RecordingFileName: "20240601_0930.wav",
		RecordingPayload:  payload(),
		DurationSeconds:   42,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.Status)
	assert.True(t, res.Queued)
	require.NotNil(t, res.Patient)
	assert.Equal(t, patients.PatientID("p-kim"), res.Patient.ID)
	assert.Equal(t, patients.ConfidenceHigh, res.Patient.Confidence)

	rec, err := f.repo.Get(ctx, domain.CallID(res.CallRecordID))
	require.NoError(t, err)
	assert.Equal(t, "01012345678", rec.CallerDigits)
	assert.Equal(t, "recordings/"+res.CallRecordID+".wav", rec.RecordingKey)
	assert.Equal(t, domain.DirectionInbound, rec.Direction)

	stored, err := f.blobs.Get(ctx, rec.RecordingKey)
	require.NoError(t, err)
	assert.Equal(t, audio, stored)
	assert.Equal(t, []domain.CallID{rec.ID}, f.sched.ids())
}

func TestIngest_RejectsMalformedEvents(t *testing.T) {
	f := newFixture()
	cases := map[string]IngestCommand{
		"missing caller":    {RecordingPayload: payload()},
		"no digits":         {CallerNumber: "anonymous"},
		"bad base64":        {CallerNumber: "01012345678", RecordingPayload: "%%%not-base64"},
		"negative length":   {CallerNumber: "01012345678", DurationSeconds: -1},
		"unknown direction": {CallerNumber: "01012345678", Direction: "sideways"},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Ingest(context.Background(), cmd)
			var ie *domain.IngestionError
			assert.True(t, errors.As(err, &ie), "got %v", err)
		})
	}
	assert.Empty(t, f.sched.ids())
}

func TestIngest_NoAudioStaysPending(t *testing.T) {
	f := newFixture()
	res, err := f.svc.Ingest(context.Background(), IngestCommand{
		CallerNumber:      "01077778888",
		RecordingFileName: "bridge_local_file.wav",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.Status)
	assert.False(t, res.Queued)
	assert.Nil(t, res.Patient)
	assert.Empty(t, f.sched.ids())
}

func TestIngest_RemoteReferenceIsQueued(t *testing.T) {
	f := newFixture()
	res, err := f.svc.Ingest(context.Background(), IngestCommand{
		CallerNumber: "01077778888",
		RecordingURL: "https://bridge.example.com/rec/123.mp3",
	})
	require.NoError(t, err)
	assert.True(t, res.Queued)
}

func TestIngest_ReusesStartedCallInsideWindow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	started, err := f.svc.Start(ctx, StartCommand{CallerNumber: "010 1234 5678"})
	require.NoError(t, err)
	require.NotNil(t, started.Patient)

	f.clock.Advance(4 * time.Minute)
	res, err := f.svc.Ingest(ctx, IngestCommand{
		CallerNumber:      "01012345678",
		RecordingFileName: "a.wav",
		RecordingPayload:  payload(),
		DurationSeconds:   240,
	})
	require.NoError(t, err)
	assert.Equal(t, started.CallRecordID, res.CallRecordID)

	rec, err := f.repo.Get(ctx, domain.CallID(res.CallRecordID))
	require.NoError(t, err)
	assert.Equal(t, 240, rec.DurationSeconds)
	assert.NotEmpty(t, rec.RecordingKey)
}

func TestIngest_OutsideWindowCreatesNewCall(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	started, err := f.svc.Start(ctx, StartCommand{CallerNumber: "01012345678"})
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)
	res, err := f.svc.Ingest(ctx, IngestCommand{CallerNumber: "01012345678", RecordingPayload: payload()})
	require.NoError(t, err)
	assert.NotEqual(t, started.CallRecordID, res.CallRecordID)
}

func TestStart_ReusesPendingCall(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Start(ctx, StartCommand{CallerNumber: "01012345678"})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	b, err := f.svc.Start(ctx, StartCommand{CallerNumber: "010-1234-5678"})
	require.NoError(t, err)
	assert.Equal(t, a.CallRecordID, b.CallRecordID)
}

func TestIngest_DuplicateCompletionEvent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cmd := IngestCommand{CallerNumber: "01012345678", RecordingFileName: "x.wav", RecordingPayload: payload()}

	first, err := f.svc.Ingest(ctx, cmd)
	require.NoError(t, err)
	ok, err := f.repo.TransitionStatus(ctx, domain.CallID(first.CallRecordID), domain.StatusPending, domain.StatusProcessingTranscribe)
	require.NoError(t, err)
	require.True(t, ok)

	again, err := f.svc.Ingest(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.False(t, again.Queued)
	assert.Equal(t, first.CallRecordID, again.CallRecordID)
	assert.Equal(t, domain.StatusProcessingTranscribe, again.Status)
	assert.Len(t, f.sched.ids(), 1)
}

func TestIngest_SecondRecordingInsideWindowGetsItsOwnCall(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	firstAudio := []byte("FIRST-CALL-AUDIO")
	secondAudio := []byte("SECOND-CALL-AUDIO")

	first, err := f.svc.Ingest(ctx, IngestCommand{
		CallerNumber:      "010-5555-0000",
		RecordingFileName: "a.wav",
		RecordingPayload:  base64.StdEncoding.EncodeToString(firstAudio),
	})
	require.NoError(t, err)

	f.clock.Advance(3 * time.Minute)
	second, err := f.svc.Ingest(ctx, IngestCommand{
		CallerNumber:      "010-5555-0000",
		RecordingFileName: "b.wav",
		RecordingPayload:  base64.StdEncoding.EncodeToString(secondAudio),
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.CallRecordID, second.CallRecordID)
	assert.False(t, second.Duplicate)
	assert.True(t, second.Queued)

	for id, want := range map[string]struct {
		ref  string
		data []byte
	}{
		first.CallRecordID:  {ref: "a.wav", data: firstAudio},
		second.CallRecordID: {ref: "b.wav", data: secondAudio},
	} {
		rec, err := f.repo.Get(ctx, domain.CallID(id))
		require.NoError(t, err)
		assert.Equal(t, want.ref, rec.RecordingRef)
		stored, err := f.blobs.Get(ctx, rec.RecordingKey)
		require.NoError(t, err)
		assert.Equal(t, want.data, stored)
	}
	assert.Len(t, f.sched.ids(), 2)
}

func TestIngest_RepeatWhileQueuedIsDuplicate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cmd := IngestCommand{CallerNumber: "01012345678", RecordingFileName: "x.wav", RecordingPayload: payload()}

	first, err := f.svc.Ingest(ctx, cmd)
	require.NoError(t, err)
	again, err := f.svc.Ingest(ctx, cmd)
	require.NoError(t, err)

	assert.True(t, again.Duplicate)
	assert.Equal(t, first.CallRecordID, again.CallRecordID)
	assert.Equal(t, domain.StatusPending, again.Status)
	assert.Len(t, f.sched.ids(), 1)
}

func TestStart_DoesNotReuseCallWithRecording(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ingested, err := f.svc.Ingest(ctx, IngestCommand{CallerNumber: "01012345678", RecordingFileName: "a.wav", RecordingPayload: payload()})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	started, err := f.svc.Start(ctx, StartCommand{CallerNumber: "01012345678"})
	require.NoError(t, err)
	assert.NotEqual(t, ingested.CallRecordID, started.CallRecordID)
}

func TestRetrigger(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, IngestCommand{CallerNumber: "01012345678", RecordingPayload: payload()})
	require.NoError(t, err)
	id := domain.CallID(res.CallRecordID)
	f.sched.Cancel(id)

	_, _ = f.repo.TransitionStatus(ctx, id, domain.StatusPending, domain.StatusProcessingTranscribe)
	marked, err := f.repo.MarkFailed(ctx, id, domain.StatusProcessingTranscribe, "transcribe: provider down", 3)
	require.NoError(t, err)
	require.True(t, marked)

	ok, err := f.svc.Retrigger(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Zero(t, rec.RetryCount)
	assert.Empty(t, rec.FailureReason)
	assert.Equal(t, []domain.CallID{id}, f.sched.ids())
}

func TestRetrigger_RunningAndStale(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, IngestCommand{CallerNumber: "01012345678", RecordingPayload: payload()})
	require.NoError(t, err)
	id := domain.CallID(res.CallRecordID)
	f.sched.Cancel(id)
	_, _ = f.repo.TransitionStatus(ctx, id, domain.StatusPending, domain.StatusProcessingClassify)

	ok, err := f.svc.Retrigger(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "live run must not be reset")

	f.clock.Advance(6 * time.Minute)
	ok, err = f.svc.Retrigger(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok, "stale run is reset")

	rec, _ := f.repo.Get(ctx, id)
	assert.Equal(t, domain.StatusPending, rec.Status)
}

func TestRetrigger_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Retrigger(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res, err := f.svc.Ingest(ctx, IngestCommand{CallerNumber: "01012345678", RecordingPayload: payload()})
	require.NoError(t, err)

	ok, err := f.svc.Cancel(ctx, domain.CallID(res.CallRecordID))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, f.sched.ids())
}

func TestRetryFailed_ByLocalDay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// 00:30 UTC is 09:30 KST on 2024-06-01
	inDay, err := f.svc.Ingest(ctx, IngestCommand{CallerNumber: "01011110000", RecordingPayload: payload()})
	require.NoError(t, err)
	_, err = f.svc.Ingest(ctx, IngestCommand{CallerNumber: "01022220000"})
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	nextDay, err := f.svc.Ingest(ctx, IngestCommand{CallerNumber: "01033330000", RecordingPayload: payload()})
	require.NoError(t, err)

	for _, id := range []string{inDay.CallRecordID, nextDay.CallRecordID} {
		cid := domain.CallID(id)
		f.sched.Cancel(cid)
		_, _ = f.repo.TransitionStatus(ctx, cid, domain.StatusPending, domain.StatusProcessingTranscribe)
		_, err := f.repo.MarkFailed(ctx, cid, domain.StatusProcessingTranscribe, "x", 3)
		require.NoError(t, err)
	}

	n, err := f.svc.RetryFailed(ctx, "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []domain.CallID{domain.CallID(inDay.CallRecordID)}, f.sched.ids())

	_, err = f.svc.RetryFailed(ctx, "06/01/2024")
	var ie *domain.IngestionError
	assert.True(t, errors.As(err, &ie))
}

func TestStatusAndUpdatedSince(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Ingest(ctx, IngestCommand{CallerNumber: "01011110000"})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	b, err := f.svc.Ingest(ctx, IngestCommand{CallerNumber: "01022220000"})
	require.NoError(t, err)

	st, err := f.svc.Status(ctx, domain.CallID(a.CallRecordID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, st.Status)
	assert.Nil(t, st.Analysis)

	page, err := f.svc.UpdatedSince(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, a.CallRecordID, page.Items[0].CallRecordID)
	assert.Equal(t, b.CallRecordID, page.Items[1].CallRecordID)

	next, err := f.svc.UpdatedSince(ctx, page.Items[0].UpdatedAt, 10)
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Equal(t, b.CallRecordID, next.Items[0].CallRecordID)
	assert.Equal(t, next.Items[0].UpdatedAt, next.NextSince)

	_, err = f.svc.Status(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCorrectCallerName(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res, err := f.svc.Ingest(ctx, IngestCommand{CallerNumber: "01011110000"})
	require.NoError(t, err)
	id := domain.CallID(res.CallRecordID)

	require.NoError(t, f.svc.CorrectCallerName(ctx, id, "  Han Seo  "))
	rec, _ := f.repo.Get(ctx, id)
	assert.Equal(t, "Han Seo", rec.CallerName)
	assert.True(t, rec.CallerNameManual)

	var ie *domain.IngestionError
	assert.True(t, errors.As(f.svc.CorrectCallerName(ctx, id, " "), &ie))
}
