package pipeline

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/InahHwang/d-care-console-sub007/internal/application"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/analysis"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/patients"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/stageerrors"
	"github.com/InahHwang/d-care-console-sub007/internal/resilience"
)

const maxReasonLen = 500

// Recorder receives pipeline run counters.
type Recorder interface {
	RunStarted()
	RunFinished(status calls.PipelineStatus, degraded bool)
}

type nopRecorder struct{}

func (nopRecorder) RunStarted() {}
func (nopRecorder) RunFinished(calls.PipelineStatus, bool) {}

// Orchestrator runs transcription then classification for one call and owns
// its status transitions. The PENDING -> PROCESSING_TRANSCRIBE compare-and-set
// is the single-flight gate: a run that loses it does nothing.
type Orchestrator struct {
	Repo        calls.Repository
	Analyses    analysis.Repository
	StageErrors stageerrors.Repository
	Audio       *AudioLoader
	Transcribe  *TranscribeStage
	Classify    *ClassifyStage

	// optional collaborators
	Profiles patients.ProfileUpdater
	Events   calls.EventPublisher
	Metrics  Recorder

	Policy             resilience.Policy
	RunBudget          time.Duration
	MinAudioBytes      int
	MinDurationSeconds int

	Clock  application.Clock
	Logger *zap.Logger
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Orchestrator) recorder() Recorder {
	if o.Metrics == nil {
		return nopRecorder{}
	}
	return o.Metrics
}

func (o *Orchestrator) now() time.Time {
	if o.Clock == nil {
		return time.Now().UTC()
	}
	return o.Clock.Now()
}

// Budget is the wall-clock limit of one run.
func (o *Orchestrator) Budget() time.Duration {
	if o.RunBudget <= 0 {
		return 5 * time.Minute
	}
	return o.RunBudget
}

// Handle adapts Run to the queue worker signature.
func (o *Orchestrator) Handle(ctx context.Context, id calls.CallID) {
	if err := o.Run(ctx, id); err != nil {
		o.logger().Error("pipeline run error", zap.String("call_id", string(id)), zap.Error(err))
	}
}

// Run executes the pipeline for a PENDING call. Calls in any other status are
// left alone. When the run budget expires the record keeps its last persisted
// status for a manual retrigger.
func (o *Orchestrator) Run(ctx context.Context, id calls.CallID) error {
	log := o.logger().With(zap.String("call_id", string(id)))

	ok, err := o.Repo.TransitionStatus(ctx, id, calls.StatusPending, calls.StatusProcessingTranscribe)
	if err != nil {
		return err
	}
	if !ok {
		log.Debug("pipeline not started, call is not pending")
		return nil
	}

	o.recorder().RunStarted()
	runCtx, cancel := context.WithTimeout(ctx, o.Budget())
	defer cancel()

	status, degraded := o.run(runCtx, id, log)
	o.recorder().RunFinished(status, degraded)
	return nil
}

// run returns the final status, or "" when the run was abandoned.
func (o *Orchestrator) run(ctx context.Context, id calls.CallID, log *zap.Logger) (calls.PipelineStatus, bool) {
	rec, err := o.Repo.Get(ctx, id)
	if err != nil {
		if o.abandoned(ctx, log, calls.StageTranscribe) {
			return "", false
		}
		return o.fail(ctx, id, calls.StageTranscribe, err, 0, log), false
	}

	// transcribe
	load := resilience.Do(ctx, o.policy(log, "load_recording"), func(ctx context.Context) ([]byte, error) {
		return o.Audio.Load(ctx, rec)
	})
	if o.abandoned(ctx, log, calls.StageTranscribe) {
		return "", false
	}
	if !load.OK() {
		return o.fail(ctx, id, calls.StageTranscribe, load.Err, load.Failures(), log), false
	}
	audio := load.Value

	if reason := o.skipReason(rec, len(audio)); reason != "" {
		skipped, err := o.Repo.MarkSkipped(ctx, id, reason)
		if err != nil {
			log.Error("mark skipped", zap.Error(err))
		}
		if err == nil && !skipped {
			return o.lost(log, calls.StatusProcessingTranscribe), false
		}
		log.Info("pipeline skipped", zap.String("reason", reason))
		return calls.StatusSkipped, false
	}

	fileName := path.Base(rec.RecordingKey)
	tr := resilience.Do(ctx, o.policy(log, "transcribe"), func(ctx context.Context) (analysis.Transcript, error) {
		return o.Transcribe.Run(ctx, audio, fileName)
	})
	if o.abandoned(ctx, log, calls.StageTranscribe) {
		return "", false
	}
	if !tr.OK() {
		return o.fail(ctx, id, calls.StageTranscribe, tr.Err, tr.Failures(), log), false
	}
	saved, err := o.Repo.SaveTranscript(ctx, id, tr.Value, tr.Failures())
	if err != nil {
		return o.fail(ctx, id, calls.StageTranscribe, err, tr.Failures(), log), false
	}
	if !saved {
		return o.lost(log, calls.StatusProcessingTranscribe), false
	}
	advanced, err := o.Repo.TransitionStatus(ctx, id, calls.StatusProcessingTranscribe, calls.StatusProcessingClassify)
	if err != nil {
		return o.fail(ctx, id, calls.StageTranscribe, err, tr.Failures(), log), false
	}
	if !advanced {
		return o.lost(log, calls.StatusProcessingTranscribe), false
	}

	// classify
	cl := resilience.Do(ctx, o.policy(log, "classify"), func(ctx context.Context) (analysis.Result, error) {
		return o.Classify.Run(ctx, tr.Value)
	})
	if o.abandoned(ctx, log, calls.StageClassify) {
		return "", false
	}
	if !cl.OK() {
		return o.fail(ctx, id, calls.StageClassify, cl.Err, cl.Failures(), log), false
	}

	// Staff may have corrected the caller name while the run was in flight.
	cur, err := o.Repo.Get(ctx, id)
	if err != nil {
		return o.fail(ctx, id, calls.StageClassify, err, cl.Failures(), log), false
	}
	if cur.Status != calls.StatusProcessingClassify {
		return o.lost(log, calls.StatusProcessingClassify), false
	}

	now := o.now()
	result := cl.Value
	result.ID = analysis.ResultID(uuid.New().String())
	result.CallID = string(id)
	result.GeneratedAt = now

	history, err := o.Repo.CallerNameHistory(ctx, cur.CallerDigits, id)
	if err != nil {
		log.Warn("caller name history unavailable", zap.Error(err))
	}
	name := CallerName(cur, history, result.PatientName)

	if err := o.Analyses.Save(ctx, &result); err != nil {
		return o.fail(ctx, id, calls.StageClassify, err, cl.Failures(), log), result.Degraded
	}
	retries := min(tr.Failures()+cl.Failures(), o.maxAttempts())
	completed, err := o.Repo.MarkCompleted(ctx, id, name, retries, now)
	if err != nil {
		return o.fail(ctx, id, calls.StageClassify, err, cl.Failures(), log), result.Degraded
	}
	if !completed {
		return o.lost(log, calls.StatusProcessingClassify), false
	}
	log.Info("pipeline completed",
		zap.String("category", string(result.Category)),
		zap.Bool("degraded", result.Degraded),
	)

	o.enrichProfile(ctx, cur, result, name, log)
	o.publish(ctx, cur, result, name, now, log)
	return calls.StatusCompleted, result.Degraded
}

func (o *Orchestrator) policy(log *zap.Logger, op string) resilience.Policy {
	p := o.Policy
	if p.OnRetry == nil {
		p.OnRetry = resilience.RetryLogger(log, op)
	}
	return p
}

func (o *Orchestrator) abandoned(ctx context.Context, log *zap.Logger, stage calls.Stage) bool {
	if ctx.Err() == nil {
		return false
	}
	log.Warn("run budget exceeded, leaving call at its last status",
		zap.String("stage", string(stage)),
		zap.Duration("budget", o.Budget()),
	)
	return true
}

func (o *Orchestrator) skipReason(rec *calls.CallRecord, size int) string {
	if o.MinAudioBytes > 0 && size < o.MinAudioBytes {
		return fmt.Sprintf("skipped: recording too small (%d bytes)", size)
	}
	if o.MinDurationSeconds > 0 && rec.DurationSeconds > 0 && rec.DurationSeconds < o.MinDurationSeconds {
		return fmt.Sprintf("skipped: call too short (%ds)", rec.DurationSeconds)
	}
	return ""
}

func (o *Orchestrator) maxAttempts() int {
	if o.Policy.MaxAttempts <= 0 {
		return resilience.DefaultPolicy().MaxAttempts
	}
	return o.Policy.MaxAttempts
}

// lost reports a guarded write that found the record outside the run's
// status. Another run owns the record now.
func (o *Orchestrator) lost(log *zap.Logger, expected calls.PipelineStatus) calls.PipelineStatus {
	log.Warn("call left its processing status during the run, abandoning",
		zap.String("expected", string(expected)),
	)
	return ""
}

// fail returns FAILED, or "" when the record no longer belongs to this run.
func (o *Orchestrator) fail(ctx context.Context, id calls.CallID, stage calls.Stage, cause error, retries int, log *zap.Logger) calls.PipelineStatus {
	reason := fmt.Sprintf("%s: %v", stage, cause)
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}
	log.Error("pipeline stage failed",
		zap.String("stage", string(stage)),
		zap.Int("attempts", retries),
		zap.Error(cause),
	)

	from := calls.StatusProcessingTranscribe
	if stage == calls.StageClassify {
		from = calls.StatusProcessingClassify
	}
	marked, err := o.Repo.MarkFailed(ctx, id, from, reason, retries)
	if err != nil {
		log.Error("mark failed", zap.Error(err))
	} else if !marked {
		return o.lost(log, from)
	}

	if o.StageErrors != nil {
		if err := o.StageErrors.Save(ctx, &stageerrors.StageError{
			CallID:    string(id),
			Stage:     string(stage),
			Attempts:  retries,
			Message:   cause.Error(),
			CreatedAt: o.now(),
		}); err != nil {
			log.Warn("stage error not recorded", zap.Error(err))
		}
	}
	return calls.StatusFailed
}

func (o *Orchestrator) enrichProfile(ctx context.Context, rec *calls.CallRecord, r analysis.Result, name string, log *zap.Logger) {
	if o.Profiles == nil || rec.Patient == nil || r.Degraded {
		return
	}
	u := patients.ProfileUpdate{
		Temperature:    string(r.Temperature),
		Interest:       r.Interest,
		InterestDetail: r.InterestDetail,
		CallRecordID:   string(rec.ID),
	}
	if rec.Patient.Name == "" {
		u.Name = name
	}
	if r.FollowUp == analysis.FollowUpBooked {
		u.Status = patients.StatusReserved
	}
	if err := o.Profiles.ApplyAnalysis(ctx, rec.Patient.ID, u); err != nil {
		log.Warn("patient profile update failed", zap.String("patient_id", string(rec.Patient.ID)), zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, rec *calls.CallRecord, r analysis.Result, name string, at time.Time, log *zap.Logger) {
	if o.Events == nil {
		return
	}
	e := calls.AnalysisCompleted{
		CallRecordID: string(rec.ID),
		CallerNumber: rec.CallerNumber,
		CallerName:   name,
		Category:     string(r.Category),
		Temperature:  string(r.Temperature),
		Summary:      r.Summary,
		Degraded:     r.Degraded,
		CompletedAt:  at,
	}
	if rec.Patient != nil {
		e.PatientID = string(rec.Patient.ID)
	}
	if err := o.Events.PublishAnalysisCompleted(ctx, e); err != nil {
		log.Warn("analysis-complete event not published", zap.Error(err))
	}
}
