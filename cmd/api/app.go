package main

import (
	"context"
	"database/sql"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/InahHwang/d-care-console-sub007/internal/application"
	appcalls "github.com/InahHwang/d-care-console-sub007/internal/application/calls"
	"github.com/InahHwang/d-care-console-sub007/internal/application/identity"
	"github.com/InahHwang/d-care-console-sub007/internal/application/pipeline"
	"github.com/InahHwang/d-care-console-sub007/internal/config"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/ai"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/analysis"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/patients"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/stageerrors"
	openaiclient "github.com/InahHwang/d-care-console-sub007/internal/infra/ai/openai"
	"github.com/InahHwang/d-care-console-sub007/internal/infra/db/memory"
	mysqlstore "github.com/InahHwang/d-care-console-sub007/internal/infra/db/mysql"
	pgstore "github.com/InahHwang/d-care-console-sub007/internal/infra/db/postgres"
	"github.com/InahHwang/d-care-console-sub007/internal/infra/events"
	"github.com/InahHwang/d-care-console-sub007/internal/infra/fetch"
	"github.com/InahHwang/d-care-console-sub007/internal/infra/profile"
	"github.com/InahHwang/d-care-console-sub007/internal/infra/storage"
	"github.com/InahHwang/d-care-console-sub007/internal/infra/stt/diarize"
	"github.com/InahHwang/d-care-console-sub007/internal/middleware"
	"github.com/InahHwang/d-care-console-sub007/internal/resilience"
)

// directory is the patient directory plus its phone index.
type directory interface {
	patients.Directory
	patients.PhoneIndexer
	patients.ProfileUpdater
}

// reindexer is implemented by the SQL directories.
type reindexer interface {
	ReindexAll(ctx context.Context) (int, error)
}

type stores struct {
	calls       calls.Repository
	analyses    analysis.Repository
	stageErrors stageerrors.Repository
	directory   directory
	db          *sql.DB
}

func openStores(ctx context.Context, cfg *config.Config, now func() time.Time) (*stores, error) {
	switch cfg.Database.Driver {
	case "memory":
		return &stores{
			calls:       memory.NewCallRepository(now),
			analyses:    memory.NewAnalysisRepository(),
			stageErrors: memory.NewStageErrorRepository(),
			directory:   memory.NewDirectory(),
		}, nil
	case "postgres":
		db, err := pgstore.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, err
		}
		return &stores{
			calls:       pgstore.NewCallRepository(db, now),
			analyses:    pgstore.NewAnalysisRepository(db),
			stageErrors: pgstore.NewStageErrorRepository(db),
			directory:   pgstore.NewDirectoryRepository(db, now),
			db:          db,
		}, nil
	default:
		db, err := mysqlstore.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, err
		}
		return &stores{
			calls:       mysqlstore.NewCallRepository(db, now),
			analyses:    mysqlstore.NewAnalysisRepository(db),
			stageErrors: mysqlstore.NewStageErrorRepository(db),
			directory:   mysqlstore.NewDirectoryRepository(db, now),
			db:          db,
		}, nil
	}
}

// app holds every long-lived collaborator of the process.
type app struct {
	stores   *stores
	service  *appcalls.Service
	resolver *identity.Resolver
	orch     *pipeline.Orchestrator
	queue    *pipeline.Queue
	metrics  *middleware.Metrics
	health   map[string]middleware.HealthChecker
	closers  []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

func speechToText(cfg *config.Config, oa *openaiclient.Client, log *zap.Logger) ai.SpeechToText {
	if cfg.STT.Provider == "diarize" {
		return diarize.NewClient(cfg.STT.BaseURL, cfg.STT.APIKey, cfg.STTTimeout(), log.Named("stt"))
	}
	return oa
}

// buildApp wires the pipeline. scheduler overrides the worker queue when set.
func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger, scheduler calls.Scheduler) (*app, error) {
	clock := application.SystemClock{}
	a := &app{
		metrics: middleware.NewMetrics(),
		health:  make(map[string]middleware.HealthChecker),
	}

	st, err := openStores(ctx, cfg, clock.Now)
	if err != nil {
		return nil, err
	}
	a.stores = st
	if st.db != nil {
		a.closers = append(a.closers, st.db)
		a.health["database"] = middleware.Dependency{Checker: middleware.CheckFunc(st.db.PingContext)}
	}

	var blobs calls.RecordingStore
	if cfg.Minio.Endpoint != "" {
		store, err := storage.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			a.Close()
			return nil, err
		}
		blobs = store
		a.health["storage"] = middleware.Dependency{Checker: middleware.CheckFunc(store.Ping), Timeout: 3 * time.Second}
	} else {
		log.Warn("minio not configured, recordings are kept in memory")
		blobs = memory.NewRecordingStore()
	}

	var publisher calls.EventPublisher
	if cfg.Redis.Addr != "" {
		rdb := events.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		a.closers = append(a.closers, rdb)
		pub := events.NewStreamPublisher(rdb, cfg.Redis.Stream, cfg.Redis.MaxLen, log.Named("events"))
		publisher = pub
		// analysis events are best effort
		a.health["redis"] = middleware.Dependency{Checker: middleware.CheckFunc(pub.Ping), Optional: true}
	}

	var profiles patients.ProfileUpdater = st.directory
	if cfg.Profile.BaseURL != "" {
		profiles = profile.NewClient(cfg.Profile.BaseURL, cfg.Profile.APIKey, cfg.ProfileTimeout(), log.Named("profile"))
	}

	oa := openaiclient.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
	oa.Now = func() time.Time { return clock.Now().In(cfg.Location()) }

	a.resolver = identity.NewResolver(st.directory, log.Named("identity"))

	a.orch = &pipeline.Orchestrator{
		Repo:        st.calls,
		Analyses:    st.analyses,
		StageErrors: st.stageErrors,
		Audio: &pipeline.AudioLoader{
			Repo:    st.calls,
			Blobs:   blobs,
			Fetcher: fetch.NewDownloader(cfg.DownloadTimeout(), cfg.Pipeline.MaxDownloadMB<<20),
		},
		Transcribe:         &pipeline.TranscribeStage{STT: speechToText(cfg, oa, log), Language: cfg.STT.Language},
		Classify:           &pipeline.ClassifyStage{LLM: oa, Logger: log.Named("classify")},
		Profiles:           profiles,
		Events:             publisher,
		Metrics:            a.metrics,
		Policy:             resilience.FromConfig(cfg.Pipeline.MaxAttempts, cfg.Pipeline.BackoffMillis),
		RunBudget:          cfg.RunBudget(),
		MinAudioBytes:      cfg.Pipeline.MinAudioBytes,
		MinDurationSeconds: cfg.Pipeline.MinDurationSeconds,
		Clock:              clock,
		Logger:             log.Named("pipeline"),
	}

	if scheduler == nil {
		a.queue = pipeline.NewQueue(cfg.Pipeline.QueueSize, log.Named("queue"))
		scheduler = a.queue
	}

	a.service = &appcalls.Service{
		Repo:        st.calls,
		Analyses:    st.analyses,
		StageErrors: st.stageErrors,
		Blobs:       blobs,
		Resolver:    a.resolver,
		Scheduler:   scheduler,
		Clock:       clock,
		Logger:      log.Named("calls"),
		DedupWindow: cfg.DedupWindow(),
		RunBudget:   cfg.RunBudget(),
		Location:    cfg.Location(),
	}
	return a, nil
}

// inlineScheduler runs the pipeline on the caller's goroutine. Used by batch
// commands that have no worker pool.
type inlineScheduler struct {
	ctx  context.Context
	orch func() *pipeline.Orchestrator
}

func (s *inlineScheduler) Enqueue(id calls.CallID) bool {
	s.orch().Handle(s.ctx, id)
	return true
}

func (s *inlineScheduler) Cancel(calls.CallID) bool { return false }
