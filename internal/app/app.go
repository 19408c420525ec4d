package app

import (
	"context"
	"fmt"

	"github.com/orderlens/orderlens-backend/internal/clients/gcp"
	"github.com/orderlens/orderlens-backend/internal/clients/gcs"
	"github.com/orderlens/orderlens-backend/internal/clients/openai"
	"github.com/orderlens/orderlens-backend/internal/clients/redis"
	"github.com/orderlens/orderlens-backend/internal/clients/voice"
	"github.com/orderlens/orderlens-backend/internal/db"
	"github.com/orderlens/orderlens-backend/internal/extract"
	"github.com/orderlens/orderlens-backend/internal/grade"
	"github.com/orderlens/orderlens-backend/internal/menu"
	"github.com/orderlens/orderlens-backend/internal/pipeline"
	"github.com/orderlens/orderlens-backend/internal/platform/localmedia"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/repos"
	"github.com/orderlens/orderlens-backend/internal/splitter"
	"github.com/orderlens/orderlens-backend/internal/transcribe"
	"github.com/orderlens/orderlens-backend/internal/voiceid"
)

// App is the composition root: it owns every client and service the
// pipeline needs and hands the caller a wired Orchestrator.
type App struct {
	Log          *logger.Logger
	Postgres     *db.PostgresService
	Tools        localmedia.Tools
	Orchestrator pipeline.Orchestrator

	asr gcp.ASR
}

func New(cfg Config) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pg, err := db.NewPostgresService(log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	gdb := pg.DB()

	runRepo := repos.NewRunRepo(gdb, log)
	recordingRepo := repos.NewRecordingRepo(gdb, log)
	txRepo := repos.NewTransactionRepo(gdb, log)
	gradeRepo := repos.NewGradeRepo(gdb, log)
	analyticsRepo := repos.NewAnalyticsRepo(gdb, log)
	workerRepo := repos.NewWorkerRepo(gdb, log)
	locationRepo := repos.NewLocationRepo(gdb, log)
	menuRepo := repos.NewMenuRepo(gdb, log)

	blob, err := gcs.NewBlobStore(log)
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}
	share, err := gcs.NewFileShare(log)
	if err != nil {
		return nil, fmt.Errorf("init file share: %w", err)
	}
	locker, err := redis.NewRunLocker(log)
	if err != nil {
		return nil, fmt.Errorf("init run locker: %w", err)
	}
	asr, err := gcp.NewSpeech(log)
	if err != nil {
		return nil, fmt.Errorf("init speech client: %w", err)
	}
	reasoner, err := openai.NewReasoner(log)
	if err != nil {
		return nil, fmt.Errorf("init reasoner: %w", err)
	}
	embedder, err := voice.NewEmbedder(log)
	if err != nil {
		return nil, fmt.Errorf("init voice embedder: %w", err)
	}
	diarizer, err := voice.NewDiarizer(log)
	if err != nil {
		return nil, fmt.Errorf("init diarizer: %w", err)
	}

	tools := localmedia.New(log)
	split := splitter.New(log, cfg.Splitter, tools, share)
	transcriber := transcribe.New(log, split, tools, asr)
	extractor := extract.New(log, reasoner)
	binder := menu.NewBinder(log, menuRepo)
	grader := grade.New(log, cfg.Grader, reasoner, binder)
	voiceSvc := voiceid.New(log, cfg.Voice, share, tools, embedder, diarizer, txRepo)

	monitor := pipeline.NewMonitor(log, cfg.MaxMemoryGB)
	orc := pipeline.New(log, cfg.Pipeline, pipeline.Deps{
		Runs:         runRepo,
		Recordings:   recordingRepo,
		Transactions: txRepo,
		Grades:       gradeRepo,
		Analytics:    analyticsRepo,
		Workers:      workerRepo,
		Locations:    locationRepo,
		Splitter:     split,
		Transcriber:  transcriber,
		Extractor:    extractor,
		Binder:       binder,
		Grader:       grader,
		Voice:        voiceSvc,
		Blob:         blob,
		Locker:       locker,
		Tools:        tools,
	}, monitor)

	return &App{
		Log:          log,
		Postgres:     pg,
		Tools:        tools,
		Orchestrator: orc,
		asr:          asr,
	}, nil
}

// Ready verifies the external tool surface before a run starts.
func (a *App) Ready(ctx context.Context) error {
	return a.Tools.AssertReady(ctx)
}

func (a *App) Close() {
	if a.asr != nil {
		if err := a.asr.Close(); err != nil {
			a.Log.Warn("Speech client close failed", "error", err)
		}
	}
}
