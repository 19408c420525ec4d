package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/orderlens/orderlens-backend/internal/app"
)

func main() {
	var (
		orgIDFlag   = flag.String("org-id", "", "organization id (uuid)")
		locIDFlag   = flag.String("location-id", "", "location id (uuid)")
		dateFlag    = flag.String("date", "", "run date, YYYY-MM-DD")
		sourceFlag  = flag.String("source", "", "path to the day's source recording")
		runIDFlag   = flag.String("run-id", "", "existing run id to resume (optional)")
		workersFlag = flag.Int("workers", 0, "override transcription and grading pool sizes")
		skipMigrate = flag.Bool("skip-migrate", false, "skip schema auto-migration")
	)
	flag.Parse()

	if err := run(*orgIDFlag, *locIDFlag, *dateFlag, *sourceFlag, *runIDFlag, *workersFlag, *skipMigrate); err != nil {
		fmt.Fprintln(os.Stderr, "orderlens:", err)
		os.Exit(1)
	}
}

func run(orgIDStr, locIDStr, dateStr, sourcePath, runIDStr string, workers int, skipMigrate bool) error {
	orgID, err := uuid.Parse(orgIDStr)
	if err != nil {
		return fmt.Errorf("--org-id: %w", err)
	}
	locationID, err := uuid.Parse(locIDStr)
	if err != nil {
		return fmt.Errorf("--location-id: %w", err)
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return fmt.Errorf("--date: %w", err)
	}
	runID := uuid.Nil
	if runIDStr != "" {
		if runID, err = uuid.Parse(runIDStr); err != nil {
			return fmt.Errorf("--run-id: %w", err)
		}
	}
	if sourcePath == "" && runID == uuid.Nil {
		return fmt.Errorf("--source is required for a new run")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	if workers > 0 {
		cfg.Pipeline.ChunkParallelism = workers
		cfg.Pipeline.GradeParallelism = workers
		cfg.Voice.Parallelism = workers
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.Ready(ctx); err != nil {
		return fmt.Errorf("media tools not ready: %w", err)
	}
	if !skipMigrate {
		if err := a.Postgres.AutoMigrateAll(); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}

	runID, err = a.Orchestrator.Ingest(ctx, runID, orgID, locationID, date, sourcePath)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	a.Log.Info("Run ingested", "run_id", runID)

	processErr := a.Orchestrator.Process(ctx, runID)
	if processErr != nil {
		a.Log.Error("Run processing failed", "run_id", runID, "error", processErr)
	}
	if err := a.Orchestrator.Finalize(ctx, runID, processErr); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if processErr != nil {
		return fmt.Errorf("process: %w", processErr)
	}
	a.Log.Info("Run complete", "run_id", runID)
	return nil
}
