package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/orderlens/orderlens-backend/internal/analytics"
	"github.com/orderlens/orderlens-backend/internal/clients/gcs"
	"github.com/orderlens/orderlens-backend/internal/clients/redis"
	"github.com/orderlens/orderlens-backend/internal/extract"
	"github.com/orderlens/orderlens-backend/internal/grade"
	"github.com/orderlens/orderlens-backend/internal/menu"
	"github.com/orderlens/orderlens-backend/internal/platform/apperr"
	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/localmedia"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/platform/retry"
	"github.com/orderlens/orderlens-backend/internal/repos"
	"github.com/orderlens/orderlens-backend/internal/splitter"
	"github.com/orderlens/orderlens-backend/internal/transcribe"
	"github.com/orderlens/orderlens-backend/internal/types"
	"github.com/orderlens/orderlens-backend/internal/voiceid"
)

type Config struct {
	ChunkParallelism     int
	GradeParallelism     int
	MinCompletedFraction float64
	MaxJobDurationSec    int
	RetryPolicy          retry.Policy
}

func (c Config) withDefaults() Config {
	if c.ChunkParallelism <= 0 {
		c.ChunkParallelism = 5
	}
	if c.GradeParallelism <= 0 {
		c.GradeParallelism = 5
	}
	if c.MaxJobDurationSec <= 0 {
		c.MaxJobDurationSec = 21600
	}
	if c.RetryPolicy.MaxRetries == 0 && c.RetryPolicy.BaseDelay == 0 {
		c.RetryPolicy = retry.DefaultPolicy()
	}
	return c
}

// Deps bundles everything the orchestrator drives.
type Deps struct {
	Runs         repos.RunRepo
	Recordings   repos.RecordingRepo
	Transactions repos.TransactionRepo
	Grades       repos.GradeRepo
	Analytics    repos.AnalyticsRepo
	Workers      repos.WorkerRepo
	Locations    repos.LocationRepo

	Splitter    splitter.Splitter
	Transcriber transcribe.Transcriber
	Extractor   extract.Extractor
	Binder      menu.Binder
	Grader      grade.Grader
	Voice       voiceid.Service

	Blob   gcs.BlobStore
	Locker redis.RunLocker
	Tools  localmedia.Tools
}

// Orchestrator drives one run end to end: ingest the source media, run
// the three processing phases, then rebuild analytics.
type Orchestrator interface {
	// Ingest creates the Run, the root Recording and any chunk Recordings,
	// uploads the source to the blob store, and moves the Run to
	// processing. Passing an existing runID makes the call idempotent.
	Ingest(ctx context.Context, runID, orgID, locationID uuid.UUID, date time.Time, sourcePath string) (uuid.UUID, error)
	Process(ctx context.Context, runID uuid.UUID) error
	Finalize(ctx context.Context, runID uuid.UUID, processErr error) error
}

type orchestrator struct {
	log     *logger.Logger
	cfg     Config
	deps    Deps
	monitor *Monitor
}

func New(log *logger.Logger, cfg Config, deps Deps, monitor *Monitor) Orchestrator {
	return &orchestrator{
		log:     log.With("service", "Orchestrator"),
		cfg:     cfg.withDefaults(),
		deps:    deps,
		monitor: monitor,
	}
}

// diagnostics is the compact error summary stored on the run row.
type diagnostics struct {
	Chunks               int            `json:"chunks"`
	Segments             int            `json:"segments"`
	Transactions         int            `json:"transactions"`
	Grades               int            `json:"grades"`
	SanityViolations     int            `json:"sanity_violations"`
	OffersGtOpps         int            `json:"offers_gt_opportunities"`
	VoiceDone            int            `json:"voice_done"`
	VoiceSkipped         int            `json:"voice_skipped"`
	VoiceFailed          int            `json:"voice_failed"`
	FailedChunks         int            `json:"failed_chunks,omitempty"`
	FailedGrades         int            `json:"failed_grades,omitempty"`
	Monitor              MonitorSummary `json:"monitor"`
	LastError            string         `json:"last_error,omitempty"`
}

func (o *orchestrator) Ingest(ctx context.Context, runID, orgID, locationID uuid.UUID, date time.Time, sourcePath string) (uuid.UUID, error) {
	ctx = ctxutil.Default(ctx)

	if runID != uuid.Nil {
		if existing, err := o.deps.Runs.GetByID(ctx, nil, runID); err == nil && existing != nil {
			o.log.Info("Reusing existing run", "run_id", runID)
			return runID, nil
		}
	} else {
		runID = uuid.New()
	}
	ctx = ctxutil.WithRun(ctx, runID)

	plan, err := o.deps.Splitter.Plan(ctx, sourcePath)
	if err != nil {
		return uuid.Nil, fmt.Errorf("plan source: %w", err)
	}

	now := time.Now().UTC()
	run := &types.Run{
		ID:         runID,
		OrgID:      orgID,
		LocationID: locationID,
		RunDate:    date,
		Status:     types.RunStatusUploading,
		StartedAt:  &now,
	}
	if err := o.deps.Runs.Upsert(ctx, nil, run); err != nil {
		return uuid.Nil, fmt.Errorf("create run: %w", err)
	}

	objectKey := sessionKey(runID, "source"+filepath.Ext(sourcePath))
	f, err := os.Open(sourcePath)
	if err != nil {
		return uuid.Nil, fmt.Errorf("open source: %w", err)
	}
	err = o.deps.Blob.PutStream(ctx, objectKey, f)
	f.Close()
	if err != nil {
		return uuid.Nil, fmt.Errorf("upload source: %w", err)
	}

	rootStart := date
	root := &types.Recording{
		ID:         uuid.NewSHA1(runID, []byte("recording:root")),
		RunID:      runID,
		LocationID: locationID,
		StartedAt:  rootStart,
		EndedAt:    rootStart.Add(secDuration(plan.DurationSec)),
		ObjectKey:  objectKey,
		Link:       o.deps.Blob.PublicURL(objectKey),
		Status:     types.RecordingStatusUploaded,
	}
	recs := []*types.Recording{root}

	if plan.Split() {
		for _, spec := range plan.Chunks {
			meta, _ := json.Marshal(types.ChunkMeta{
				IsChunk:       true,
				OriginalID:    root.ID,
				ChunkIndex:    spec.Index,
				ChunkStartSec: spec.StartSec,
				ChunkEndSec:   spec.EndSec,
				OverlapSec:    spec.OverlapSec,
			})
			recs = append(recs, &types.Recording{
				ID:         uuid.NewSHA1(runID, []byte(fmt.Sprintf("recording:chunk:%d", spec.Index))),
				RunID:      runID,
				LocationID: locationID,
				StartedAt:  rootStart.Add(secDuration(spec.StartSec)),
				EndedAt:    rootStart.Add(secDuration(spec.EndSec)),
				ObjectKey:  objectKey,
				Status:     types.RecordingStatusUploaded,
				Meta:       datatypes.JSON(meta),
			})
		}
	}
	if err := o.deps.Recordings.UpsertMany(ctx, nil, recs); err != nil {
		return uuid.Nil, fmt.Errorf("create recordings: %w", err)
	}

	if err := o.deps.Runs.UpdateFields(ctx, nil, runID, map[string]interface{}{
		"status": types.RunStatusProcessing,
	}); err != nil {
		return uuid.Nil, fmt.Errorf("mark run processing: %w", err)
	}

	o.log.Info("Run ingested", "run_id", runID, "chunks", len(plan.Chunks), "duration_sec", plan.DurationSec)
	return runID, nil
}

func (o *orchestrator) Process(ctx context.Context, runID uuid.UUID) error {
	ctx = ctxutil.WithRun(ctxutil.Default(ctx), runID)
	ctx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.MaxJobDurationSec)*time.Second)
	defer cancel()

	release, ok, err := o.deps.Locker.Acquire(ctx, "process:"+runID.String(),
		time.Duration(o.cfg.MaxJobDurationSec)*time.Second)
	if err != nil {
		return fmt.Errorf("acquire process lock: %w", err)
	}
	if !ok {
		return apperr.E(apperr.KindConstraintViolation, "pipeline.process",
			fmt.Errorf("run %s already processing", runID))
	}
	defer release()

	go o.monitor.WatchMemory(ctx, 30*time.Second)

	run, err := o.deps.Runs.GetByID(ctx, nil, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	root, chunks, err := o.loadRecordings(ctx, runID)
	if err != nil {
		return err
	}

	workDir, cleanup, err := o.deps.Tools.TempDir("run-" + runID.String() + "-")
	if err != nil {
		return err
	}
	defer cleanup()

	sourcePath, err := o.fetchSource(ctx, root, workDir)
	if err != nil {
		return err
	}

	catalog, err := o.deps.Binder.Load(ctx, run.LocationID)
	if err != nil {
		return fmt.Errorf("load menu catalog: %w", err)
	}

	diag := &diagnostics{}
	art := &artifacts{}

	txs, err := o.phaseTransactions(ctx, run, root, chunks, sourcePath, workDir, art, diag)
	if err != nil {
		return o.failed(ctx, runID, diag, fmt.Errorf("phase transactions: %w", err))
	}

	if err := o.phaseGrading(ctx, catalog, txs, art, diag); err != nil {
		return o.failed(ctx, runID, diag, fmt.Errorf("phase grading: %w", err))
	}

	// Voice failures never fail the run.
	o.phaseClipsAndVoice(ctx, run, root, sourcePath, txs, diag)

	if err := art.flush(ctx, o.deps.Blob, runID); err != nil {
		return o.failed(ctx, runID, diag, fmt.Errorf("flush artifacts: %w", err))
	}

	diag.Monitor = o.monitor.Snapshot()
	meta, _ := json.Marshal(diag)
	if err := o.deps.Runs.UpdateFields(ctx, nil, runID, map[string]interface{}{
		"meta": datatypes.JSON(meta),
	}); err != nil {
		o.log.Warn("Run diagnostics write failed", "run_id", runID, "error", err)
	}

	o.log.Info("Run processed", "run_id", runID,
		"transactions", diag.Transactions, "grades", diag.Grades,
		"sanity_violations", diag.SanityViolations)
	return nil
}

func (o *orchestrator) loadRecordings(ctx context.Context, runID uuid.UUID) (*types.Recording, []*types.Recording, error) {
	recs, err := o.deps.Recordings.ListByRun(ctx, nil, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("list recordings: %w", err)
	}
	var root *types.Recording
	var chunks []*types.Recording
	for _, rec := range recs {
		var meta types.ChunkMeta
		if len(rec.Meta) > 0 {
			_ = json.Unmarshal(rec.Meta, &meta)
		}
		if meta.IsChunk {
			chunks = append(chunks, rec)
		} else if root == nil {
			root = rec
		}
	}
	if root == nil {
		return nil, nil, apperr.E(apperr.KindInputMalformed, "pipeline.process",
			fmt.Errorf("run %s has no root recording", runID))
	}
	return root, chunks, nil
}

func (o *orchestrator) fetchSource(ctx context.Context, root *types.Recording, workDir string) (string, error) {
	data, err := retry.Do(ctx, o.cfg.RetryPolicy, o.monitor, "blob.get_source",
		func(ctx context.Context) ([]byte, error) {
			return o.deps.Blob.Get(ctx, root.ObjectKey)
		})
	if err != nil {
		return "", fmt.Errorf("fetch source: %w", err)
	}
	path := filepath.Join(workDir, "source"+filepath.Ext(root.ObjectKey))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("stage source: %w", err)
	}
	return path, nil
}

// chunkWork is one phase-1 unit: a chunk window to transcribe and
// extract. Unsplit sources get a single synthetic whole-file window.
type chunkWork struct {
	index    int
	startSec float64
	path     string
}

func (o *orchestrator) phaseTransactions(ctx context.Context, run *types.Run, root *types.Recording, chunkRecs []*types.Recording, sourcePath, workDir string, art *artifacts, diag *diagnostics) ([]*types.Transaction, error) {
	ctx = ctxutil.WithPhase(ctx, "transactions")
	plan, err := o.deps.Splitter.Plan(ctx, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("plan chunks: %w", err)
	}
	media, err := o.deps.Splitter.Cut(ctx, sourcePath, plan, filepath.Join(workDir, "chunks"))
	if err != nil {
		return nil, fmt.Errorf("cut chunks: %w", err)
	}
	work := make([]chunkWork, 0, len(media))
	for _, m := range media {
		work = append(work, chunkWork{index: m.Spec.Index, startSec: m.Spec.StartSec, path: m.Path})
	}
	diag.Chunks = len(work)

	var (
		mu        sync.Mutex
		collected []*types.Transaction
		byID      = map[uuid.UUID]*types.Transaction{}
		completed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ChunkParallelism)
	for _, cw := range work {
		cw := cw
		g.Go(func() error {
			txs, segCount, err := o.processChunk(gctx, run, root, cw, art)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				diag.FailedChunks++
				o.log.Error("Chunk failed", "chunk", cw.index, "error", err)
				if apperr.IsCancelled(err) {
					return err
				}
				return nil
			}
			completed++
			diag.Segments += segCount
			for _, tx := range txs {
				// Overlap duplicates collide on the deterministic id; first
				// writer wins so chunk order does not matter.
				if _, dup := byID[tx.ID]; dup {
					continue
				}
				byID[tx.ID] = tx
				collected = append(collected, tx)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(work) > 0 && float64(completed)/float64(len(work)) < o.cfg.MinCompletedFraction {
		return nil, fmt.Errorf("only %d/%d chunks completed", completed, len(work))
	}

	collected = dedupeOverlap(collected, overlapOf(chunkRecs))
	sort.Slice(collected, func(i, j int) bool {
		return collected[i].StartedAt.Before(collected[j].StartedAt)
	})
	diag.Transactions = len(collected)

	if _, err := retry.Do(ctx, o.cfg.RetryPolicy, o.monitor, "db.upsert_transactions",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.deps.Transactions.UpsertMany(ctx, nil, collected)
		}); err != nil {
		return nil, fmt.Errorf("persist transactions: %w", err)
	}
	return collected, nil
}

func (o *orchestrator) processChunk(ctx context.Context, run *types.Run, root *types.Recording, cw chunkWork, art *artifacts) ([]*types.Transaction, int, error) {
	segs, err := retry.Do(ctx, o.cfg.RetryPolicy, o.monitor, "transcribe.chunk",
		func(ctx context.Context) ([]transcribe.Segment, error) {
			return o.deps.Transcriber.TranscribeChunk(ctx, cw.path)
		})
	if err != nil {
		return nil, 0, err
	}
	art.addSegments(cw.index, segs)

	var out []*types.Transaction
	for _, seg := range segs {
		cands, err := retry.Do(ctx, o.cfg.RetryPolicy, o.monitor, "extract.segment",
			func(ctx context.Context) ([]extract.Candidate, error) {
				return o.deps.Extractor.Extract(ctx, seg)
			})
		if err != nil {
			return nil, 0, err
		}
		for _, cand := range cands {
			tx := o.buildTransaction(run, root, cw, cand)
			art.addTransaction(cw.index, tx, cand)
			out = append(out, tx)
		}
	}
	return out, len(segs), nil
}

// buildTransaction maps a chunk-relative candidate onto the root
// timeline. The id derives from the rounded root-relative start so a
// transaction seen in two overlapping chunks produces one row.
func (o *orchestrator) buildTransaction(run *types.Run, root *types.Recording, cw chunkWork, cand extract.Candidate) *types.Transaction {
	rootStartSec := cw.startSec + cand.StartSec
	rootEndSec := cw.startSec + cand.EndSec

	meta, _ := json.Marshal(types.TransactionMeta{
		Transcript:      cand.Transcript,
		CompleteOrder:   cand.CompleteOrder,
		MobileOrder:     cand.MobileOrder,
		CouponUsed:      cand.CouponUsed,
		AskedMoreTime:   cand.AskedMoreTime,
		OutOfStockItems: cand.OutOfStockItems,
	})
	return &types.Transaction{
		ID:                     uuid.NewSHA1(run.ID, []byte(fmt.Sprintf("tx:%.0f", rootStartSec))),
		RunID:                  run.ID,
		RecordingID:            root.ID,
		StartedAt:              root.StartedAt.Add(secDuration(rootStartSec)),
		EndedAt:                root.StartedAt.Add(secDuration(rootEndSec)),
		Kind:                   types.TransactionKindOrder,
		Meta:                   datatypes.JSON(meta),
		WorkerAssignmentSource: types.WorkerAssignmentSourceUnassigned,
	}
}

// dedupeOverlap drops a transaction that starts within the chunk overlap
// of an already-kept one. Distinct transactions are separated by at
// least one silence window, which exceeds the overlap, so only boundary
// duplicates collapse.
func dedupeOverlap(txs []*types.Transaction, overlapSec float64) []*types.Transaction {
	if overlapSec <= 0 || len(txs) < 2 {
		return txs
	}
	sorted := make([]*types.Transaction, len(txs))
	copy(sorted, txs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartedAt.Before(sorted[j].StartedAt) })

	out := sorted[:1]
	for _, tx := range sorted[1:] {
		prev := out[len(out)-1]
		if tx.StartedAt.Sub(prev.StartedAt) <= secDuration(overlapSec) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

func overlapOf(chunkRecs []*types.Recording) float64 {
	for _, rec := range chunkRecs {
		var meta types.ChunkMeta
		if len(rec.Meta) > 0 {
			if err := json.Unmarshal(rec.Meta, &meta); err == nil && meta.OverlapSec > 0 {
				return meta.OverlapSec
			}
		}
	}
	return 0
}

func (o *orchestrator) phaseGrading(ctx context.Context, catalog *menu.Catalog, txs []*types.Transaction, art *artifacts, diag *diagnostics) error {
	ctx = ctxutil.WithPhase(ctx, "grading")
	var (
		mu        sync.Mutex
		grades    []*types.Grade
		completed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.GradeParallelism)
	for _, tx := range txs {
		tx := tx
		g.Go(func() error {
			res, err := retry.Do(gctx, o.cfg.RetryPolicy, o.monitor, "grade.transaction",
				func(ctx context.Context) (*grade.Result, error) {
					return o.deps.Grader.GradeTransaction(ctx, catalog, tx)
				})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				diag.FailedGrades++
				o.log.Error("Grade failed", "transaction_id", tx.ID, "error", err)
				if apperr.IsCancelled(err) {
					return err
				}
				return nil
			}
			completed++
			diag.SanityViolations += len(res.Violations)
			for _, v := range res.Violations {
				if containsOffersGtOpps(v) {
					diag.OffersGtOpps++
				}
			}
			grades = append(grades, &res.Grade)
			art.addGrade(&res.Grade)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(txs) > 0 && float64(completed)/float64(len(txs)) < o.cfg.MinCompletedFraction {
		return fmt.Errorf("only %d/%d transactions graded", completed, len(txs))
	}
	diag.Grades = len(grades)

	if _, err := retry.Do(ctx, o.cfg.RetryPolicy, o.monitor, "db.upsert_grades",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.deps.Grades.UpsertMany(ctx, nil, grades)
		}); err != nil {
		return fmt.Errorf("persist grades: %w", err)
	}
	return nil
}

func (o *orchestrator) phaseClipsAndVoice(ctx context.Context, run *types.Run, root *types.Recording, sourcePath string, txs []*types.Transaction, diag *diagnostics) {
	ctx = ctxutil.WithPhase(ctx, "voice")
	if len(txs) == 0 {
		return
	}
	reqs := make([]splitter.ClipRequest, 0, len(txs))
	for _, tx := range txs {
		reqs = append(reqs, splitter.ClipRequest{
			TransactionID: tx.ID,
			StartSec:      tx.StartedAt.Sub(root.StartedAt).Seconds(),
			EndSec:        tx.EndedAt.Sub(root.StartedAt).Seconds(),
		})
	}
	clips, err := o.deps.Splitter.Clip(ctx, sourcePath, reqs, run.RunDate)
	if err != nil {
		o.log.Error("Clip generation failed, voice attribution skipped", "run_id", run.ID, "error", err)
		return
	}
	for _, clip := range clips {
		if err := o.deps.Transactions.UpdateFields(ctx, nil, clip.TransactionID, map[string]interface{}{
			"clip_ref":  clip.Ref.ID,
			"clip_link": clip.Ref.Link,
		}); err != nil {
			o.log.Warn("Clip ref write failed", "transaction_id", clip.TransactionID, "error", err)
		}
	}

	location, err := o.deps.Locations.GetByID(ctx, nil, run.LocationID)
	if err != nil {
		o.log.Error("Location load failed, voice attribution skipped", "run_id", run.ID, "error", err)
		return
	}
	workers, err := o.deps.Workers.ListByLocation(ctx, nil, run.LocationID)
	if err != nil {
		o.log.Error("Worker load failed, voice attribution skipped", "run_id", run.ID, "error", err)
		return
	}
	refs, err := o.deps.Voice.BuildReferenceSet(ctx, location.Name, workers)
	if err != nil {
		o.log.Error("Reference set build failed, voice attribution skipped", "run_id", run.ID, "error", err)
		return
	}
	sum, err := o.deps.Voice.ProcessClips(ctx, run.RunDate, refs, txs)
	if err != nil {
		o.log.Error("Voice clip batch failed", "run_id", run.ID, "error", err)
		return
	}
	diag.VoiceDone = sum.Done
	diag.VoiceSkipped = sum.Skipped
	diag.VoiceFailed = sum.Failed
}

// Finalize rebuilds analytics under the run's analytics lock and writes
// the terminal status. processErr, when non-nil, marks the run failed.
func (o *orchestrator) Finalize(ctx context.Context, runID uuid.UUID, processErr error) error {
	ctx = ctxutil.WithPhase(ctxutil.WithRun(ctxutil.Default(ctx), runID), "analytics")

	if processErr != nil {
		return o.setTerminal(ctx, runID, types.RunStatusFailed)
	}

	release, ok, err := o.deps.Locker.Acquire(ctx, "analytics:"+runID.String(), 10*time.Minute)
	if err != nil {
		return fmt.Errorf("acquire analytics lock: %w", err)
	}
	if !ok {
		return apperr.E(apperr.KindConstraintViolation, "pipeline.finalize",
			fmt.Errorf("analytics rebuild already running for %s", runID))
	}
	defer release()

	run, err := o.deps.Runs.GetByID(ctx, nil, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	txs, err := o.deps.Transactions.ListByRun(ctx, nil, runID)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}
	grades, err := o.deps.Grades.ListByRun(ctx, nil, runID)
	if err != nil {
		return fmt.Errorf("list grades: %w", err)
	}
	catalog, err := o.deps.Binder.Load(ctx, run.LocationID)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	workers, err := o.deps.Workers.ListByLocation(ctx, nil, run.LocationID)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}

	txByID := make(map[uuid.UUID]*types.Transaction, len(txs))
	for _, tx := range txs {
		txByID[tx.ID] = tx
	}
	rows := make([]analytics.Row, 0, len(grades))
	for _, g := range grades {
		row := analytics.Row{Grade: g}
		if tx, ok := txByID[g.TransactionID]; ok {
			row.WorkerID = tx.WorkerID
			row.StartedAt = tx.StartedAt
		}
		rows = append(rows, row)
	}

	report := analytics.BuildReport(runID, rows, catalog, workers)
	if err := o.deps.Analytics.UpsertRun(ctx, nil, &report.Store); err != nil {
		return fmt.Errorf("persist run analytics: %w", err)
	}
	workerRows := make([]*types.RunAnalyticsWorker, 0, len(report.Workers))
	for i := range report.Workers {
		workerRows = append(workerRows, &report.Workers[i])
	}
	if err := o.deps.Analytics.UpsertWorkers(ctx, nil, workerRows); err != nil {
		return fmt.Errorf("persist worker analytics: %w", err)
	}

	return o.setTerminal(ctx, runID, types.RunStatusComplete)
}

func (o *orchestrator) setTerminal(ctx context.Context, runID uuid.UUID, status string) error {
	now := time.Now().UTC()
	if err := o.deps.Runs.UpdateFields(ctx, nil, runID, map[string]interface{}{
		"status":   status,
		"ended_at": now,
	}); err != nil {
		return fmt.Errorf("set run %s: %w", status, err)
	}
	o.log.Info("Run finalized", "run_id", runID, "status", status)
	return nil
}

func (o *orchestrator) failed(ctx context.Context, runID uuid.UUID, diag *diagnostics, err error) error {
	diag.LastError = err.Error()
	diag.Monitor = o.monitor.Snapshot()
	meta, _ := json.Marshal(diag)
	if uerr := o.deps.Runs.UpdateFields(ctx, nil, runID, map[string]interface{}{
		"meta": datatypes.JSON(meta),
	}); uerr != nil {
		o.log.Warn("Run diagnostics write failed", "run_id", runID, "error", uerr)
	}
	return err
}

func containsOffersGtOpps(v string) bool {
	return strings.Contains(v, "offers") && strings.Contains(v, "> opportunities")
}

func secDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
