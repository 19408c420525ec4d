package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/orderlens/orderlens-backend/internal/clients/gcs"
	"github.com/orderlens/orderlens-backend/internal/extract"
	"github.com/orderlens/orderlens-backend/internal/grade"
	"github.com/orderlens/orderlens-backend/internal/menu"
	"github.com/orderlens/orderlens-backend/internal/platform/localmedia"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/platform/retry"
	"github.com/orderlens/orderlens-backend/internal/splitter"
	"github.com/orderlens/orderlens-backend/internal/transcribe"
	"github.com/orderlens/orderlens-backend/internal/types"
	"github.com/orderlens/orderlens-backend/internal/voiceid"
)

var (
	orcRunID = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	orcOrgID = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002")
	orcLocID = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000003")
)

// ---- repo fakes -----------------------------------------------------------

type fakeRunRepo struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*types.Run
}

func newFakeRunRepo() *fakeRunRepo { return &fakeRunRepo{runs: map[uuid.UUID]*types.Run{}} }

func (r *fakeRunRepo) Upsert(ctx context.Context, tx *gorm.DB, run *types.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *fakeRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	cp := *run
	return &cp, nil
}

func (r *fakeRunRepo) GetByLocationDate(ctx context.Context, tx *gorm.DB, locationID uuid.UUID, runDate time.Time) (*types.Run, error) {
	return nil, fmt.Errorf("not found")
}

func (r *fakeRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	if v, ok := updates["status"]; ok {
		run.Status = v.(string)
	}
	if v, ok := updates["ended_at"]; ok {
		t := v.(time.Time)
		run.EndedAt = &t
	}
	if v, ok := updates["meta"]; ok {
		run.Meta = v.(datatypes.JSON)
	}
	return nil
}

type fakeRecordingRepo struct {
	mu   sync.Mutex
	recs map[uuid.UUID]*types.Recording
}

func newFakeRecordingRepo() *fakeRecordingRepo {
	return &fakeRecordingRepo{recs: map[uuid.UUID]*types.Recording{}}
}

func (r *fakeRecordingRepo) UpsertMany(ctx context.Context, tx *gorm.DB, recs []*types.Recording) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		cp := *rec
		r.recs[rec.ID] = &cp
	}
	return nil
}

func (r *fakeRecordingRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, fmt.Errorf("recording %s not found", id)
	}
	return rec, nil
}

func (r *fakeRecordingRepo) ListByRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Recording
	for _, rec := range r.recs {
		if rec.RunID == runID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeRecordingRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

type fakeTxRepo struct {
	mu      sync.Mutex
	txs     map[uuid.UUID]*types.Transaction
	updates map[uuid.UUID]map[string]interface{}
}

func newFakeTxRepo() *fakeTxRepo {
	return &fakeTxRepo{
		txs:     map[uuid.UUID]*types.Transaction{},
		updates: map[uuid.UUID]map[string]interface{}{},
	}
}

func (r *fakeTxRepo) UpsertMany(ctx context.Context, tx *gorm.DB, txs []*types.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range txs {
		cp := *t
		r.txs[t.ID] = &cp
	}
	return nil
}

func (r *fakeTxRepo) ListByRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Transaction
	for _, t := range r.txs {
		if t.RunID == runID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTxRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates[id] = updates
	return nil
}

func (r *fakeTxRepo) AssignWorker(ctx context.Context, tx *gorm.DB, id uuid.UUID, workerID *uuid.UUID, confidence *float64, source string, processedAt time.Time) error {
	return nil
}

type fakeGradeRepo struct {
	mu     sync.Mutex
	grades map[uuid.UUID]*types.Grade
}

func newFakeGradeRepo() *fakeGradeRepo { return &fakeGradeRepo{grades: map[uuid.UUID]*types.Grade{}} }

func (r *fakeGradeRepo) UpsertMany(ctx context.Context, tx *gorm.DB, grades []*types.Grade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range grades {
		cp := *g
		r.grades[g.TransactionID] = &cp
	}
	return nil
}

func (r *fakeGradeRepo) ListByRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.Grade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Grade
	for _, g := range r.grades {
		if g.RunID == runID {
			out = append(out, g)
		}
	}
	return out, nil
}

type fakeAnalyticsRepo struct {
	mu      sync.Mutex
	run     *types.RunAnalytics
	workers []*types.RunAnalyticsWorker
}

func (r *fakeAnalyticsRepo) UpsertRun(ctx context.Context, tx *gorm.DB, row *types.RunAnalytics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run = row
	return nil
}

func (r *fakeAnalyticsRepo) UpsertWorkers(ctx context.Context, tx *gorm.DB, rows []*types.RunAnalyticsWorker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = rows
	return nil
}

func (r *fakeAnalyticsRepo) GetRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*types.RunAnalytics, error) {
	return r.run, nil
}

func (r *fakeAnalyticsRepo) ListWorkers(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.RunAnalyticsWorker, error) {
	return r.workers, nil
}

type fakeWorkerRepo struct{ workers []*types.Worker }

func (r *fakeWorkerRepo) ListByLocation(ctx context.Context, tx *gorm.DB, locationID uuid.UUID) ([]*types.Worker, error) {
	return r.workers, nil
}

func (r *fakeWorkerRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Worker, error) {
	return r.workers, nil
}

type fakeLocationRepo struct{ loc *types.Location }

func (r *fakeLocationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Location, error) {
	return r.loc, nil
}

func (r *fakeLocationRepo) ListByOrg(ctx context.Context, tx *gorm.DB, orgID uuid.UUID) ([]*types.Location, error) {
	return []*types.Location{r.loc}, nil
}

func (r *fakeLocationRepo) Upsert(ctx context.Context, tx *gorm.DB, loc *types.Location) error {
	return nil
}

// ---- client fakes ---------------------------------------------------------

type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	jsonl   map[string]int
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: map[string][]byte{}, jsonl: map[string]int{}}
}

func (b *fakeBlob) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *fakeBlob) PutStream(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return b.Put(ctx, key, data)
}

func (b *fakeBlob) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (b *fakeBlob) PutJSONL(ctx context.Context, key string, records []interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jsonl[key] = len(records)
	return nil
}

func (b *fakeBlob) PublicURL(key string) string { return "https://blob.test/" + key }

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]bool{}} }

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, true, nil
}

type fakePipelineTools struct{ dir string }

func (t *fakePipelineTools) AssertReady(ctx context.Context) error { return nil }

func (t *fakePipelineTools) Probe(ctx context.Context, path string) (localmedia.MediaInfo, error) {
	return localmedia.MediaInfo{DurationSec: 2400, SizeBytes: 1 << 20, SampleRateHz: 16000}, nil
}

func (t *fakePipelineTools) TranscodeToWav(ctx context.Context, in, out string, opts localmedia.WavOptions) (string, error) {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	return out, os.WriteFile(out, []byte("wav"), 0o644)
}

func (t *fakePipelineTools) WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error) {
	f, err := os.CreateTemp(t.dir, "tmp-*"+suffix)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", nil, err
	}
	return f.Name(), func() {}, nil
}

func (t *fakePipelineTools) TempDir(prefix string) (string, func(), error) {
	dir, err := os.MkdirTemp(t.dir, prefix)
	return dir, func() {}, err
}

// ---- stage fakes ----------------------------------------------------------

// fakeOrcSplitter plans two 1205s chunks over a 2400s source with a 5s
// overlap at the second chunk's head.
type fakeOrcSplitter struct{ tools localmedia.Tools }

func (s *fakeOrcSplitter) Plan(ctx context.Context, sourcePath string) (splitter.ChunkPlan, error) {
	return splitter.ChunkPlan{
		DurationSec: 2400,
		SizeBytes:   1 << 20,
		Chunks: []splitter.ChunkSpec{
			{Index: 0, StartSec: 0, EndSec: 1200, OverlapSec: 5},
			{Index: 1, StartSec: 1195, EndSec: 2400, OverlapSec: 5},
		},
	}, nil
}

func (s *fakeOrcSplitter) Cut(ctx context.Context, sourcePath string, plan splitter.ChunkPlan, outDir string) ([]splitter.ChunkMedia, error) {
	out := make([]splitter.ChunkMedia, 0, len(plan.Chunks))
	for _, spec := range plan.Chunks {
		path := filepath.Join(outDir, fmt.Sprintf("chunk_%04d.wav", spec.Index))
		if _, err := s.tools.TranscodeToWav(ctx, sourcePath, path, localmedia.WavOptions{}); err != nil {
			return nil, err
		}
		out = append(out, splitter.ChunkMedia{Spec: spec, Path: path})
	}
	return out, nil
}

func (s *fakeOrcSplitter) DetectTransactions(src localmedia.SampleSource) ([]splitter.TimeRange, error) {
	return nil, nil
}

func (s *fakeOrcSplitter) Clip(ctx context.Context, sourcePath string, reqs []splitter.ClipRequest, runDate time.Time) ([]splitter.ClipResult, error) {
	out := make([]splitter.ClipResult, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, splitter.ClipResult{
			TransactionID: req.TransactionID,
			Ref: gcs.FileRef{
				ID:   "file-" + req.TransactionID.String(),
				Link: "https://share.test/" + req.TransactionID.String(),
			},
		})
	}
	return out, nil
}

// fakeOrcTranscriber emits one segment per chunk. Chunk 0 also emits a
// boundary segment that chunk 1 sees again through the overlap.
type fakeOrcTranscriber struct{}

func (t *fakeOrcTranscriber) TranscribeChunk(ctx context.Context, chunkPath string) ([]transcribe.Segment, error) {
	if strings.Contains(chunkPath, "chunk_0000") {
		return []transcribe.Segment{
			{StartSec: 100, EndSec: 130, Text: "one large fry please"},
			{StartSec: 1190, EndSec: 1199, Text: "a coke thanks"},
		}, nil
	}
	// Chunk 1 starts at root 1195, so its first segment lands at root
	// 1195, inside the 5s overlap window after chunk 0's boundary hit.
	return []transcribe.Segment{
		{StartSec: 0, EndSec: 4, Text: "a coke thanks"},
		{StartSec: 600, EndSec: 640, Text: "two burgers"},
	}, nil
}

type fakeOrcExtractor struct{}

func (e *fakeOrcExtractor) Extract(ctx context.Context, seg transcribe.Segment) ([]extract.Candidate, error) {
	return []extract.Candidate{{
		StartSec:        seg.StartSec,
		EndSec:          seg.EndSec,
		Transcript:      seg.Text,
		CompleteOrder:   1,
		OutOfStockItems: "0",
	}}, nil
}

type fakeOrcBinder struct{ catalog *menu.Catalog }

func (b *fakeOrcBinder) Load(ctx context.Context, locationID uuid.UUID) (*menu.Catalog, error) {
	return b.catalog, nil
}

func (b *fakeOrcBinder) BuildGradingPrompt(catalog *menu.Catalog, transcript string) string {
	return transcript
}

type fakeOrcGrader struct {
	mu    sync.Mutex
	calls int
}

func (g *fakeOrcGrader) GradeTransaction(ctx context.Context, catalog *menu.Catalog, tx *types.Transaction) (*grade.Result, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return &grade.Result{
		Grade: types.Grade{
			TransactionID:          tx.ID,
			RunID:                  tx.RunID,
			NumUpsellOpportunities: 2,
			NumUpsellOffers:        1,
		},
		Violations: nil,
	}, nil
}

type fakeVoiceService struct {
	mu      sync.Mutex
	clipTxs int
	summary voiceid.Summary
	fail    bool
}

func (v *fakeVoiceService) BuildReferenceSet(ctx context.Context, locationName string, workers []*types.Worker) ([]voiceid.Reference, error) {
	if v.fail {
		return nil, fmt.Errorf("drive listing failed")
	}
	return []voiceid.Reference{{Label: "Alex Kim"}}, nil
}

func (v *fakeVoiceService) ProcessClips(ctx context.Context, runDate time.Time, refs []voiceid.Reference, txs []*types.Transaction) (voiceid.Summary, error) {
	v.mu.Lock()
	v.clipTxs = len(txs)
	v.mu.Unlock()
	return v.summary, nil
}

// ---- harness --------------------------------------------------------------

type orcHarness struct {
	orc        Orchestrator
	runs       *fakeRunRepo
	recordings *fakeRecordingRepo
	txs        *fakeTxRepo
	grades     *fakeGradeRepo
	analytics  *fakeAnalyticsRepo
	blob       *fakeBlob
	locker     *fakeLocker
	grader     *fakeOrcGrader
	voice      *fakeVoiceService
}

func newOrcHarness(t *testing.T) *orcHarness {
	t.Helper()
	tools := &fakePipelineTools{dir: t.TempDir()}
	h := &orcHarness{
		runs:       newFakeRunRepo(),
		recordings: newFakeRecordingRepo(),
		txs:        newFakeTxRepo(),
		grades:     newFakeGradeRepo(),
		analytics:  &fakeAnalyticsRepo{},
		blob:       newFakeBlob(),
		locker:     newFakeLocker(),
		grader:     &fakeOrcGrader{},
		voice:      &fakeVoiceService{summary: voiceid.Summary{Done: 3}},
	}
	log := logger.NewNop()
	h.orc = New(log, Config{RetryPolicy: retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}}, Deps{
		Runs:         h.runs,
		Recordings:   h.recordings,
		Transactions: h.txs,
		Grades:       h.grades,
		Analytics:    h.analytics,
		Workers:      &fakeWorkerRepo{},
		Locations:    &fakeLocationRepo{loc: &types.Location{ID: orcLocID, Name: "Elm Street"}},
		Splitter:     &fakeOrcSplitter{tools: tools},
		Transcriber:  &fakeOrcTranscriber{},
		Extractor:    &fakeOrcExtractor{},
		Binder:       &fakeOrcBinder{catalog: menu.NewCatalog()},
		Grader:       h.grader,
		Voice:        h.voice,
		Blob:         h.blob,
		Locker:       h.locker,
		Tools:        tools,
	}, NewMonitor(log, 0))
	return h
}

func (h *orcHarness) ingest(t *testing.T) uuid.UUID {
	t.Helper()
	src := filepath.Join(t.TempDir(), "source.m4a")
	if err := os.WriteFile(src, []byte("media"), 0o644); err != nil {
		t.Fatal(err)
	}
	date := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	runID, err := h.orc.Ingest(context.Background(), orcRunID, orcOrgID, orcLocID, date, src)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return runID
}

func TestIngestCreatesRunAndRecordings(t *testing.T) {
	h := newOrcHarness(t)
	runID := h.ingest(t)

	run, err := h.runs.GetByID(context.Background(), nil, runID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != types.RunStatusProcessing {
		t.Fatalf("status = %q", run.Status)
	}

	recs, _ := h.recordings.ListByRun(context.Background(), nil, runID)
	if len(recs) != 3 {
		t.Fatalf("recordings = %d, want root + 2 chunks", len(recs))
	}
	var chunks int
	for _, rec := range recs {
		var meta types.ChunkMeta
		if len(rec.Meta) > 0 {
			_ = json.Unmarshal(rec.Meta, &meta)
		}
		if meta.IsChunk {
			chunks++
		} else if rec.ObjectKey == "" || rec.Link == "" {
			t.Fatalf("root recording missing object key or link: %+v", rec)
		}
	}
	if chunks != 2 {
		t.Fatalf("chunk recordings = %d", chunks)
	}

	key := sessionKey(runID, "source.m4a")
	if _, err := h.blob.Get(context.Background(), key); err != nil {
		t.Fatalf("source not uploaded under %s: %v", key, err)
	}
}

func TestIngestIsIdempotentForExistingRun(t *testing.T) {
	h := newOrcHarness(t)
	runID := h.ingest(t)

	again, err := h.orc.Ingest(context.Background(), runID, orcOrgID, orcLocID, time.Now(), "/nonexistent")
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if again != runID {
		t.Fatalf("second ingest returned %s, want %s", again, runID)
	}
	recs, _ := h.recordings.ListByRun(context.Background(), nil, runID)
	if len(recs) != 3 {
		t.Fatalf("recordings after re-ingest = %d", len(recs))
	}
}

func TestProcessDedupesOverlapAndRemapsTime(t *testing.T) {
	h := newOrcHarness(t)
	runID := h.ingest(t)

	if err := h.orc.Process(context.Background(), runID); err != nil {
		t.Fatalf("process: %v", err)
	}

	txs, _ := h.txs.ListByRun(context.Background(), nil, runID)
	// Four raw candidates, the boundary one seen from both chunks, so
	// three survive.
	if len(txs) != 3 {
		t.Fatalf("transactions = %d", len(txs))
	}

	rootStart := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	wantStarts := map[time.Time]bool{
		rootStart.Add(100 * time.Second):  false,
		rootStart.Add(1190 * time.Second): false, // boundary tx kept from chunk 0
		rootStart.Add(1795 * time.Second): false, // chunk 1 at 600s + 1195s offset
	}
	for _, tx := range txs {
		if _, ok := wantStarts[tx.StartedAt]; !ok {
			t.Fatalf("unexpected transaction start %v", tx.StartedAt)
		}
		wantStarts[tx.StartedAt] = true
		var meta types.TransactionMeta
		if err := json.Unmarshal(tx.Meta, &meta); err != nil {
			t.Fatalf("meta: %v", err)
		}
		if meta.Transcript == "" {
			t.Fatalf("transaction %s has empty transcript", tx.ID)
		}
	}
	for start, seen := range wantStarts {
		if !seen {
			t.Fatalf("missing transaction at %v", start)
		}
	}
}

func TestProcessGradesClipsAndFlushesArtifacts(t *testing.T) {
	h := newOrcHarness(t)
	runID := h.ingest(t)

	if err := h.orc.Process(context.Background(), runID); err != nil {
		t.Fatalf("process: %v", err)
	}

	if h.grader.calls != 3 {
		t.Fatalf("grader calls = %d", h.grader.calls)
	}
	grades, _ := h.grades.ListByRun(context.Background(), nil, runID)
	if len(grades) != 3 {
		t.Fatalf("grades = %d", len(grades))
	}

	// Every transaction got a clip ref write.
	if len(h.txs.updates) != 3 {
		t.Fatalf("clip updates = %d", len(h.txs.updates))
	}
	for id, upd := range h.txs.updates {
		if upd["clip_ref"] == "" || upd["clip_link"] == "" {
			t.Fatalf("transaction %s clip fields = %+v", id, upd)
		}
	}
	if h.voice.clipTxs != 3 {
		t.Fatalf("voice saw %d transactions", h.voice.clipTxs)
	}

	for _, name := range []string{"segments.jsonl", "transactions.jsonl", "grades.jsonl"} {
		if _, ok := h.blob.jsonl[sessionKey(runID, name)]; !ok {
			t.Fatalf("artifact %s not flushed", name)
		}
	}
	if n := h.blob.jsonl[sessionKey(runID, "segments.jsonl")]; n != 4 {
		t.Fatalf("segment records = %d", n)
	}

	run, _ := h.runs.GetByID(context.Background(), nil, runID)
	var diag diagnostics
	if err := json.Unmarshal(run.Meta, &diag); err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if diag.Chunks != 2 || diag.Segments != 4 || diag.Transactions != 3 || diag.Grades != 3 {
		t.Fatalf("diagnostics = %+v", diag)
	}
	if diag.VoiceDone != 3 {
		t.Fatalf("voice done = %d", diag.VoiceDone)
	}
}

func TestProcessVoiceFailureDoesNotFailRun(t *testing.T) {
	h := newOrcHarness(t)
	h.voice.fail = true
	runID := h.ingest(t)

	if err := h.orc.Process(context.Background(), runID); err != nil {
		t.Fatalf("process: %v", err)
	}
	grades, _ := h.grades.ListByRun(context.Background(), nil, runID)
	if len(grades) != 3 {
		t.Fatalf("grades = %d", len(grades))
	}
}

func TestProcessRefusesWhenLockHeld(t *testing.T) {
	h := newOrcHarness(t)
	runID := h.ingest(t)

	release, ok, err := h.locker.Acquire(context.Background(), "process:"+runID.String(), time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}
	defer release()

	if err := h.orc.Process(context.Background(), runID); err == nil {
		t.Fatal("expected lock contention error")
	}
}

func TestFinalizeWritesAnalyticsAndCompletes(t *testing.T) {
	h := newOrcHarness(t)
	runID := h.ingest(t)
	if err := h.orc.Process(context.Background(), runID); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := h.orc.Finalize(context.Background(), runID, nil); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	run, _ := h.runs.GetByID(context.Background(), nil, runID)
	if run.Status != types.RunStatusComplete {
		t.Fatalf("status = %q", run.Status)
	}
	if run.EndedAt == nil {
		t.Fatal("ended_at not set")
	}
	if h.analytics.run == nil {
		t.Fatal("run analytics not written")
	}
	if h.analytics.run.NumTransactions != 3 {
		t.Fatalf("analytics transactions = %d", h.analytics.run.NumTransactions)
	}
	if h.analytics.run.TotalUpsellOpportunities != 6 || h.analytics.run.TotalUpsellOffers != 3 {
		t.Fatalf("analytics upsell = %d/%d",
			h.analytics.run.TotalUpsellOpportunities, h.analytics.run.TotalUpsellOffers)
	}
}

func TestFinalizeMarksFailedRun(t *testing.T) {
	h := newOrcHarness(t)
	runID := h.ingest(t)

	if err := h.orc.Finalize(context.Background(), runID, fmt.Errorf("phase transactions: boom")); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	run, _ := h.runs.GetByID(context.Background(), nil, runID)
	if run.Status != types.RunStatusFailed {
		t.Fatalf("status = %q", run.Status)
	}
	if h.analytics.run != nil {
		t.Fatal("analytics written for failed run")
	}
}

func TestDedupeOverlapDropsBoundaryDuplicates(t *testing.T) {
	base := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	mk := func(sec float64) *types.Transaction {
		return &types.Transaction{
			ID:        uuid.New(),
			StartedAt: base.Add(time.Duration(sec * float64(time.Second))),
		}
	}
	txs := []*types.Transaction{mk(1196), mk(100), mk(1193), mk(600)}
	out := dedupeOverlap(txs, 5)
	if len(out) != 3 {
		t.Fatalf("kept %d transactions", len(out))
	}
	for i := 1; i < len(out); i++ {
		if !out[i].StartedAt.After(out[i-1].StartedAt) {
			t.Fatalf("output not sorted")
		}
	}
	// 1196 is within 5s of 1193 so only the earlier one survives.
	if got := out[2].StartedAt; got != base.Add(1193*time.Second) {
		t.Fatalf("boundary survivor at %v", got)
	}
}
