package voiceid

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/orderlens/orderlens-backend/internal/clients/gcs"
	"github.com/orderlens/orderlens-backend/internal/clients/voice"
	"github.com/orderlens/orderlens-backend/internal/platform/localmedia"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/types"
)

type fakeShare struct {
	folders []string
	files   map[string][]gcs.FileInfo
}

func (f *fakeShare) ListFolders(ctx context.Context) ([]string, error) { return f.folders, nil }

func (f *fakeShare) ListFolder(ctx context.Context, folder string) ([]gcs.FileInfo, error) {
	return f.files[folder], nil
}

func (f *fakeShare) Download(ctx context.Context, id, localPath string) error {
	return os.WriteFile(localPath, []byte(id), 0o644)
}

func (f *fakeShare) Upload(ctx context.Context, localPath, folder, fileName string) (gcs.FileRef, error) {
	return gcs.FileRef{ID: folder + "/" + fileName}, nil
}

type fakeVoiceTools struct {
	dir string
}

func (f *fakeVoiceTools) AssertReady(ctx context.Context) error { return nil }

func (f *fakeVoiceTools) Probe(ctx context.Context, path string) (localmedia.MediaInfo, error) {
	return localmedia.MediaInfo{}, nil
}

func (f *fakeVoiceTools) TranscodeToWav(ctx context.Context, inputPath, outPath string, opts localmedia.WavOptions) (string, error) {
	if err := localmedia.WriteWav(outPath, 16000, make([]int16, 160)); err != nil {
		return "", err
	}
	return outPath, nil
}

func (f *fakeVoiceTools) WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error) {
	return "", func() {}, nil
}

func (f *fakeVoiceTools) TempDir(prefix string) (string, func(), error) {
	return f.dir, func() {}, nil
}

type fakeEmbedder struct {
	vec []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, wavPath string) ([]float32, error) {
	return f.vec, nil
}

type fakeDiarizer struct {
	utts []voice.Utterance
}

func (f *fakeDiarizer) Diarize(ctx context.Context, audioPath string) ([]voice.Utterance, error) {
	return f.utts, nil
}

type assignment struct {
	txID       uuid.UUID
	workerID   *uuid.UUID
	confidence *float64
	source     string
}

type fakeTxRepo struct {
	mu      sync.Mutex
	assigns []assignment
}

func (f *fakeTxRepo) UpsertMany(ctx context.Context, tx *gorm.DB, txs []*types.Transaction) error {
	return nil
}

func (f *fakeTxRepo) ListByRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.Transaction, error) {
	return nil, nil
}

func (f *fakeTxRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (f *fakeTxRepo) AssignWorker(ctx context.Context, tx *gorm.DB, id uuid.UUID, workerID *uuid.UUID, confidence *float64, source string, processedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigns = append(f.assigns, assignment{txID: id, workerID: workerID, confidence: confidence, source: source})
	return nil
}

func completeOrderTx(id uuid.UUID) *types.Transaction {
	meta, _ := json.Marshal(types.TransactionMeta{Transcript: "order", CompleteOrder: 1})
	return &types.Transaction{ID: id, Meta: meta}
}

// clipVec builds a unit vector whose cosine similarity against [1,0,...]
// is exactly sim.
func clipVec(sim float64) []float32 {
	v := make([]float32, voice.EmbeddingDim)
	v[0] = float32(sim)
	v[1] = float32(math.Sqrt(1 - sim*sim))
	return v
}

func refVec() []float32 {
	v := make([]float32, voice.EmbeddingDim)
	v[0] = 1
	return v
}

func newTestService(t *testing.T, share *fakeShare, emb *fakeEmbedder, dia *fakeDiarizer, repo *fakeTxRepo) Service {
	t.Helper()
	return New(logger.NewNop(), Config{}, share, &fakeVoiceTools{dir: t.TempDir()}, emb, dia, repo)
}

func TestProcessClipsMatchAboveThreshold(t *testing.T) {
	txID := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	workerID := uuid.MustParse("44444444-4444-4444-4444-444444444444")
	runDate := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)

	share := &fakeShare{files: map[string][]gcs.FileInfo{
		"Clips_08-03": {{ID: "c1", Name: "tx_" + txID.String() + ".wav"}},
	}}
	dia := &fakeDiarizer{utts: []voice.Utterance{
		{SpeakerTag: "S1", StartMs: 0, EndMs: 4000},
		{SpeakerTag: "S1", StartMs: 4000, EndMs: 9000},
	}}
	repo := &fakeTxRepo{}
	svc := newTestService(t, share, &fakeEmbedder{vec: clipVec(0.47)}, dia, repo)

	refs := []Reference{{Label: "Alex Kim", WorkerID: &workerID, Embedding: refVec()}}
	sum, err := svc.ProcessClips(context.Background(), runDate, refs, []*types.Transaction{completeOrderTx(txID)})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if sum.Done != 1 || sum.Skipped != 0 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(repo.assigns) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(repo.assigns))
	}
	a := repo.assigns[0]
	if a.txID != txID || a.workerID == nil || *a.workerID != workerID {
		t.Fatalf("assignment = %+v", a)
	}
	if a.confidence == nil || math.Abs(*a.confidence-0.47) > 0.01 {
		t.Fatalf("confidence = %v", a.confidence)
	}
	if a.source != types.WorkerAssignmentSourceVoice {
		t.Fatalf("source = %q", a.source)
	}
}

func TestProcessClipsBelowThreshold(t *testing.T) {
	txID := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	workerID := uuid.MustParse("44444444-4444-4444-4444-444444444444")
	runDate := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)

	share := &fakeShare{files: map[string][]gcs.FileInfo{
		"Clips_08-03": {{ID: "c1", Name: "tx_" + txID.String() + ".wav"}},
	}}
	dia := &fakeDiarizer{utts: []voice.Utterance{{SpeakerTag: "S1", StartMs: 0, EndMs: 5000}}}
	repo := &fakeTxRepo{}
	svc := newTestService(t, share, &fakeEmbedder{vec: clipVec(0.15)}, dia, repo)

	refs := []Reference{{Label: "Alex Kim", WorkerID: &workerID, Embedding: refVec()}}
	sum, err := svc.ProcessClips(context.Background(), runDate, refs, []*types.Transaction{completeOrderTx(txID)})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if sum.Done != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	a := repo.assigns[0]
	// Processed stamp lands, but no worker and no confidence.
	if a.workerID != nil || a.confidence != nil {
		t.Fatalf("assignment = %+v", a)
	}
	if a.source != types.WorkerAssignmentSourceUnassigned {
		t.Fatalf("source = %q", a.source)
	}
}

func TestProcessClipsSkipsAndRejects(t *testing.T) {
	doneID := uuid.MustParse("55555555-5555-5555-5555-555555555555")
	incompleteID := uuid.MustParse("66666666-6666-6666-6666-666666666666")
	runDate := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)

	share := &fakeShare{files: map[string][]gcs.FileInfo{
		"Clips_08-03": {
			{ID: "c1", Name: "tx_" + doneID.String() + ".wav"},
			{ID: "c2", Name: "tx_" + incompleteID.String() + ".wav"},
			{ID: "c3", Name: "garbage.wav"},
		},
	}}
	repo := &fakeTxRepo{}
	svc := newTestService(t, share, &fakeEmbedder{vec: refVec()}, &fakeDiarizer{}, repo)

	assigned := completeOrderTx(doneID)
	w := uuid.MustParse("44444444-4444-4444-4444-444444444444")
	assigned.WorkerID = &w
	incomplete := completeOrderTx(incompleteID)
	incomplete.Meta, _ = json.Marshal(types.TransactionMeta{CompleteOrder: 0})

	sum, err := svc.ProcessClips(context.Background(), runDate, nil, []*types.Transaction{assigned, incomplete})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if sum.Skipped != 2 || sum.Failed != 1 || sum.Done != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(repo.assigns) != 0 {
		t.Fatalf("unexpected assignments: %+v", repo.assigns)
	}
}

func TestBuildReferenceSetBindsWorkers(t *testing.T) {
	workerID := uuid.MustParse("44444444-4444-4444-4444-444444444444")
	share := &fakeShare{
		folders: []string{"Clips_08-03", "Main St Voice Samples"},
		files: map[string][]gcs.FileInfo{
			"Main St Voice Samples": {
				{ID: "v1", Name: "Alex_Kim.wav"},
				{ID: "v2", Name: "readme.txt"},
			},
		},
	}
	repo := &fakeTxRepo{}
	svc := newTestService(t, share, &fakeEmbedder{vec: refVec()}, &fakeDiarizer{}, repo)

	refs, err := svc.BuildReferenceSet(context.Background(), "Main St",
		[]*types.Worker{{ID: workerID, LegalName: "Alex Kim"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("expected 1 reference, got %d", len(refs))
	}
	if refs[0].Label != "Alex Kim" || refs[0].WorkerID == nil || *refs[0].WorkerID != workerID {
		t.Fatalf("reference = %+v", refs[0])
	}
}

func TestResolveSampleFolderFuzzy(t *testing.T) {
	share := &fakeShare{folders: []string{"Clips_08-03", "main st voice sample archive"}}
	folder, err := ResolveSampleFolder(context.Background(), share, "Main St")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if folder != "main st voice sample archive" {
		t.Fatalf("folder = %q", folder)
	}

	share = &fakeShare{folders: []string{"Clips_08-03"}}
	if _, err := ResolveSampleFolder(context.Background(), share, "Main St"); err == nil {
		t.Fatalf("expected error for missing folder")
	}
}
