package voiceid

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/orderlens/orderlens-backend/internal/clients/gcs"
	"github.com/orderlens/orderlens-backend/internal/clients/voice"
	"github.com/orderlens/orderlens-backend/internal/platform/apperr"
	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/localmedia"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/repos"
	"github.com/orderlens/orderlens-backend/internal/splitter"
	"github.com/orderlens/orderlens-backend/internal/types"
)

type Config struct {
	MatchThreshold float64
	TargetConcatMs int
	MaxConcatUtts  int
	MinUtteranceMs int
	Parallelism    int
}

func (c Config) withDefaults() Config {
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = 0.2
	}
	if c.TargetConcatMs <= 0 {
		c.TargetConcatMs = 8000
	}
	if c.MaxConcatUtts <= 0 {
		c.MaxConcatUtts = 6
	}
	if c.MinUtteranceMs <= 0 {
		c.MinUtteranceMs = 1000
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 5
	}
	return c
}

// clipState walks queued → downloading → converting → diarizing →
// embedding → matching → writing → done|skipped|failed. Transitions are
// logged; terminal states feed the summary.
type clipState string

const (
	stateQueued      clipState = "queued"
	stateDownloading clipState = "downloading"
	stateConverting  clipState = "converting"
	stateDiarizing   clipState = "diarizing"
	stateEmbedding   clipState = "embedding"
	stateMatching    clipState = "matching"
	stateWriting     clipState = "writing"
	stateDone        clipState = "done"
	stateSkipped     clipState = "skipped"
	stateFailed      clipState = "failed"
)

// Summary tallies terminal clip states for one batch.
type Summary struct {
	Done    int `json:"done"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Service attributes transaction clips to workers by voice.
type Service interface {
	// BuildReferenceSet embeds every sample in the location's voice-sample
	// folder and binds labels to the given workers. Built once per run and
	// shared read-only across clip workers.
	BuildReferenceSet(ctx context.Context, locationName string, workers []*types.Worker) ([]Reference, error)
	// ProcessClips runs the per-clip state machine over every clip in the
	// run date's clip folder. Per-clip failures never abort the batch.
	ProcessClips(ctx context.Context, runDate time.Time, refs []Reference, txs []*types.Transaction) (Summary, error)
}

type service struct {
	log      *logger.Logger
	cfg      Config
	share    gcs.FileShare
	tools    localmedia.Tools
	embedder voice.Embedder
	diarizer voice.Diarizer
	txRepo   repos.TransactionRepo
}

func New(log *logger.Logger, cfg Config, share gcs.FileShare, tools localmedia.Tools, embedder voice.Embedder, diarizer voice.Diarizer, txRepo repos.TransactionRepo) Service {
	return &service{
		log:      log.With("service", "VoiceID"),
		cfg:      cfg.withDefaults(),
		share:    share,
		tools:    tools,
		embedder: embedder,
		diarizer: diarizer,
		txRepo:   txRepo,
	}
}

func (s *service) BuildReferenceSet(ctx context.Context, locationName string, workers []*types.Worker) ([]Reference, error) {
	ctx = ctxutil.Default(ctx)

	folder, err := ResolveSampleFolder(ctx, s.share, locationName)
	if err != nil {
		return nil, err
	}
	files, err := s.share.ListFolder(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("list voice samples: %w", err)
	}

	dir, cleanup, err := s.tools.TempDir("voicerefs-")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var refs []Reference
	for i, f := range files {
		if !isAudioName(f.Name) {
			continue
		}
		emb, err := s.embedSample(ctx, dir, i, f)
		if err != nil {
			s.log.Warn("Voice sample skipped", "file", f.Name, "error", err)
			continue
		}
		label := LabelFromFilename(f.Name)
		workerID := BindLabel(label, workers)
		if workerID == nil {
			s.log.Warn("Voice sample label matches no worker", "label", label)
		}
		refs = append(refs, Reference{Label: label, WorkerID: workerID, Embedding: emb})
	}

	s.log.Info("Reference set built", "folder", folder, "samples", len(refs))
	return refs, nil
}

func (s *service) embedSample(ctx context.Context, dir string, idx int, f gcs.FileInfo) ([]float32, error) {
	raw := filepath.Join(dir, fmt.Sprintf("sample_%04d%s", idx, filepath.Ext(f.Name)))
	if err := s.share.Download(ctx, f.ID, raw); err != nil {
		return nil, fmt.Errorf("download sample: %w", err)
	}
	wav := filepath.Join(dir, fmt.Sprintf("sample_%04d.norm.wav", idx))
	if _, err := s.tools.TranscodeToWav(ctx, raw, wav, localmedia.WavOptions{SampleRateHz: 16000, Channels: 1}); err != nil {
		return nil, fmt.Errorf("normalize sample: %w", err)
	}
	return s.embedder.Embed(ctx, wav)
}

// ParseClipName validates `tx_<uuid>.<wav|mp3|m4a>` and extracts the
// transaction id.
func ParseClipName(name string) (uuid.UUID, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".wav" && ext != ".mp3" && ext != ".m4a" {
		return uuid.Nil, apperr.E(apperr.KindInputMalformed, "voiceid.parse_clip",
			fmt.Errorf("unsupported clip extension %q", name))
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(base, "tx_") {
		return uuid.Nil, apperr.E(apperr.KindInputMalformed, "voiceid.parse_clip",
			fmt.Errorf("clip name %q lacks tx_ prefix", name))
	}
	id, err := uuid.Parse(strings.TrimPrefix(base, "tx_"))
	if err != nil {
		return uuid.Nil, apperr.E(apperr.KindInputMalformed, "voiceid.parse_clip",
			fmt.Errorf("clip name %q: %w", name, err))
	}
	return id, nil
}

func (s *service) ProcessClips(ctx context.Context, runDate time.Time, refs []Reference, txs []*types.Transaction) (Summary, error) {
	ctx = ctxutil.Default(ctx)

	folder := splitter.ClipFolderName(runDate)
	files, err := s.share.ListFolder(ctx, folder)
	if err != nil {
		return Summary{}, fmt.Errorf("list clip folder %q: %w", folder, err)
	}

	txByID := make(map[uuid.UUID]*types.Transaction, len(txs))
	for _, tx := range txs {
		txByID[tx.ID] = tx
	}

	var (
		mu  sync.Mutex
		sum Summary
	)
	record := func(st clipState) {
		mu.Lock()
		defer mu.Unlock()
		switch st {
		case stateDone:
			sum.Done++
		case stateSkipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for _, f := range files {
		f := f
		g.Go(func() error {
			st := s.processClip(gctx, f, refs, txByID)
			record(st)
			// Per-clip failures stay per-clip; only cancellation stops the
			// batch.
			if st == stateFailed && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	s.log.Info("Clip batch processed", "folder", folder,
		"done", sum.Done, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

func (s *service) processClip(ctx context.Context, f gcs.FileInfo, refs []Reference, txByID map[uuid.UUID]*types.Transaction) clipState {
	st := stateQueued
	clog := s.log.With("clip", f.Name)
	advance := func(next clipState) {
		st = next
		clog.Debug("Clip state", "state", string(st))
	}

	txID, err := ParseClipName(f.Name)
	if err != nil {
		clog.Warn("Rejected clip filename", "error", err)
		return stateFailed
	}
	tx, ok := txByID[txID]
	if !ok {
		clog.Warn("Clip references unknown transaction", "transaction_id", txID)
		return stateSkipped
	}
	if tx.WorkerID != nil {
		return stateSkipped
	}
	var meta types.TransactionMeta
	if len(tx.Meta) > 0 {
		_ = json.Unmarshal(tx.Meta, &meta)
	}
	if meta.CompleteOrder == 0 {
		return stateSkipped
	}

	dir, cleanup, err := s.tools.TempDir("clip-")
	if err != nil {
		clog.Error("Temp dir", "error", err)
		return stateFailed
	}
	defer cleanup()

	advance(stateDownloading)
	raw := filepath.Join(dir, f.Name)
	if err := s.share.Download(ctx, f.ID, raw); err != nil {
		clog.Error("Clip download failed", "error", err)
		return stateFailed
	}

	advance(stateConverting)
	wav := filepath.Join(dir, "clip.norm.wav")
	if _, err := s.tools.TranscodeToWav(ctx, raw, wav, localmedia.WavOptions{SampleRateHz: 16000, Channels: 1}); err != nil {
		clog.Error("Clip conversion failed", "error", err)
		return stateFailed
	}

	advance(stateDiarizing)
	utts, err := s.diarizer.Diarize(ctx, wav)
	if err != nil {
		clog.Error("Diarization failed", "error", err)
		return stateFailed
	}
	if len(utts) == 0 {
		// Nothing to match; stamp the transaction as processed.
		advance(stateWriting)
		if err := s.writeAssignment(ctx, tx.ID, nil, nil); err != nil {
			clog.Error("Assignment write failed", "error", err)
			return stateFailed
		}
		advance(stateDone)
		return stateDone
	}

	advance(stateEmbedding)
	byTag := map[string][]voice.Utterance{}
	for _, u := range utts {
		byTag[u.SpeakerTag] = append(byTag[u.SpeakerTag], u)
	}

	var matches []TagMatch
	for tag, tagUtts := range byTag {
		emb, err := s.tagEmbedding(ctx, wav, dir, tag, tagUtts)
		if err != nil {
			clog.Warn("No usable embedding for speaker tag", "tag", tag, "error", err)
			continue
		}
		label, score := BestReference(refs, emb)
		if score < s.cfg.MatchThreshold {
			label = NoMatch
		}
		matches = append(matches, TagMatch{Tag: tag, Label: label, Score: score})
	}

	advance(stateMatching)
	var (
		workerID   *uuid.UUID
		confidence *float64
	)
	if label, avg, ok := BestLabel(matches, s.cfg.MatchThreshold); ok {
		for _, ref := range refs {
			if ref.Label == label && ref.WorkerID != nil {
				workerID = ref.WorkerID
				c := avg
				confidence = &c
				break
			}
		}
	}

	advance(stateWriting)
	if err := s.writeAssignment(ctx, tx.ID, workerID, confidence); err != nil {
		clog.Error("Assignment write failed", "error", err)
		return stateFailed
	}
	advance(stateDone)
	return stateDone
}

func (s *service) writeAssignment(ctx context.Context, txID uuid.UUID, workerID *uuid.UUID, confidence *float64) error {
	source := types.WorkerAssignmentSourceUnassigned
	if workerID != nil {
		source = types.WorkerAssignmentSourceVoice
	}
	return s.txRepo.AssignWorker(ctx, nil, txID, workerID, confidence, source, time.Now().UTC())
}

// tagEmbedding derives a robust embedding for one speaker tag using the
// first strategy that yields a vector:
//  1. average of the top-3 longest utterances' embeddings,
//  2. chronological concatenation up to TargetConcatMs / MaxConcatUtts,
//  3. the single longest utterance of at least MinUtteranceMs.
func (s *service) tagEmbedding(ctx context.Context, wavPath, dir, tag string, utts []voice.Utterance) ([]float32, error) {
	if emb, err := s.embedTopAverage(ctx, wavPath, dir, tag, utts); err == nil {
		return emb, nil
	}
	if emb, err := s.embedConcat(ctx, wavPath, dir, tag, utts); err == nil {
		return emb, nil
	}
	return s.embedLongest(ctx, wavPath, dir, tag, utts)
}

func (s *service) embedTopAverage(ctx context.Context, wavPath, dir, tag string, utts []voice.Utterance) ([]float32, error) {
	var embs [][]float32
	for i, u := range topUtterances(utts, 3) {
		cut, err := s.cutUtterance(ctx, wavPath, dir, fmt.Sprintf("%s_top%d", tag, i), u)
		if err != nil {
			continue
		}
		emb, err := s.embedder.Embed(ctx, cut)
		if err != nil {
			continue
		}
		embs = append(embs, emb)
	}
	if len(embs) == 0 {
		return nil, fmt.Errorf("no top utterance embedded for tag %s", tag)
	}
	return averageEmbeddings(embs), nil
}

func (s *service) embedConcat(ctx context.Context, wavPath, dir, tag string, utts []voice.Utterance) ([]float32, error) {
	var (
		samples []int16
		rate    int
		totalMs int
		used    int
	)
	for _, u := range chronological(utts) {
		if used >= s.cfg.MaxConcatUtts || totalMs >= s.cfg.TargetConcatMs {
			break
		}
		cut, err := s.cutUtterance(ctx, wavPath, dir, fmt.Sprintf("%s_cat%d", tag, used), u)
		if err != nil {
			continue
		}
		r, part, err := localmedia.ReadAllSamples(cut)
		if err != nil {
			continue
		}
		rate = r
		samples = append(samples, part...)
		totalMs += u.DurationMs()
		used++
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no utterances concatenated for tag %s", tag)
	}

	concat := filepath.Join(dir, fmt.Sprintf("%s_concat.wav", tag))
	if err := localmedia.WriteWav(concat, rate, samples); err != nil {
		return nil, fmt.Errorf("write concat wav: %w", err)
	}
	return s.embedder.Embed(ctx, concat)
}

func (s *service) embedLongest(ctx context.Context, wavPath, dir, tag string, utts []voice.Utterance) ([]float32, error) {
	top := topUtterances(utts, 1)
	if len(top) == 0 || top[0].DurationMs() < s.cfg.MinUtteranceMs {
		return nil, fmt.Errorf("no utterance of at least %dms for tag %s", s.cfg.MinUtteranceMs, tag)
	}
	cut, err := s.cutUtterance(ctx, wavPath, dir, tag+"_longest", top[0])
	if err != nil {
		return nil, err
	}
	return s.embedder.Embed(ctx, cut)
}

func (s *service) cutUtterance(ctx context.Context, wavPath, dir, name string, u voice.Utterance) (string, error) {
	out := filepath.Join(dir, fmt.Sprintf("utt_%s.wav", name))
	_, err := s.tools.TranscodeToWav(ctx, wavPath, out, localmedia.WavOptions{
		SampleRateHz: 16000,
		Channels:     1,
		StartSec:     float64(u.StartMs) / 1000,
		EndSec:       float64(u.EndMs) / 1000,
	})
	if err != nil {
		return "", fmt.Errorf("cut utterance: %w", err)
	}
	return out, nil
}

func averageEmbeddings(embs [][]float32) []float32 {
	out := make([]float32, len(embs[0]))
	for _, e := range embs {
		for i := range out {
			out[i] += e[i]
		}
	}
	for i := range out {
		out[i] /= float32(len(embs))
	}
	return voice.Normalize(out)
}

func isAudioName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".mp3", ".m4a", ".flac", ".ogg":
		return true
	}
	return false
}
