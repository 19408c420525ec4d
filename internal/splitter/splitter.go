package splitter

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/orderlens/orderlens-backend/internal/clients/gcs"
	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/localmedia"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
)

// Config carries every splitter knob. Zero values fall back to the
// documented defaults.
type Config struct {
	TargetChunkSec   float64
	OverlapSec       float64
	MaxSizeBytes     int64
	MaxDurationSec   float64
	SilenceWindowSec float64
	// SilenceEpsilon is the normalized mean-abs amplitude at or below
	// which a window counts as silent.
	SilenceEpsilon float64
}

func (c Config) withDefaults() Config {
	if c.TargetChunkSec <= 0 {
		c.TargetChunkSec = 1200
	}
	if c.OverlapSec <= 0 {
		c.OverlapSec = 5
	}
	if c.MaxSizeBytes <= 0 {
		c.MaxSizeBytes = 512 << 20
	}
	if c.MaxDurationSec <= 0 {
		c.MaxDurationSec = 1500
	}
	if c.SilenceWindowSec <= 0 {
		c.SilenceWindowSec = 7
	}
	return c
}

// ChunkSpec is one planned slice of the source recording.
type ChunkSpec struct {
	Index      int     `json:"index"`
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	OverlapSec float64 `json:"overlap_sec"`
}

type ChunkPlan struct {
	DurationSec float64     `json:"duration_sec"`
	SizeBytes   int64       `json:"size_bytes"`
	Chunks      []ChunkSpec `json:"chunks"`
}

// Split reports whether the plan produced more than one chunk.
func (p ChunkPlan) Split() bool { return len(p.Chunks) > 1 }

type ChunkMedia struct {
	Spec ChunkSpec
	Path string
}

type ClipRequest struct {
	TransactionID uuid.UUID
	StartSec      float64
	EndSec        float64
}

type ClipResult struct {
	TransactionID uuid.UUID
	Ref           gcs.FileRef
}

// Splitter cuts one long recording into transcription chunks and
// per-transaction clips bounded by detected silence.
type Splitter interface {
	Plan(ctx context.Context, sourcePath string) (ChunkPlan, error)
	Cut(ctx context.Context, sourcePath string, plan ChunkPlan, outDir string) ([]ChunkMedia, error)
	DetectTransactions(src localmedia.SampleSource) ([]TimeRange, error)
	Clip(ctx context.Context, sourcePath string, reqs []ClipRequest, runDate time.Time) ([]ClipResult, error)
}

type splitter struct {
	log   *logger.Logger
	cfg   Config
	tools localmedia.Tools
	share gcs.FileShare
}

func New(log *logger.Logger, cfg Config, tools localmedia.Tools, share gcs.FileShare) Splitter {
	return &splitter{
		log:   log.With("service", "MediaSplitter"),
		cfg:   cfg.withDefaults(),
		tools: tools,
		share: share,
	}
}

// Plan probes the source and lays out chunk windows. Sources under both
// size and duration ceilings stay whole: one chunk covering everything,
// no overlap.
func (s *splitter) Plan(ctx context.Context, sourcePath string) (ChunkPlan, error) {
	ctx = ctxutil.Default(ctx)
	info, err := s.tools.Probe(ctx, sourcePath)
	if err != nil {
		return ChunkPlan{}, fmt.Errorf("probe source: %w", err)
	}
	return PlanChunks(s.cfg, info.DurationSec, info.SizeBytes), nil
}

// PlanChunks is the pure layout: exported separately so plan math stays
// testable without ffprobe.
func PlanChunks(cfg Config, durationSec float64, sizeBytes int64) ChunkPlan {
	cfg = cfg.withDefaults()
	plan := ChunkPlan{DurationSec: durationSec, SizeBytes: sizeBytes}

	if durationSec <= cfg.MaxDurationSec && sizeBytes <= cfg.MaxSizeBytes {
		plan.Chunks = []ChunkSpec{{Index: 0, StartSec: 0, EndSec: durationSec, OverlapSec: 0}}
		return plan
	}

	target := cfg.TargetChunkSec
	overlap := cfg.OverlapSec
	for idx := 0; ; idx++ {
		start := float64(idx) * target
		if idx > 0 {
			start -= overlap
		}
		if start >= durationSec {
			break
		}
		end := float64(idx+1) * target
		ov := overlap
		if end >= durationSec {
			end = durationSec
		}
		if idx == 0 && end >= durationSec {
			ov = 0
		}
		plan.Chunks = append(plan.Chunks, ChunkSpec{
			Index:      idx,
			StartSec:   start,
			EndSec:     end,
			OverlapSec: ov,
		})
		if end >= durationSec {
			break
		}
	}
	return plan
}

// Cut re-encodes each planned window into mono 16 kHz PCM WAV. ffmpeg
// streams the window, so memory stays flat however long the source is.
func (s *splitter) Cut(ctx context.Context, sourcePath string, plan ChunkPlan, outDir string) ([]ChunkMedia, error) {
	ctx = ctxutil.Default(ctx)
	out := make([]ChunkMedia, 0, len(plan.Chunks))
	for _, spec := range plan.Chunks {
		outPath := filepath.Join(outDir, fmt.Sprintf("chunk_%04d.wav", spec.Index))
		if _, err := s.tools.TranscodeToWav(ctx, sourcePath, outPath, localmedia.WavOptions{
			SampleRateHz: 16000,
			Channels:     1,
			StartSec:     spec.StartSec,
			EndSec:       spec.EndSec,
		}); err != nil {
			return nil, fmt.Errorf("cut chunk %d: %w", spec.Index, err)
		}
		out = append(out, ChunkMedia{Spec: spec, Path: outPath})
	}
	return out, nil
}

func (s *splitter) DetectTransactions(src localmedia.SampleSource) ([]TimeRange, error) {
	return DetectTransactions(src, s.cfg.SilenceWindowSec, s.cfg.SilenceEpsilon)
}

// ClipFolderName is the FileShare folder for a run date's clips.
func ClipFolderName(runDate time.Time) string {
	return "Clips_" + runDate.Format("01-02")
}

// Clip cuts one wav per transaction out of the source and uploads it to
// the run date's clip folder as tx_<transaction_id>.wav.
func (s *splitter) Clip(ctx context.Context, sourcePath string, reqs []ClipRequest, runDate time.Time) ([]ClipResult, error) {
	ctx = ctxutil.Default(ctx)
	if len(reqs) == 0 {
		return nil, nil
	}
	dir, cleanup, err := s.tools.TempDir("clips-")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	folder := ClipFolderName(runDate)
	out := make([]ClipResult, 0, len(reqs))
	for _, req := range reqs {
		name := fmt.Sprintf("tx_%s.wav", req.TransactionID)
		localPath := filepath.Join(dir, name)
		if _, err := s.tools.TranscodeToWav(ctx, sourcePath, localPath, localmedia.WavOptions{
			SampleRateHz: 16000,
			Channels:     1,
			StartSec:     req.StartSec,
			EndSec:       req.EndSec,
		}); err != nil {
			return nil, fmt.Errorf("cut clip %s: %w", req.TransactionID, err)
		}
		ref, err := s.share.Upload(ctx, localPath, folder, name)
		if err != nil {
			return nil, fmt.Errorf("upload clip %s: %w", req.TransactionID, err)
		}
		out = append(out, ClipResult{TransactionID: req.TransactionID, Ref: ref})
	}
	return out, nil
}
