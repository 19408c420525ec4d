package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/orderlens/orderlens-backend/internal/clients/gcp"
	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/localmedia"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/splitter"
)

// Segment is one contiguous active-audio span with its ASR text. Times
// are seconds relative to the chunk the span came from.
type Segment struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

// Transcriber turns one chunk file into ordered segments: detect active
// spans, cut each span's sub-audio, run it through the ASR. Spans whose
// transcript comes back empty are kept with empty text so downstream
// extraction still sees them.
type Transcriber interface {
	TranscribeChunk(ctx context.Context, chunkPath string) ([]Segment, error)
}

type transcriber struct {
	log   *logger.Logger
	split splitter.Splitter
	tools localmedia.Tools
	asr   gcp.ASR
}

func New(log *logger.Logger, split splitter.Splitter, tools localmedia.Tools, asr gcp.ASR) Transcriber {
	return &transcriber{
		log:   log.With("service", "Transcriber"),
		split: split,
		tools: tools,
		asr:   asr,
	}
}

func (t *transcriber) TranscribeChunk(ctx context.Context, chunkPath string) ([]Segment, error) {
	ctx = ctxutil.Default(ctx)

	spans, err := t.detectSpans(chunkPath)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		t.log.Info("No active audio in chunk", "chunk", chunkPath)
		return nil, nil
	}

	dir, cleanup, err := t.tools.TempDir("segments-")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	out := make([]Segment, 0, len(spans))
	for i, span := range spans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := t.transcribeSpan(ctx, chunkPath, dir, i, span)
		if err != nil {
			return nil, fmt.Errorf("span %d [%.1f,%.1f): %w", i, span.StartSec, span.EndSec, err)
		}
		out = append(out, Segment{StartSec: span.StartSec, EndSec: span.EndSec, Text: text})
	}

	t.log.Info("Chunk transcribed", "chunk", chunkPath, "segments", len(out))
	return out, nil
}

func (t *transcriber) detectSpans(chunkPath string) ([]splitter.TimeRange, error) {
	r, err := localmedia.OpenWav(chunkPath)
	if err != nil {
		return nil, fmt.Errorf("open chunk wav: %w", err)
	}
	defer r.Close()
	spans, err := t.split.DetectTransactions(r)
	if err != nil {
		return nil, fmt.Errorf("detect active spans: %w", err)
	}
	return spans, nil
}

func (t *transcriber) transcribeSpan(ctx context.Context, chunkPath, dir string, idx int, span splitter.TimeRange) (string, error) {
	outPath := filepath.Join(dir, fmt.Sprintf("seg_%04d.wav", idx))
	if _, err := t.tools.TranscodeToWav(ctx, chunkPath, outPath, localmedia.WavOptions{
		SampleRateHz: 16000,
		Channels:     1,
		StartSec:     span.StartSec,
		EndSec:       span.EndSec,
	}); err != nil {
		return "", fmt.Errorf("cut span audio: %w", err)
	}

	wav, err := os.ReadFile(outPath)
	if err != nil {
		return "", fmt.Errorf("read span audio: %w", err)
	}
	text, err := t.asr.Transcribe(ctx, wav)
	if err != nil {
		return "", fmt.Errorf("asr: %w", err)
	}
	return text, nil
}
