package localmedia

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
)

// Tools is the glue around system binaries.
//
// REQUIRED BINARIES in worker runtime:
// - ffmpeg for chunk/clip cutting and wav normalization
// - ffprobe for duration/size probing
//
// This service is synchronous and deterministic, but should be called from
// pipeline workers, not request handlers.
type Tools interface {
	AssertReady(ctx context.Context) error

	Probe(ctx context.Context, path string) (MediaInfo, error)

	// TranscodeToWav re-encodes (a window of) the input into mono PCM WAV.
	// The ffmpeg invocation streams, so memory stays constant irrespective
	// of source length. A second attempt runs with a lenient decoder when
	// the first pass fails.
	TranscodeToWav(ctx context.Context, inputPath string, outPath string, opts WavOptions) (string, error)

	// Helpers for callers who only have bytes:
	WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error)
	TempDir(prefix string) (string, func(), error)
}

type MediaInfo struct {
	DurationSec  float64
	SizeBytes    int64
	SampleRateHz int
}

type WavOptions struct {
	SampleRateHz int
	Channels     int
	// StartSec/EndSec bound the cut window. EndSec <= 0 means end of source.
	StartSec float64
	EndSec   float64
}

type tools struct {
	log *logger.Logger

	ffmpegPath  string
	ffprobePath string

	workRoot string

	defaultTimeout time.Duration
}

func New(log *logger.Logger) Tools {
	slog := log.With("service", "MediaTools")
	return &tools{
		log:            slog,
		ffmpegPath:     "ffmpeg",
		ffprobePath:    "ffprobe",
		workRoot:       "/tmp/orderlens-media",
		defaultTimeout: 10 * time.Minute,
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	_ = ctx
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return nil
}

func (m *tools) WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error) {
	ctx = ctxutil.Default(ctx)
	_ = ctx
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	h := sha256.Sum256(data)
	base := hex.EncodeToString(h[:])[:16]
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	path := filepath.Join(m.workRoot, fmt.Sprintf("%s%s", base, suffix))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", func() {}, fmt.Errorf("write temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(path) }
	return path, cleanup, nil
}

func (m *tools) TempDir(prefix string) (string, func(), error) {
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	dir, err := os.MkdirTemp(m.workRoot, prefix)
	if err != nil {
		return "", func() {}, fmt.Errorf("mkdir temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	return dir, cleanup, nil
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
	} `json:"streams"`
}

func (m *tools) Probe(ctx context.Context, path string) (MediaInfo, error) {
	ctx = ctxutil.Default(ctx)
	if path == "" {
		return MediaInfo{}, fmt.Errorf("path required")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return MediaInfo{}, fmt.Errorf("ffprobe failed: %w", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return MediaInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := MediaInfo{}
	if d, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64); err == nil {
		info.DurationSec = d
	}
	if s, err := strconv.ParseInt(strings.TrimSpace(parsed.Format.Size), 10, 64); err == nil {
		info.SizeBytes = s
	}
	if info.SizeBytes == 0 {
		if st, err := os.Stat(path); err == nil {
			info.SizeBytes = st.Size()
		}
	}
	for _, st := range parsed.Streams {
		if st.CodecType != "audio" {
			continue
		}
		if sr, err := strconv.Atoi(strings.TrimSpace(st.SampleRate)); err == nil {
			info.SampleRateHz = sr
		}
		break
	}
	return info, nil
}

func (m *tools) TranscodeToWav(ctx context.Context, inputPath string, outPath string, opts WavOptions) (string, error) {
	ctx = ctxutil.Default(ctx)
	if inputPath == "" {
		return "", fmt.Errorf("inputPath required")
	}
	if outPath == "" {
		return "", fmt.Errorf("outPath required")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("mkdir outPath dir: %w", err)
	}

	sr := opts.SampleRateHz
	if sr <= 0 {
		sr = 16000
	}
	ch := opts.Channels
	if ch <= 0 {
		ch = 1
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	out, err := m.runFFmpegWav(ctx, inputPath, outPath, sr, ch, opts.StartSec, opts.EndSec, false)
	if err != nil {
		m.log.Warn("ffmpeg transcode failed, retrying with lenient decoder", "input", inputPath, "error", err)
		out2, err2 := m.runFFmpegWav(ctx, inputPath, outPath, sr, ch, opts.StartSec, opts.EndSec, true)
		if err2 != nil {
			return "", fmt.Errorf("ffmpeg transcode failed after fallback: %w; first=%s", err2, string(out))
		}
		_ = out2
	}

	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("wav output missing at %s", outPath)
	}
	return outPath, nil
}

func (m *tools) runFFmpegWav(ctx context.Context, inputPath, outPath string, sr, ch int, startSec, endSec float64, lenient bool) ([]byte, error) {
	args := []string{"-y"}
	if lenient {
		args = append(args, "-err_detect", "ignore_err", "-fflags", "+discardcorrupt")
	}
	if startSec > 0 {
		args = append(args, "-ss", formatSec(startSec))
	}
	if endSec > 0 {
		args = append(args, "-to", formatSec(endSec))
	}
	args = append(args,
		"-i", inputPath,
		"-vn",
		"-ac", strconv.Itoa(ch),
		"-ar", strconv.Itoa(sr),
		"-f", "wav",
		outPath,
	)
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("ffmpeg wav failed: %w; out=%s", err, truncate(string(out), 600))
	}
	return out, nil
}

func formatSec(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
