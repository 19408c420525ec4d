package splitter

import (
	"fmt"
	"io"

	"github.com/orderlens/orderlens-backend/internal/platform/localmedia"
)

// TimeRange is one contiguous active-audio span, seconds relative to the
// stream start.
type TimeRange struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

// DetectTransactions scans non-overlapping windows of windowSec seconds
// and derives transaction boundaries from silence transitions: a
// transaction opens at the start of the first non-silent window after
// silence and closes at the start of the next silent window. A stream
// that ends while active closes at end-of-stream.
//
// A window is silent when its mean absolute amplitude (normalized to
// [0,1]) is <= epsilon. The sources this pipeline normalizes pad silence
// with exact zeros, so epsilon 0 is the production setting; it stays a
// knob for noisier encoders.
func DetectTransactions(src localmedia.SampleSource, windowSec float64, epsilon float64) ([]TimeRange, error) {
	if src == nil {
		return nil, fmt.Errorf("sample source required")
	}
	rate := src.SampleRate()
	if rate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", rate)
	}
	if windowSec <= 0 {
		windowSec = 7
	}

	windowSamples := int(windowSec * float64(rate))
	buf := make([]int16, windowSamples)

	var (
		out        []TimeRange
		active     bool
		activeFrom float64
		windowIdx  int
		totalRead  int64
	)

	for {
		n, err := readFullSamples(src, buf)
		if n > 0 {
			windowStart := float64(windowIdx) * windowSec
			silent := meanAbs(buf[:n]) <= epsilon
			switch {
			case !active && !silent:
				active = true
				activeFrom = windowStart
			case active && silent:
				out = append(out, TimeRange{StartSec: activeFrom, EndSec: windowStart})
				active = false
			}
			windowIdx++
			totalRead += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read window %d: %w", windowIdx, err)
		}
	}

	if active {
		endSec := float64(totalRead) / float64(rate)
		out = append(out, TimeRange{StartSec: activeFrom, EndSec: endSec})
	}
	return out, nil
}

// readFullSamples fills buf across short reads so each call consumes one
// full window (or the stream tail).
func readFullSamples(src localmedia.SampleSource, buf []int16) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := src.ReadSamples(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

func meanAbs(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum / float64(len(samples)) / 32768.0
}
