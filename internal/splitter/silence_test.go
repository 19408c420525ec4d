package splitter

import (
	"testing"

	"github.com/orderlens/orderlens-backend/internal/platform/localmedia"
)

const testRate = 16000

// buildSamples lays out alternating spans of silence (zeros) and activity
// (constant amplitude) at testRate.
func buildSamples(spans []struct {
	sec    float64
	active bool
}) []int16 {
	var out []int16
	for _, sp := range spans {
		n := int(sp.sec * testRate)
		for i := 0; i < n; i++ {
			if sp.active {
				out = append(out, 4000)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out
}

func TestDetectTransactionsEmptyRecording(t *testing.T) {
	src := &localmedia.MemorySource{
		Rate:    testRate,
		Samples: make([]int16, 60*testRate),
	}
	spans, err := DetectTransactions(src, 7, 0)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(spans) != 0 {
		t.Fatalf("expected 0 active spans for silence, got %d", len(spans))
	}
}

func TestDetectTransactionsTwoWithGap(t *testing.T) {
	// Active 0-20s, silence 20-35s, active 35-60s. With 7s windows the
	// detector sees silence at windows starting 21 and 28, activity again
	// at 35.
	samples := buildSamples([]struct {
		sec    float64
		active bool
	}{
		{20, true},
		{15, false},
		{25, true},
	})
	src := &localmedia.MemorySource{Rate: testRate, Samples: samples}
	spans, err := DetectTransactions(src, 7, 0)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d: %+v", len(spans), spans)
	}
	if spans[0].StartSec != 0 {
		t.Fatalf("first span starts at %v, want 0", spans[0].StartSec)
	}
	if spans[1].StartSec != 35 {
		t.Fatalf("second span starts at %v, want 35", spans[1].StartSec)
	}
	if spans[1].EndSec != 60 {
		t.Fatalf("second span ends at %v, want 60 (end of stream)", spans[1].EndSec)
	}
}

func TestDetectTransactionsClosesAtEOF(t *testing.T) {
	samples := buildSamples([]struct {
		sec    float64
		active bool
	}{
		{7, false},
		{10, true},
	})
	src := &localmedia.MemorySource{Rate: testRate, Samples: samples}
	spans, err := DetectTransactions(src, 7, 0)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].StartSec != 7 {
		t.Fatalf("span starts at %v, want 7", spans[0].StartSec)
	}
	if spans[0].EndSec != 17 {
		t.Fatalf("span ends at %v, want 17", spans[0].EndSec)
	}
}

func TestDetectTransactionsEpsilonKnob(t *testing.T) {
	// Low-level noise everywhere. With epsilon 0 everything is active;
	// with a generous epsilon nothing is.
	samples := make([]int16, 14*testRate)
	for i := range samples {
		samples[i] = 3
	}
	src := &localmedia.MemorySource{Rate: testRate, Samples: samples}
	spans, err := DetectTransactions(src, 7, 0)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("expected noise to read as active with epsilon 0, got %d spans", len(spans))
	}

	src = &localmedia.MemorySource{Rate: testRate, Samples: samples}
	spans, err = DetectTransactions(src, 7, 0.01)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(spans) != 0 {
		t.Fatalf("expected noise below epsilon to read as silence, got %d spans", len(spans))
	}
}
