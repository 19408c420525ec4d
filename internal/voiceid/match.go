package voiceid

import (
	"math"
	"sort"

	"github.com/orderlens/orderlens-backend/internal/clients/voice"
)

// NoMatch is the label for a speaker tag with no reference above the
// match threshold.
const NoMatch = "No match"

// CosineSimilarity between two vectors; unit-norm inputs make this the
// dot product, but the denominator guards drifted vectors anyway.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// BestReference returns the reference label with the highest cosine
// similarity to emb, with its score.
func BestReference(refs []Reference, emb []float32) (string, float64) {
	best, bestScore := "", -1.0
	for _, ref := range refs {
		if s := CosineSimilarity(ref.Embedding, emb); s > bestScore {
			best, bestScore = ref.Label, s
		}
	}
	if best == "" {
		return NoMatch, 0
	}
	return best, bestScore
}

// TagMatch is one diarized speaker tag mapped to its best reference.
type TagMatch struct {
	Tag   string
	Label string
	Score float64
}

// BestLabel picks the transaction-level winner: the label with the
// highest similarity averaged over all of its tag occurrences. Tags
// below threshold map to NoMatch and never win.
func BestLabel(matches []TagMatch, threshold float64) (string, float64, bool) {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, m := range matches {
		if m.Label == NoMatch || m.Score < threshold {
			continue
		}
		sums[m.Label] += m.Score
		counts[m.Label]++
	}
	if len(sums) == 0 {
		return NoMatch, 0, false
	}

	labels := make([]string, 0, len(sums))
	for l := range sums {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	best, bestAvg := "", -1.0
	for _, l := range labels {
		if avg := sums[l] / float64(counts[l]); avg > bestAvg {
			best, bestAvg = l, avg
		}
	}
	return best, bestAvg, true
}

// topUtterances returns the n longest utterances, ties broken by start
// time for determinism.
func topUtterances(utts []voice.Utterance, n int) []voice.Utterance {
	sorted := make([]voice.Utterance, len(utts))
	copy(sorted, utts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DurationMs() != sorted[j].DurationMs() {
			return sorted[i].DurationMs() > sorted[j].DurationMs()
		}
		return sorted[i].StartMs < sorted[j].StartMs
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// chronological returns utterances ordered by start time.
func chronological(utts []voice.Utterance) []voice.Utterance {
	sorted := make([]voice.Utterance, len(utts))
	copy(sorted, utts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartMs < sorted[j].StartMs
	})
	return sorted
}
