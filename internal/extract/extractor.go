package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/orderlens/orderlens-backend/internal/clients/openai"
	"github.com/orderlens/orderlens-backend/internal/menu"
	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/transcribe"
)

// Delimiter separates the JSON objects in the model's extraction output.
const Delimiter = "@#&"

// Candidate is one extracted transaction. Times stay relative to the
// chunk; the orchestrator remaps them onto the recording timeline.
type Candidate struct {
	StartSec        float64 `json:"start_sec"`
	EndSec          float64 `json:"end_sec"`
	Transcript      string  `json:"transcript"`
	CompleteOrder   int     `json:"complete_order"`
	MobileOrder     int     `json:"mobile_order"`
	CouponUsed      int     `json:"coupon_used"`
	AskedMoreTime   int     `json:"asked_more_time"`
	OutOfStockItems string  `json:"out_of_stock_items"`
}

// Extractor turns one transcribed segment into 0..N transaction
// candidates. A segment is never dropped: when the model returns nothing
// usable the whole segment becomes a single candidate carrying the raw
// text and zeroed flags.
type Extractor interface {
	Extract(ctx context.Context, seg transcribe.Segment) ([]Candidate, error)
}

type extractor struct {
	log      *logger.Logger
	reasoner openai.Reasoner
}

func New(log *logger.Logger, reasoner openai.Reasoner) Extractor {
	return &extractor{
		log:      log.With("service", "TransactionExtractor"),
		reasoner: reasoner,
	}
}

func (e *extractor) Extract(ctx context.Context, seg transcribe.Segment) ([]Candidate, error) {
	ctx = ctxutil.Default(ctx)

	if strings.TrimSpace(seg.Text) == "" {
		return []Candidate{fallbackCandidate(seg)}, nil
	}

	prompt := menu.BuildExtractionPrompt(seg.Text)
	completion, err := e.reasoner.Complete(ctx, prompt, openai.CompleteOptions{})
	if err != nil {
		return nil, fmt.Errorf("extraction completion: %w", err)
	}

	cands := ParseCandidates(completion.Text, seg)
	if len(cands) == 0 {
		e.log.Warn("No parseable extraction output, keeping raw segment",
			"start_sec", seg.StartSec, "output_len", len(completion.Text))
		return []Candidate{fallbackCandidate(seg)}, nil
	}
	return cands, nil
}

// ParseCandidates splits the model output on the delimiter and parses
// each piece tolerantly. K>1 candidates divide the segment's time range
// uniformly.
func ParseCandidates(raw string, seg transcribe.Segment) []Candidate {
	var parsed []Candidate
	for _, piece := range strings.Split(raw, Delimiter) {
		c, ok := parseOne(piece)
		if !ok {
			continue
		}
		parsed = append(parsed, c)
	}
	if len(parsed) == 0 {
		return nil
	}

	k := len(parsed)
	step := (seg.EndSec - seg.StartSec) / float64(k)
	for i := range parsed {
		parsed[i].StartSec = seg.StartSec + float64(i)*step
		parsed[i].EndSec = seg.StartSec + float64(i+1)*step
	}
	parsed[k-1].EndSec = seg.EndSec
	return parsed
}

func parseOne(piece string) (Candidate, bool) {
	piece = trimToJSONObject(piece)
	if piece == "" {
		return Candidate{}, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(piece), &obj); err != nil {
		return Candidate{}, false
	}
	transcript := coerceString(obj["1"])
	if strings.TrimSpace(transcript) == "" {
		return Candidate{}, false
	}
	return Candidate{
		Transcript:      transcript,
		CompleteOrder:   coerceFlag(obj["2"]),
		MobileOrder:     coerceFlag(obj["3"]),
		CouponUsed:      coerceFlag(obj["4"]),
		AskedMoreTime:   coerceFlag(obj["5"]),
		OutOfStockItems: coerceOutOfStock(obj["6"]),
	}, true
}

// trimToJSONObject drops any model chatter around the outermost braces.
func trimToJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func coerceString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// coerceFlag reads 1/0 out of whatever shape the model produced: number,
// numeric string, or boolean. Anything else is 0.
func coerceFlag(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n != 0 {
			return 1
		}
		return 0
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return 1
		}
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && v != 0 {
			return 1
		}
	}
	return 0
}

// coerceOutOfStock keeps the description text, normalizing empty and
// zero-ish values to "0".
func coerceOutOfStock(raw json.RawMessage) string {
	s := strings.TrimSpace(coerceString(raw))
	if s == "" || s == "0" {
		return "0"
	}
	return s
}

func fallbackCandidate(seg transcribe.Segment) Candidate {
	return Candidate{
		StartSec:        seg.StartSec,
		EndSec:          seg.EndSec,
		Transcript:      seg.Text,
		OutOfStockItems: "0",
	}
}
