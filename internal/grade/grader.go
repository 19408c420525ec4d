package grade

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"gorm.io/datatypes"

	"github.com/orderlens/orderlens-backend/internal/clients/openai"
	"github.com/orderlens/orderlens-backend/internal/menu"
	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/types"
)

// Config carries the token pricing used for per-grade cost accounting.
// Rates are dollars per token.
type Config struct {
	InputTokenRate  float64
	OutputTokenRate float64
}

// Result is one graded transaction plus the sanity-check violations the
// grader observed. Violations never fail a grade; the orchestrator
// tallies them into the run diagnostics.
type Result struct {
	Grade      types.Grade
	Violations []string
}

// Grader evaluates one extracted transaction against the location menu.
type Grader interface {
	GradeTransaction(ctx context.Context, catalog *menu.Catalog, tx *types.Transaction) (*Result, error)
}

type grader struct {
	log      *logger.Logger
	cfg      Config
	reasoner openai.Reasoner
	binder   menu.Binder
}

func New(log *logger.Logger, cfg Config, reasoner openai.Reasoner, binder menu.Binder) Grader {
	return &grader{
		log:      log.With("service", "Grader"),
		cfg:      cfg,
		reasoner: reasoner,
		binder:   binder,
	}
}

func (g *grader) GradeTransaction(ctx context.Context, catalog *menu.Catalog, tx *types.Transaction) (*Result, error) {
	ctx = ctxutil.Default(ctx)
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}

	var meta types.TransactionMeta
	if len(tx.Meta) > 0 {
		if err := json.Unmarshal(tx.Meta, &meta); err != nil {
			g.log.Warn("Unreadable transaction meta, grading transcript-less", "transaction_id", tx.ID, "error", err)
		}
	}

	prompt := g.binder.BuildGradingPrompt(catalog, meta.Transcript)
	completion, err := g.reasoner.Complete(ctx, prompt, openai.CompleteOptions{WantReasoningSummary: true})
	if err != nil {
		return nil, fmt.Errorf("grading completion: %w", err)
	}

	res := BuildGrade(catalog, tx, meta, completion)
	res.Grade.GPTPrice = round2(float64(completion.InputTokens)*g.cfg.InputTokenRate +
		float64(completion.OutputTokens)*g.cfg.OutputTokenRate)
	return res, nil
}

// BuildGrade binds the numbered-key output onto a Grade row. Pure so the
// binding table and derived values stay testable without a model call.
func BuildGrade(catalog *menu.Catalog, tx *types.Transaction, meta types.TransactionMeta, completion *openai.Completion) *Result {
	fields := parseFields(completion.Text)
	res := &Result{}

	grd := types.Grade{
		TransactionID:    tx.ID,
		RunID:            tx.RunID,
		Transcript:       meta.Transcript,
		CompleteOrder:    meta.CompleteOrder != 0,
		MobileOrder:      meta.MobileOrder != 0,
		CouponUsed:       meta.CouponUsed != 0,
		AskedMoreTime:    meta.AskedMoreTime != 0,
		OutOfStockItems:  meta.OutOfStockItems,
		ReasoningSummary: completion.ReasoningSummary,
	}

	grd.ItemsInitial = res.listColumn(catalog, "items_initial", fields.take("1").List())
	grd.NumItemsInitial = fields.take("2").Int()
	grd.NumUpsellOpportunities = fields.take("3").Int()
	grd.UpsellCandidateItems = res.listColumn(catalog, "upsell_candidate_items", fields.take("4").List())
	grd.UpsellBaseItems = res.listColumn(catalog, "upsell_base_items", fields.take("4_base").List())
	grd.NumUpsellOffers = fields.take("5").Int()
	grd.UpsellOfferedItems = res.listColumn(catalog, "upsell_offered_items", fields.take("6").List())
	grd.UpsellSuccessItems = res.listColumn(catalog, "upsell_success_items", fields.take("7").List())
	grd.UpsellBaseSoldItems = res.listColumn(catalog, "upsell_base_sold_items", fields.take("8_base_sold").List())
	grd.NumUpsellSuccesses = fields.take("9").Int()
	grd.NumLargestOffers = fields.take("10").Int()

	grd.NumUpsizeOpportunities = fields.take("11").Int()
	grd.UpsizeBaseItems = res.listColumn(catalog, "upsize_base_items", fields.take("11_base").List())
	grd.UpsizeCandidateItems = res.listColumn(catalog, "upsize_candidate_items", fields.take("12").List())
	grd.NumUpsizeOffers = fields.take("14").Int()
	grd.UpsizeOfferedItems = res.listColumn(catalog, "upsize_offered_items", fields.take("14_base").List())
	grd.NumUpsizeSuccesses = fields.take("15").Int()
	grd.UpsizeSuccessItems = res.listColumn(catalog, "upsize_success_items", fields.take("16").List())
	grd.UpsizeBaseSoldItems = res.listColumn(catalog, "upsize_base_sold_items", fields.take("16_base_sold").List())

	grd.NumAddonOpportunities = fields.take("18").Int()
	grd.AddonBaseItems = res.listColumn(catalog, "addon_base_items", fields.take("18_base").List())
	grd.AddonCandidateItems = res.listColumn(catalog, "addon_candidate_items", fields.take("19").List())
	grd.NumAddonOffers = fields.take("21").Int()
	grd.AddonOfferedItems = res.listColumn(catalog, "addon_offered_items", fields.take("21_base").List())
	grd.NumAddonSuccesses = fields.take("22").Int()
	grd.AddonSuccessItems = res.listColumn(catalog, "addon_success_items", fields.take("23").List())
	grd.AddonBaseSoldItems = res.listColumn(catalog, "addon_base_sold_items", fields.take("23_base_sold").List())

	grd.ItemsAfter = res.listColumn(catalog, "items_after", fields.take("25").List())
	grd.NumItemsAfter = fields.take("26").Int()
	grd.Feedback = fields.take("27").Str()
	grd.Issues = fields.take("28").Str()

	grd.Score = Score(grd.NumUpsellOffers, grd.NumUpsizeOffers,
		grd.NumUpsellOpportunities, grd.NumUpsizeOpportunities)

	grd.Details = fields.remainder()
	res.sanityChecks(&grd)

	res.Grade = grd
	return res
}

// Score is the offer-to-opportunity ratio across upsell and upsize,
// capped at 1. Zero opportunities grade to 0, not NaN.
func Score(upsellOffers, upsizeOffers, upsellOpps, upsizeOpps int) float64 {
	denom := upsellOpps + upsizeOpps
	if denom <= 0 {
		return 0
	}
	s := float64(upsellOffers+upsizeOffers) / float64(denom)
	return math.Min(1, s)
}

func (r *Result) sanityChecks(grd *types.Grade) {
	check := func(ok bool, format string, args ...any) {
		if !ok {
			r.Violations = append(r.Violations, fmt.Sprintf(format, args...))
		}
	}

	check(grd.NumUpsellOffers <= grd.NumUpsellOpportunities,
		"upsell offers %d > opportunities %d", grd.NumUpsellOffers, grd.NumUpsellOpportunities)
	check(grd.NumUpsellSuccesses <= grd.NumUpsellOffers,
		"upsell successes %d > offers %d", grd.NumUpsellSuccesses, grd.NumUpsellOffers)
	check(grd.NumUpsizeOffers <= grd.NumUpsizeOpportunities,
		"upsize offers %d > opportunities %d", grd.NumUpsizeOffers, grd.NumUpsizeOpportunities)
	check(grd.NumUpsizeSuccesses <= grd.NumUpsizeOffers,
		"upsize successes %d > offers %d", grd.NumUpsizeSuccesses, grd.NumUpsizeOffers)
	check(grd.NumAddonOffers <= grd.NumAddonOpportunities,
		"addon offers %d > opportunities %d", grd.NumAddonOffers, grd.NumAddonOpportunities)
	check(grd.NumAddonSuccesses <= grd.NumAddonOffers,
		"addon successes %d > offers %d", grd.NumAddonSuccesses, grd.NumAddonOffers)

	check(listLen(grd.ItemsInitial) == grd.NumItemsInitial || grd.NumItemsInitial == 0,
		"items_initial length %d != declared %d", listLen(grd.ItemsInitial), grd.NumItemsInitial)
	check(listLen(grd.ItemsAfter) == grd.NumItemsAfter || grd.NumItemsAfter == 0,
		"items_after length %d != declared %d", listLen(grd.ItemsAfter), grd.NumItemsAfter)
	check(listLen(grd.UpsellSuccessItems) <= grd.NumUpsellSuccesses || grd.NumUpsellSuccesses == 0,
		"upsell success items %d > declared successes %d", listLen(grd.UpsellSuccessItems), grd.NumUpsellSuccesses)
	check(listLen(grd.AddonSuccessItems) <= grd.NumAddonSuccesses || grd.NumAddonSuccesses == 0,
		"addon success items %d > declared successes %d", listLen(grd.AddonSuccessItems), grd.NumAddonSuccesses)
}

// listColumn validates refs against the catalog and marshals the list.
// Unknown refs stay in the row but count as violations.
func (r *Result) listColumn(catalog *menu.Catalog, column string, refs []string) datatypes.JSON {
	for _, ref := range refs {
		if catalog != nil && !catalog.Empty() && !catalog.HasRef(ref) {
			r.Violations = append(r.Violations, fmt.Sprintf("%s: unknown menu reference %q", column, ref))
		}
	}
	return marshalList(refs)
}

func marshalList(refs []string) datatypes.JSON {
	if refs == nil {
		refs = []string{}
	}
	raw, err := json.Marshal(refs)
	if err != nil {
		return datatypes.JSON(`[]`)
	}
	return datatypes.JSON(raw)
}

func listLen(raw datatypes.JSON) int {
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0
	}
	return len(out)
}

// fieldSet tracks which numbered keys were consumed so the leftovers can
// be preserved verbatim in the details column.
type fieldSet struct {
	values map[string]json.RawMessage
	used   map[string]bool
}

func parseFields(raw string) *fieldSet {
	fs := &fieldSet{values: map[string]json.RawMessage{}, used: map[string]bool{}}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return fs
	}
	_ = json.Unmarshal([]byte(raw[start:end+1]), &fs.values)
	return fs
}

func (fs *fieldSet) take(key string) Value {
	fs.used[key] = true
	return Value{raw: fs.values[key]}
}

func (fs *fieldSet) remainder() datatypes.JSON {
	rest := map[string]json.RawMessage{}
	for k, v := range fs.values {
		if !fs.used[k] {
			rest[k] = v
		}
	}
	if len(rest) == 0 {
		return datatypes.JSON(`{}`)
	}
	raw, err := json.Marshal(rest)
	if err != nil {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(raw)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
