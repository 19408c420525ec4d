package analytics

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/orderlens/orderlens-backend/internal/menu"
	"github.com/orderlens/orderlens-backend/internal/types"
)

// Row pairs one grade with the transaction context analytics needs.
type Row struct {
	Grade     *types.Grade
	WorkerID  *uuid.UUID
	StartedAt time.Time
}

// Report is the full rollup for one run: the store-level row plus one
// row per attributed worker.
type Report struct {
	Store   types.RunAnalytics
	Workers []types.RunAnalyticsWorker
}

// Funnel is one category's totals with derived rates (percent, one
// decimal) and revenue (two decimals).
type Funnel struct {
	Opportunities  int     `json:"opportunities"`
	Offers         int     `json:"offers"`
	Successes      int     `json:"successes"`
	OfferRate      float64 `json:"offer_rate"`
	SuccessRate    float64 `json:"success_rate"`
	ConversionRate float64 `json:"conversion_rate"`
	Revenue        float64 `json:"revenue"`
}

// ItemStats tracks one menu reference across the candidate → offered →
// converted funnel, all categories combined.
type ItemStats struct {
	Ref         string  `json:"ref"`
	Candidate   int     `json:"candidate"`
	Offered     int     `json:"offered"`
	Converted   int     `json:"converted"`
	SuccessRate float64 `json:"success_rate"`
	Revenue     float64 `json:"revenue"`
}

type RankedItem struct {
	Ref   string  `json:"ref"`
	Value float64 `json:"value"`
}

type DailyPoint struct {
	Date   string `json:"date"`
	Upsell Funnel `json:"upsell"`
	Upsize Funnel `json:"upsize"`
	Addon  Funnel `json:"addon"`
}

// Breakdowns is the jsonb payload on the analytics rows: everything
// without a fixed column shape.
type Breakdowns struct {
	ByItem              []ItemStats  `json:"by_item"`
	TopInitialItems     []RankedItem `json:"top_initial_items"`
	TopSuccessRateItems []RankedItem `json:"top_success_rate_items"`
	TopSuccessItems     []RankedItem `json:"top_success_items"`
	Daily               []DailyPoint `json:"daily"`
	Recommendations     []string     `json:"recommendations"`
}

const topItemsCap = 10

// BuildReport aggregates graded rows into the store rollup and
// per-worker rollups. Pure: same rows in, same report out.
func BuildReport(runID uuid.UUID, rows []Row, catalog *menu.Catalog, workers []*types.Worker) *Report {
	store := aggregate(rows, catalog)

	report := &Report{Store: types.RunAnalytics{RunID: runID}}
	bindStore(&report.Store, store)
	report.Store.Breakdowns = marshalBreakdowns(buildBreakdowns(rows, catalog, store))

	names := map[uuid.UUID]string{}
	for _, w := range workers {
		name := w.DisplayName
		if name == "" {
			name = w.LegalName
		}
		names[w.ID] = name
	}

	byWorker := map[uuid.UUID][]Row{}
	for _, row := range rows {
		if row.WorkerID == nil {
			continue
		}
		byWorker[*row.WorkerID] = append(byWorker[*row.WorkerID], row)
	}

	workerIDs := make([]uuid.UUID, 0, len(byWorker))
	for id := range byWorker {
		workerIDs = append(workerIDs, id)
	}
	sort.Slice(workerIDs, func(i, j int) bool { return workerIDs[i].String() < workerIDs[j].String() })

	for _, id := range workerIDs {
		wrows := byWorker[id]
		agg := aggregate(wrows, catalog)
		out := types.RunAnalyticsWorker{RunID: runID, WorkerID: id, DisplayName: names[id]}
		bindWorker(&out, agg)
		out.Breakdowns = marshalBreakdowns(buildBreakdowns(wrows, catalog, agg))
		report.Workers = append(report.Workers, out)
	}
	return report
}

// aggregation is the category-keyed accumulator shared by store and
// worker rollups.
type aggregation struct {
	transactions  int
	largestOffers int
	upsell        Funnel
	upsize        Funnel
	addon         Funnel
}

func aggregate(rows []Row, catalog *menu.Catalog) aggregation {
	var agg aggregation
	for _, row := range rows {
		g := row.Grade
		if g == nil {
			continue
		}
		agg.transactions++
		agg.largestOffers += g.NumLargestOffers

		agg.upsell.Opportunities += g.NumUpsellOpportunities
		agg.upsell.Offers += g.NumUpsellOffers
		agg.upsell.Successes += g.NumUpsellSuccesses
		agg.upsell.Revenue += revenueOf(catalog, g.UpsellSuccessItems)

		agg.upsize.Opportunities += g.NumUpsizeOpportunities
		agg.upsize.Offers += g.NumUpsizeOffers
		agg.upsize.Successes += g.NumUpsizeSuccesses
		agg.upsize.Revenue += revenueOf(catalog, g.UpsizeSuccessItems)

		agg.addon.Opportunities += g.NumAddonOpportunities
		agg.addon.Offers += g.NumAddonOffers
		agg.addon.Successes += g.NumAddonSuccesses
		agg.addon.Revenue += revenueOf(catalog, g.AddonSuccessItems)
	}
	deriveRates(&agg.upsell)
	deriveRates(&agg.upsize)
	deriveRates(&agg.addon)
	return agg
}

func deriveRates(f *Funnel) {
	f.OfferRate = Percent(f.Offers, f.Opportunities)
	f.SuccessRate = Percent(f.Successes, f.Offers)
	f.ConversionRate = Percent(f.Successes, f.Opportunities)
	f.Revenue = round2(f.Revenue)
}

func bindStore(out *types.RunAnalytics, agg aggregation) {
	out.NumTransactions = agg.transactions
	out.NumLargestOffers = agg.largestOffers
	out.LargestOfferRate = Percent(agg.largestOffers, agg.upsize.Opportunities)

	out.TotalUpsellOpportunities = agg.upsell.Opportunities
	out.TotalUpsellOffers = agg.upsell.Offers
	out.TotalUpsellSuccesses = agg.upsell.Successes
	out.UpsellOfferRate = agg.upsell.OfferRate
	out.UpsellSuccessRate = agg.upsell.SuccessRate
	out.UpsellConversionRate = agg.upsell.ConversionRate
	out.UpsellRevenue = agg.upsell.Revenue

	out.TotalUpsizeOpportunities = agg.upsize.Opportunities
	out.TotalUpsizeOffers = agg.upsize.Offers
	out.TotalUpsizeSuccesses = agg.upsize.Successes
	out.UpsizeOfferRate = agg.upsize.OfferRate
	out.UpsizeSuccessRate = agg.upsize.SuccessRate
	out.UpsizeConversionRate = agg.upsize.ConversionRate
	out.UpsizeRevenue = agg.upsize.Revenue

	out.TotalAddonOpportunities = agg.addon.Opportunities
	out.TotalAddonOffers = agg.addon.Offers
	out.TotalAddonSuccesses = agg.addon.Successes
	out.AddonOfferRate = agg.addon.OfferRate
	out.AddonSuccessRate = agg.addon.SuccessRate
	out.AddonConversionRate = agg.addon.ConversionRate
	out.AddonRevenue = agg.addon.Revenue

	out.TotalRevenue = round2(agg.upsell.Revenue + agg.upsize.Revenue + agg.addon.Revenue)
}

func bindWorker(out *types.RunAnalyticsWorker, agg aggregation) {
	out.NumTransactions = agg.transactions
	out.NumLargestOffers = agg.largestOffers
	out.LargestOfferRate = Percent(agg.largestOffers, agg.upsize.Opportunities)

	out.TotalUpsellOpportunities = agg.upsell.Opportunities
	out.TotalUpsellOffers = agg.upsell.Offers
	out.TotalUpsellSuccesses = agg.upsell.Successes
	out.UpsellOfferRate = agg.upsell.OfferRate
	out.UpsellSuccessRate = agg.upsell.SuccessRate
	out.UpsellConversionRate = agg.upsell.ConversionRate
	out.UpsellRevenue = agg.upsell.Revenue

	out.TotalUpsizeOpportunities = agg.upsize.Opportunities
	out.TotalUpsizeOffers = agg.upsize.Offers
	out.TotalUpsizeSuccesses = agg.upsize.Successes
	out.UpsizeOfferRate = agg.upsize.OfferRate
	out.UpsizeSuccessRate = agg.upsize.SuccessRate
	out.UpsizeConversionRate = agg.upsize.ConversionRate
	out.UpsizeRevenue = agg.upsize.Revenue

	out.TotalAddonOpportunities = agg.addon.Opportunities
	out.TotalAddonOffers = agg.addon.Offers
	out.TotalAddonSuccesses = agg.addon.Successes
	out.AddonOfferRate = agg.addon.OfferRate
	out.AddonSuccessRate = agg.addon.SuccessRate
	out.AddonConversionRate = agg.addon.ConversionRate
	out.AddonRevenue = agg.addon.Revenue

	out.TotalRevenue = round2(agg.upsell.Revenue + agg.upsize.Revenue + agg.addon.Revenue)
}

func buildBreakdowns(rows []Row, catalog *menu.Catalog, agg aggregation) Breakdowns {
	byItem := map[string]*ItemStats{}
	initialCounts := map[string]int{}

	touch := func(ref string) *ItemStats {
		if s, ok := byItem[ref]; ok {
			return s
		}
		s := &ItemStats{Ref: ref}
		byItem[ref] = s
		return s
	}

	for _, row := range rows {
		g := row.Grade
		if g == nil {
			continue
		}
		for _, ref := range listRefs(g.ItemsInitial) {
			initialCounts[ref]++
		}
		for _, col := range []datatypes.JSON{g.UpsellCandidateItems, g.UpsizeCandidateItems, g.AddonCandidateItems} {
			for _, ref := range listRefs(col) {
				touch(ref).Candidate++
			}
		}
		for _, col := range []datatypes.JSON{g.UpsellOfferedItems, g.UpsizeOfferedItems, g.AddonOfferedItems} {
			for _, ref := range listRefs(col) {
				touch(ref).Offered++
			}
		}
		for _, col := range []datatypes.JSON{g.UpsellSuccessItems, g.UpsizeSuccessItems, g.AddonSuccessItems} {
			for _, ref := range listRefs(col) {
				s := touch(ref)
				s.Converted++
				if catalog != nil {
					s.Revenue += catalog.PriceOf(ref)
				}
			}
		}
	}

	items := make([]ItemStats, 0, len(byItem))
	for _, s := range byItem {
		s.SuccessRate = Percent(s.Converted, s.Offered)
		s.Revenue = round2(s.Revenue)
		items = append(items, *s)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Ref < items[j].Ref })

	return Breakdowns{
		ByItem:              items,
		TopInitialItems:     topByCount(initialCounts),
		TopSuccessRateItems: topByRate(items),
		TopSuccessItems:     topBySuccesses(items),
		Daily:               dailySeries(rows, catalog),
		Recommendations:     recommendations(agg),
	}
}

func topByCount(counts map[string]int) []RankedItem {
	out := make([]RankedItem, 0, len(counts))
	for ref, n := range counts {
		out = append(out, RankedItem{Ref: ref, Value: float64(n)})
	}
	sortRanked(out)
	return capTop(out)
}

func topByRate(items []ItemStats) []RankedItem {
	out := make([]RankedItem, 0, len(items))
	for _, s := range items {
		if s.Offered == 0 {
			continue
		}
		out = append(out, RankedItem{Ref: s.Ref, Value: s.SuccessRate})
	}
	sortRanked(out)
	return capTop(out)
}

func topBySuccesses(items []ItemStats) []RankedItem {
	out := make([]RankedItem, 0, len(items))
	for _, s := range items {
		if s.Converted == 0 {
			continue
		}
		out = append(out, RankedItem{Ref: s.Ref, Value: float64(s.Converted)})
	}
	sortRanked(out)
	return capTop(out)
}

func sortRanked(xs []RankedItem) {
	sort.Slice(xs, func(i, j int) bool {
		if xs[i].Value != xs[j].Value {
			return xs[i].Value > xs[j].Value
		}
		return xs[i].Ref < xs[j].Ref
	})
}

func capTop(xs []RankedItem) []RankedItem {
	if len(xs) > topItemsCap {
		xs = xs[:topItemsCap]
	}
	return xs
}

func dailySeries(rows []Row, catalog *menu.Catalog) []DailyPoint {
	byDay := map[string][]Row{}
	for _, row := range rows {
		day := row.StartedAt.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], row)
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	out := make([]DailyPoint, 0, len(days))
	for _, d := range days {
		agg := aggregate(byDay[d], catalog)
		out = append(out, DailyPoint{Date: d, Upsell: agg.upsell, Upsize: agg.upsize, Addon: agg.addon})
	}
	return out
}

const offerRateFloor = 50.0

// recommendations is a fixed rule list so identical inputs always
// produce identical strings.
func recommendations(agg aggregation) []string {
	var out []string
	add := func(category string, f Funnel) {
		if f.Opportunities > 0 && f.OfferRate < offerRateFloor {
			out = append(out, fmt.Sprintf(
				"%s offer rate %.1f%% is below %.0f%%: coach crew to offer on every opportunity",
				category, f.OfferRate, offerRateFloor))
		}
		if f.Offers > 0 && f.SuccessRate < offerRateFloor {
			out = append(out, fmt.Sprintf(
				"%s success rate %.1f%% is below %.0f%%: review suggested phrasing",
				category, f.SuccessRate, offerRateFloor))
		}
	}
	add("upsell", agg.upsell)
	add("upsize", agg.upsize)
	add("addon", agg.addon)
	return out
}

// Percent is num/den as a percent rounded to one decimal; zero
// denominator yields 0, never NaN.
func Percent(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return round1(float64(num) / float64(den) * 100)
}

// PercentChange follows the charting rules: 0→0 is 0, 0→n is 100.
func PercentChange(previous, current float64) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return round1((current - previous) / previous * 100)
}

func revenueOf(catalog *menu.Catalog, col datatypes.JSON) float64 {
	if catalog == nil {
		return 0
	}
	var total float64
	for _, ref := range listRefs(col) {
		total += catalog.PriceOf(ref)
	}
	return total
}

func listRefs(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func marshalBreakdowns(b Breakdowns) datatypes.JSON {
	raw, err := json.Marshal(b)
	if err != nil {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(raw)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
