package analytics

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/orderlens/orderlens-backend/internal/menu"
	"github.com/orderlens/orderlens-backend/internal/types"
)

var testRunID = uuid.MustParse("11111111-1111-1111-1111-111111111111")

func refCatalog() *menu.Catalog {
	cat := menu.NewCatalog()
	cat.Items["fries"] = menu.CatalogItem{
		ItemID:  "fries",
		SizeIDs: []int{2, 3},
		Prices:  map[int]float64{2: 2.50, 3: 3.00},
	}
	cat.AddOns["cheese"] = menu.CatalogAddOn{ItemID: "cheese", Price: 0.50}
	return cat
}

func refs(xs ...string) datatypes.JSON {
	raw, _ := json.Marshal(xs)
	return datatypes.JSON(raw)
}

func gradeRow(workerID *uuid.UUID, day time.Time, g types.Grade) Row {
	return Row{Grade: &g, WorkerID: workerID, StartedAt: day}
}

func TestBuildReportZeroObject(t *testing.T) {
	report := BuildReport(testRunID, nil, refCatalog(), nil)
	s := report.Store
	if s.NumTransactions != 0 || s.TotalUpsellOffers != 0 {
		t.Fatalf("store = %+v", s)
	}
	if s.UpsellOfferRate != 0 || s.UpsellSuccessRate != 0 || s.UpsellConversionRate != 0 {
		t.Fatalf("rates not zero: %+v", s)
	}
	if s.TotalRevenue != 0 {
		t.Fatalf("revenue = %v", s.TotalRevenue)
	}
	if len(report.Workers) != 0 {
		t.Fatalf("workers = %+v", report.Workers)
	}
}

func TestBuildReportFunnelAndRevenue(t *testing.T) {
	day := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	rows := []Row{
		gradeRow(nil, day, types.Grade{
			NumUpsellOpportunities: 4,
			NumUpsellOffers:        3,
			NumUpsellSuccesses:     2,
			UpsellSuccessItems:     refs("fries_3", "fries_2"),
			NumAddonOpportunities:  2,
			NumAddonOffers:         1,
			NumAddonSuccesses:      1,
			AddonSuccessItems:      refs("cheese_0"),
		}),
		gradeRow(nil, day, types.Grade{
			NumUpsellOpportunities: 2,
			NumUpsellOffers:        1,
		}),
	}
	report := BuildReport(testRunID, rows, refCatalog(), nil)
	s := report.Store

	if s.NumTransactions != 2 {
		t.Fatalf("transactions = %d", s.NumTransactions)
	}
	if s.TotalUpsellOpportunities != 6 || s.TotalUpsellOffers != 4 || s.TotalUpsellSuccesses != 2 {
		t.Fatalf("upsell totals = %d/%d/%d", s.TotalUpsellOpportunities, s.TotalUpsellOffers, s.TotalUpsellSuccesses)
	}
	// 4/6 = 66.7%, 2/4 = 50%, 2/6 = 33.3%
	if s.UpsellOfferRate != 66.7 || s.UpsellSuccessRate != 50.0 || s.UpsellConversionRate != 33.3 {
		t.Fatalf("upsell rates = %v/%v/%v", s.UpsellOfferRate, s.UpsellSuccessRate, s.UpsellConversionRate)
	}
	if s.UpsellRevenue != 5.50 {
		t.Fatalf("upsell revenue = %v", s.UpsellRevenue)
	}
	if s.AddonRevenue != 0.50 {
		t.Fatalf("addon revenue = %v", s.AddonRevenue)
	}
	if s.TotalRevenue != 6.00 {
		t.Fatalf("total revenue = %v", s.TotalRevenue)
	}
}

func TestBuildReportWorkerSumsMatchStore(t *testing.T) {
	day := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	w1 := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	w2 := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	rows := []Row{
		gradeRow(&w1, day, types.Grade{
			NumUpsellOpportunities: 3, NumUpsellOffers: 2, NumUpsellSuccesses: 1,
			UpsellSuccessItems: refs("fries_3"),
		}),
		gradeRow(&w2, day, types.Grade{
			NumUpsellOpportunities: 1, NumUpsellOffers: 1, NumUpsellSuccesses: 1,
			UpsellSuccessItems: refs("fries_2"),
		}),
	}
	workers := []*types.Worker{
		{ID: w1, LegalName: "Alex Kim", DisplayName: "Alex"},
		{ID: w2, LegalName: "Sam Lee"},
	}
	report := BuildReport(testRunID, rows, refCatalog(), workers)

	if len(report.Workers) != 2 {
		t.Fatalf("worker rows = %d", len(report.Workers))
	}
	var opps, offers, succ int
	var rev float64
	for _, w := range report.Workers {
		opps += w.TotalUpsellOpportunities
		offers += w.TotalUpsellOffers
		succ += w.TotalUpsellSuccesses
		rev += w.UpsellRevenue
	}
	s := report.Store
	if opps != s.TotalUpsellOpportunities || offers != s.TotalUpsellOffers || succ != s.TotalUpsellSuccesses {
		t.Fatalf("worker sums %d/%d/%d != store %d/%d/%d",
			opps, offers, succ, s.TotalUpsellOpportunities, s.TotalUpsellOffers, s.TotalUpsellSuccesses)
	}
	if math.Abs(rev-s.UpsellRevenue) > 0.01 {
		t.Fatalf("worker revenue %v != store %v", rev, s.UpsellRevenue)
	}

	if report.Workers[0].DisplayName != "Alex" {
		t.Fatalf("display name = %q", report.Workers[0].DisplayName)
	}
	// Display name falls back to legal name.
	if report.Workers[1].DisplayName != "Sam Lee" {
		t.Fatalf("fallback display name = %q", report.Workers[1].DisplayName)
	}
}

func TestBuildReportBreakdowns(t *testing.T) {
	day1 := time.Date(2026, 8, 3, 8, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 4, 8, 0, 0, 0, time.UTC)
	rows := []Row{
		gradeRow(nil, day1, types.Grade{
			ItemsInitial:           refs("fries_2", "fries_2"),
			NumUpsellOpportunities: 2,
			NumUpsellOffers:        2,
			NumUpsellSuccesses:     1,
			UpsellCandidateItems:   refs("fries_3"),
			UpsellOfferedItems:     refs("fries_3", "fries_3"),
			UpsellSuccessItems:     refs("fries_3"),
		}),
		gradeRow(nil, day2, types.Grade{
			ItemsInitial:           refs("cheese_0"),
			NumUpsellOpportunities: 1,
		}),
	}
	report := BuildReport(testRunID, rows, refCatalog(), nil)

	var b Breakdowns
	if err := json.Unmarshal(report.Store.Breakdowns, &b); err != nil {
		t.Fatalf("breakdowns: %v", err)
	}
	if len(b.ByItem) != 1 || b.ByItem[0].Ref != "fries_3" {
		t.Fatalf("by_item = %+v", b.ByItem)
	}
	it := b.ByItem[0]
	if it.Candidate != 1 || it.Offered != 2 || it.Converted != 1 {
		t.Fatalf("fries_3 stats = %+v", it)
	}
	if it.SuccessRate != 50.0 || it.Revenue != 3.00 {
		t.Fatalf("fries_3 rate/revenue = %v/%v", it.SuccessRate, it.Revenue)
	}

	if len(b.TopInitialItems) != 2 || b.TopInitialItems[0].Ref != "fries_2" {
		t.Fatalf("top initial = %+v", b.TopInitialItems)
	}
	if len(b.Daily) != 2 || b.Daily[0].Date != "2026-08-03" || b.Daily[1].Date != "2026-08-04" {
		t.Fatalf("daily = %+v", b.Daily)
	}
	// Run-level offer rate 2/3 = 66.7% triggers no rule; day 2 alone would.
	if b.Daily[1].Upsell.OfferRate != 0 {
		t.Fatalf("day2 offer rate = %v", b.Daily[1].Upsell.OfferRate)
	}
}

func TestRecommendationsTriggerOnLowOfferRate(t *testing.T) {
	rows := []Row{
		gradeRow(nil, time.Now(), types.Grade{
			NumUpsellOpportunities: 10,
			NumUpsellOffers:        2,
		}),
	}
	report := BuildReport(testRunID, rows, refCatalog(), nil)
	var b Breakdowns
	if err := json.Unmarshal(report.Store.Breakdowns, &b); err != nil {
		t.Fatalf("breakdowns: %v", err)
	}
	if len(b.Recommendations) == 0 {
		t.Fatalf("expected a low-offer-rate recommendation")
	}
}

func TestPercentRules(t *testing.T) {
	if got := Percent(1, 0); got != 0 {
		t.Fatalf("Percent div-by-zero = %v", got)
	}
	if got := Percent(1, 3); got != 33.3 {
		t.Fatalf("Percent(1,3) = %v", got)
	}
	if got := PercentChange(0, 0); got != 0 {
		t.Fatalf("PercentChange(0,0) = %v", got)
	}
	if got := PercentChange(0, 5); got != 100 {
		t.Fatalf("PercentChange(0,5) = %v", got)
	}
	if got := PercentChange(50, 75); got != 50 {
		t.Fatalf("PercentChange(50,75) = %v", got)
	}
}
