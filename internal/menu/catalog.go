package menu

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/orderlens/orderlens-backend/internal/types"
)

type CatalogItem struct {
	ItemID         string
	Name           string
	SizeIDs        []int
	Prices         map[int]float64
	Inclusions     []string
	UpsellEligible bool
	UpsizeEligible bool
	AddonEligible  bool
}

type CatalogAddOn struct {
	ItemID string  `json:"item_id"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
}

// Catalog is the per-location menu loaded once per run and shared
// read-only across grading workers.
type Catalog struct {
	Items  map[string]CatalogItem
	Meals  map[string]CatalogItem
	AddOns map[string]CatalogAddOn
}

func NewCatalog() *Catalog {
	return &Catalog{
		Items:  map[string]CatalogItem{},
		Meals:  map[string]CatalogItem{},
		AddOns: map[string]CatalogAddOn{},
	}
}

func (c *Catalog) Empty() bool {
	return len(c.Items) == 0 && len(c.Meals) == 0 && len(c.AddOns) == 0
}

// HasRef reports whether the (item_id, size_code) pair exists in the
// catalog. Add-ons carry no sizes and match only size code 0.
func (c *Catalog) HasRef(ref string) bool {
	itemID, size, err := ParseRef(ref)
	if err != nil {
		return false
	}
	if it, ok := c.Items[itemID]; ok && containsInt(it.SizeIDs, size) {
		return true
	}
	if ml, ok := c.Meals[itemID]; ok && containsInt(ml.SizeIDs, size) {
		return true
	}
	if _, ok := c.AddOns[itemID]; ok && size == SizeNone {
		return true
	}
	return false
}

// PriceOf returns the price for a canonical reference, 0 when unknown.
func (c *Catalog) PriceOf(ref string) float64 {
	itemID, size, err := ParseRef(ref)
	if err != nil {
		return 0
	}
	if it, ok := c.Items[itemID]; ok {
		if p, ok := it.Prices[size]; ok {
			return p
		}
	}
	if ml, ok := c.Meals[itemID]; ok {
		if p, ok := ml.Prices[size]; ok {
			return p
		}
	}
	if ao, ok := c.AddOns[itemID]; ok && size == SizeNone {
		return ao.Price
	}
	return 0
}

// catalogPayload is the JSON shape substituted into the grading prompt.
type catalogPayload struct {
	ItemID  string             `json:"item_id"`
	Name    string             `json:"name"`
	Sizes   []int              `json:"sizes"`
	Prices  map[string]float64 `json:"prices"`
	Include []string           `json:"inclusions,omitempty"`
	Upsell  bool               `json:"upsell_eligible"`
	Upsize  bool               `json:"upsize_eligible"`
	Addon   bool               `json:"addon_eligible"`
}

// ItemsJSON serializes the items catalog deterministically (sorted by
// item id) with prices keyed by canonical reference.
func (c *Catalog) ItemsJSON() string {
	return marshalCatalog(c.Items)
}

func (c *Catalog) MealsJSON() string {
	return marshalCatalog(c.Meals)
}

func (c *Catalog) AddOnsJSON() string {
	ids := make([]string, 0, len(c.AddOns))
	for id := range c.AddOns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]CatalogAddOn, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.AddOns[id])
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func marshalCatalog(m map[string]CatalogItem) string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]catalogPayload, 0, len(ids))
	for _, id := range ids {
		it := m[id]
		prices := map[string]float64{}
		for size, p := range it.Prices {
			prices[Ref(it.ItemID, size)] = p
		}
		out = append(out, catalogPayload{
			ItemID:  it.ItemID,
			Name:    it.Name,
			Sizes:   it.SizeIDs,
			Prices:  prices,
			Include: it.Inclusions,
			Upsell:  it.UpsellEligible,
			Upsize:  it.UpsizeEligible,
			Addon:   it.AddonEligible,
		})
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func itemFromRow(row *types.MenuItem) CatalogItem {
	return CatalogItem{
		ItemID:         row.ItemID,
		Name:           row.Name,
		SizeIDs:        decodeIntList(row.SizeIDs),
		Prices:         decodePrices(row.Prices),
		UpsellEligible: row.UpsellEligible,
		UpsizeEligible: row.UpsizeEligible,
		AddonEligible:  row.AddonEligible,
	}
}

func mealFromRow(row *types.MenuMeal) CatalogItem {
	return CatalogItem{
		ItemID:         row.ItemID,
		Name:           row.Name,
		SizeIDs:        decodeIntList(row.SizeIDs),
		Prices:         decodePrices(row.Prices),
		Inclusions:     decodeStringList(row.Inclusions),
		UpsellEligible: row.UpsellEligible,
		UpsizeEligible: row.UpsizeEligible,
		AddonEligible:  row.AddonEligible,
	}
}

func decodeIntList(raw []byte) []int {
	if len(raw) == 0 {
		return nil
	}
	var out []int
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func decodeStringList(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func decodePrices(raw []byte) map[int]float64 {
	out := map[int]float64{}
	if len(raw) == 0 {
		return out
	}
	var bySize map[string]float64
	if err := json.Unmarshal(raw, &bySize); err != nil {
		return out
	}
	for k, v := range bySize {
		size, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[size] = v
	}
	return out
}
