package menu

import (
	"context"
	_ "embed"
	"strings"

	"github.com/google/uuid"

	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/repos"
)

//go:embed defaults/upsell_rules.json
var defaultUpsellRules string

//go:embed defaults/upsize_rules.json
var defaultUpsizeRules string

//go:embed defaults/addon_rules.json
var defaultAddonRules string

// Binder loads the per-location menu and assembles the grading prompt.
// Rule payloads come from the database in a full deployment; the bundled
// defaults cover DB read failures and locations with no configured menu.
type Binder interface {
	Load(ctx context.Context, locationID uuid.UUID) (*Catalog, error)
	BuildGradingPrompt(catalog *Catalog, transcript string) string
}

type binder struct {
	log      *logger.Logger
	menuRepo repos.MenuRepo
}

func NewBinder(baseLog *logger.Logger, menuRepo repos.MenuRepo) Binder {
	return &binder{
		log:      baseLog.With("service", "MenuBinder"),
		menuRepo: menuRepo,
	}
}

// Load reads the items, meals and add-ons for a location. A failed read
// degrades to an empty catalog rather than failing the run; grading then
// proceeds on the bundled default rules with empty item lists.
func (b *binder) Load(ctx context.Context, locationID uuid.UUID) (*Catalog, error) {
	cat := NewCatalog()

	items, err := b.menuRepo.ListItems(ctx, nil, locationID)
	if err != nil {
		b.log.Warn("menu items read failed, grading with empty catalog", "location_id", locationID, "error", err)
		return cat, nil
	}
	meals, err := b.menuRepo.ListMeals(ctx, nil, locationID)
	if err != nil {
		b.log.Warn("menu meals read failed, grading with empty catalog", "location_id", locationID, "error", err)
		return cat, nil
	}
	addons, err := b.menuRepo.ListAddOns(ctx, nil, locationID)
	if err != nil {
		b.log.Warn("menu addons read failed, grading with empty catalog", "location_id", locationID, "error", err)
		return cat, nil
	}

	for _, row := range items {
		cat.Items[row.ItemID] = itemFromRow(row)
	}
	for _, row := range meals {
		cat.Meals[row.ItemID] = mealFromRow(row)
	}
	for _, row := range addons {
		cat.AddOns[row.ItemID] = CatalogAddOn{ItemID: row.ItemID, Name: row.Name, Price: row.Price}
	}
	return cat, nil
}

// BuildGradingPrompt substitutes the four JSON payloads and the
// transcript into Prompt-B.
func (b *binder) BuildGradingPrompt(catalog *Catalog, transcript string) string {
	if catalog == nil {
		catalog = NewCatalog()
	}
	r := strings.NewReplacer(
		"{{UPSELL_RULES}}", defaultUpsellRules,
		"{{UPSIZE_RULES}}", defaultUpsizeRules,
		"{{ADDON_RULES}}", defaultAddonRules,
		"{{ITEMS_CATALOG}}", catalog.ItemsJSON(),
		"{{MEALS_CATALOG}}", catalog.MealsJSON(),
		"{{ADDONS_CATALOG}}", catalog.AddOnsJSON(),
		"{{TRANSCRIPT}}", transcript,
	)
	return r.Replace(gradingPromptTemplate)
}
