package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Size codes: 0 none, 1 small, 2 medium, 3 large. Canonical menu references
// everywhere in the system use the compound form "<item_id>_<size_code>".

type MenuItem struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LocationID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"location_id"`
	ItemID         string         `gorm:"column:item_id;not null;index" json:"item_id"`
	Name           string         `gorm:"column:name;not null" json:"name"`
	SizeIDs        datatypes.JSON `gorm:"column:size_ids;type:jsonb" json:"size_ids"`
	Prices         datatypes.JSON `gorm:"column:prices;type:jsonb" json:"prices"`
	UpsellEligible bool           `gorm:"column:upsell_eligible;not null;default:false" json:"upsell_eligible"`
	UpsizeEligible bool           `gorm:"column:upsize_eligible;not null;default:false" json:"upsize_eligible"`
	AddonEligible  bool           `gorm:"column:addon_eligible;not null;default:false" json:"addon_eligible"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (MenuItem) TableName() string { return "menu_item" }

type MenuMeal struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LocationID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"location_id"`
	ItemID         string         `gorm:"column:item_id;not null;index" json:"item_id"`
	Name           string         `gorm:"column:name;not null" json:"name"`
	Inclusions     datatypes.JSON `gorm:"column:inclusions;type:jsonb" json:"inclusions"`
	SizeIDs        datatypes.JSON `gorm:"column:size_ids;type:jsonb" json:"size_ids"`
	Prices         datatypes.JSON `gorm:"column:prices;type:jsonb" json:"prices"`
	UpsellEligible bool           `gorm:"column:upsell_eligible;not null;default:false" json:"upsell_eligible"`
	UpsizeEligible bool           `gorm:"column:upsize_eligible;not null;default:false" json:"upsize_eligible"`
	AddonEligible  bool           `gorm:"column:addon_eligible;not null;default:false" json:"addon_eligible"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (MenuMeal) TableName() string { return "menu_meal" }

type MenuAddOn struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LocationID uuid.UUID `gorm:"type:uuid;not null;index" json:"location_id"`
	ItemID     string    `gorm:"column:item_id;not null;index" json:"item_id"`
	Name       string    `gorm:"column:name;not null" json:"name"`
	Price      float64   `gorm:"column:price;not null;default:0" json:"price"`
	CreatedAt  time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (MenuAddOn) TableName() string { return "menu_add_on" }
