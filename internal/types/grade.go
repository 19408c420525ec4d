package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Grade is the structured evaluation of one transaction against the
// location menu. Every *_items column holds a JSON array of canonical
// "<item_id>_<size_code>" references.
type Grade struct {
	TransactionID uuid.UUID `gorm:"type:uuid;primaryKey" json:"transaction_id"`
	RunID         uuid.UUID `gorm:"type:uuid;not null;index" json:"run_id"`

	Transcript    string  `gorm:"column:transcript" json:"transcript"`
	Score         float64 `gorm:"column:score;not null;default:0" json:"score"`
	CompleteOrder bool    `gorm:"column:complete_order;not null;default:false" json:"complete_order"`
	MobileOrder   bool    `gorm:"column:mobile_order;not null;default:false" json:"mobile_order"`
	CouponUsed    bool    `gorm:"column:coupon_used;not null;default:false" json:"coupon_used"`
	AskedMoreTime bool    `gorm:"column:asked_more_time;not null;default:false" json:"asked_more_time"`

	OutOfStockItems string `gorm:"column:out_of_stock_items" json:"out_of_stock_items"`

	ItemsInitial    datatypes.JSON `gorm:"column:items_initial;type:jsonb" json:"items_initial"`
	NumItemsInitial int            `gorm:"column:num_items_initial;not null;default:0" json:"num_items_initial"`
	ItemsAfter      datatypes.JSON `gorm:"column:items_after;type:jsonb" json:"items_after"`
	NumItemsAfter   int            `gorm:"column:num_items_after;not null;default:0" json:"num_items_after"`

	NumUpsellOpportunities int            `gorm:"column:num_upsell_opportunities;not null;default:0" json:"num_upsell_opportunities"`
	NumUpsellOffers        int            `gorm:"column:num_upsell_offers;not null;default:0" json:"num_upsell_offers"`
	NumUpsellSuccesses     int            `gorm:"column:num_upsell_successes;not null;default:0" json:"num_upsell_successes"`
	UpsellCandidateItems   datatypes.JSON `gorm:"column:upsell_candidate_items;type:jsonb" json:"upsell_candidate_items"`
	UpsellBaseItems        datatypes.JSON `gorm:"column:upsell_base_items;type:jsonb" json:"upsell_base_items"`
	UpsellOfferedItems     datatypes.JSON `gorm:"column:upsell_offered_items;type:jsonb" json:"upsell_offered_items"`
	UpsellSuccessItems     datatypes.JSON `gorm:"column:upsell_success_items;type:jsonb" json:"upsell_success_items"`
	UpsellBaseSoldItems    datatypes.JSON `gorm:"column:upsell_base_sold_items;type:jsonb" json:"upsell_base_sold_items"`

	NumUpsizeOpportunities int            `gorm:"column:num_upsize_opportunities;not null;default:0" json:"num_upsize_opportunities"`
	NumUpsizeOffers        int            `gorm:"column:num_upsize_offers;not null;default:0" json:"num_upsize_offers"`
	NumUpsizeSuccesses     int            `gorm:"column:num_upsize_successes;not null;default:0" json:"num_upsize_successes"`
	UpsizeCandidateItems   datatypes.JSON `gorm:"column:upsize_candidate_items;type:jsonb" json:"upsize_candidate_items"`
	UpsizeBaseItems        datatypes.JSON `gorm:"column:upsize_base_items;type:jsonb" json:"upsize_base_items"`
	UpsizeOfferedItems     datatypes.JSON `gorm:"column:upsize_offered_items;type:jsonb" json:"upsize_offered_items"`
	UpsizeSuccessItems     datatypes.JSON `gorm:"column:upsize_success_items;type:jsonb" json:"upsize_success_items"`
	UpsizeBaseSoldItems    datatypes.JSON `gorm:"column:upsize_base_sold_items;type:jsonb" json:"upsize_base_sold_items"`

	NumAddonOpportunities int            `gorm:"column:num_addon_opportunities;not null;default:0" json:"num_addon_opportunities"`
	NumAddonOffers        int            `gorm:"column:num_addon_offers;not null;default:0" json:"num_addon_offers"`
	NumAddonSuccesses     int            `gorm:"column:num_addon_successes;not null;default:0" json:"num_addon_successes"`
	AddonCandidateItems   datatypes.JSON `gorm:"column:addon_candidate_items;type:jsonb" json:"addon_candidate_items"`
	AddonBaseItems        datatypes.JSON `gorm:"column:addon_base_items;type:jsonb" json:"addon_base_items"`
	AddonOfferedItems     datatypes.JSON `gorm:"column:addon_offered_items;type:jsonb" json:"addon_offered_items"`
	AddonSuccessItems     datatypes.JSON `gorm:"column:addon_success_items;type:jsonb" json:"addon_success_items"`
	AddonBaseSoldItems    datatypes.JSON `gorm:"column:addon_base_sold_items;type:jsonb" json:"addon_base_sold_items"`

	NumLargestOffers int `gorm:"column:num_largest_offers;not null;default:0" json:"num_largest_offers"`

	Feedback         string         `gorm:"column:feedback" json:"feedback"`
	Issues           string         `gorm:"column:issues" json:"issues"`
	ReasoningSummary string         `gorm:"column:reasoning_summary" json:"reasoning_summary"`
	GPTPrice         float64        `gorm:"column:gpt_price;not null;default:0" json:"gpt_price"`
	Details          datatypes.JSON `gorm:"column:details;type:jsonb" json:"details"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Grade) TableName() string { return "grade" }
