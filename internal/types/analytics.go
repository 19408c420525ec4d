package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RunAnalytics is the denormalized store-level rollup for one run.
// Rates are percents rounded to one decimal; revenues to two decimals.
// Recomputable from Grades at any time.
type RunAnalytics struct {
	RunID uuid.UUID `gorm:"type:uuid;primaryKey" json:"run_id"`

	NumTransactions int `gorm:"column:num_transactions;not null;default:0" json:"num_transactions"`

	TotalUpsellOpportunities int     `gorm:"column:total_upsell_opportunities;not null;default:0" json:"total_upsell_opportunities"`
	TotalUpsellOffers        int     `gorm:"column:total_upsell_offers;not null;default:0" json:"total_upsell_offers"`
	TotalUpsellSuccesses     int     `gorm:"column:total_upsell_successes;not null;default:0" json:"total_upsell_successes"`
	UpsellOfferRate          float64 `gorm:"column:upsell_offer_rate;not null;default:0" json:"upsell_offer_rate"`
	UpsellSuccessRate        float64 `gorm:"column:upsell_success_rate;not null;default:0" json:"upsell_success_rate"`
	UpsellConversionRate     float64 `gorm:"column:upsell_conversion_rate;not null;default:0" json:"upsell_conversion_rate"`
	UpsellRevenue            float64 `gorm:"column:upsell_revenue;not null;default:0" json:"upsell_revenue"`

	TotalUpsizeOpportunities int     `gorm:"column:total_upsize_opportunities;not null;default:0" json:"total_upsize_opportunities"`
	TotalUpsizeOffers        int     `gorm:"column:total_upsize_offers;not null;default:0" json:"total_upsize_offers"`
	TotalUpsizeSuccesses     int     `gorm:"column:total_upsize_successes;not null;default:0" json:"total_upsize_successes"`
	UpsizeOfferRate          float64 `gorm:"column:upsize_offer_rate;not null;default:0" json:"upsize_offer_rate"`
	UpsizeSuccessRate        float64 `gorm:"column:upsize_success_rate;not null;default:0" json:"upsize_success_rate"`
	UpsizeConversionRate     float64 `gorm:"column:upsize_conversion_rate;not null;default:0" json:"upsize_conversion_rate"`
	UpsizeRevenue            float64 `gorm:"column:upsize_revenue;not null;default:0" json:"upsize_revenue"`

	TotalAddonOpportunities int     `gorm:"column:total_addon_opportunities;not null;default:0" json:"total_addon_opportunities"`
	TotalAddonOffers        int     `gorm:"column:total_addon_offers;not null;default:0" json:"total_addon_offers"`
	TotalAddonSuccesses     int     `gorm:"column:total_addon_successes;not null;default:0" json:"total_addon_successes"`
	AddonOfferRate          float64 `gorm:"column:addon_offer_rate;not null;default:0" json:"addon_offer_rate"`
	AddonSuccessRate        float64 `gorm:"column:addon_success_rate;not null;default:0" json:"addon_success_rate"`
	AddonConversionRate     float64 `gorm:"column:addon_conversion_rate;not null;default:0" json:"addon_conversion_rate"`
	AddonRevenue            float64 `gorm:"column:addon_revenue;not null;default:0" json:"addon_revenue"`

	NumLargestOffers int     `gorm:"column:num_largest_offers;not null;default:0" json:"num_largest_offers"`
	LargestOfferRate float64 `gorm:"column:largest_offer_rate;not null;default:0" json:"largest_offer_rate"`

	TotalRevenue float64 `gorm:"column:total_revenue;not null;default:0" json:"total_revenue"`

	// Breakdowns holds per-item, top-items, time-series and recommendation
	// payloads that have no fixed column shape.
	Breakdowns datatypes.JSON `gorm:"column:breakdowns;type:jsonb" json:"breakdowns"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (RunAnalytics) TableName() string { return "run_analytics" }

// RunAnalyticsWorker mirrors RunAnalytics per (run, worker).
type RunAnalyticsWorker struct {
	RunID       uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"run_id"`
	WorkerID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"worker_id"`
	DisplayName string    `gorm:"column:display_name" json:"display_name"`

	NumTransactions int `gorm:"column:num_transactions;not null;default:0" json:"num_transactions"`

	TotalUpsellOpportunities int     `gorm:"column:total_upsell_opportunities;not null;default:0" json:"total_upsell_opportunities"`
	TotalUpsellOffers        int     `gorm:"column:total_upsell_offers;not null;default:0" json:"total_upsell_offers"`
	TotalUpsellSuccesses     int     `gorm:"column:total_upsell_successes;not null;default:0" json:"total_upsell_successes"`
	UpsellOfferRate          float64 `gorm:"column:upsell_offer_rate;not null;default:0" json:"upsell_offer_rate"`
	UpsellSuccessRate        float64 `gorm:"column:upsell_success_rate;not null;default:0" json:"upsell_success_rate"`
	UpsellConversionRate     float64 `gorm:"column:upsell_conversion_rate;not null;default:0" json:"upsell_conversion_rate"`
	UpsellRevenue            float64 `gorm:"column:upsell_revenue;not null;default:0" json:"upsell_revenue"`

	TotalUpsizeOpportunities int     `gorm:"column:total_upsize_opportunities;not null;default:0" json:"total_upsize_opportunities"`
	TotalUpsizeOffers        int     `gorm:"column:total_upsize_offers;not null;default:0" json:"total_upsize_offers"`
	TotalUpsizeSuccesses     int     `gorm:"column:total_upsize_successes;not null;default:0" json:"total_upsize_successes"`
	UpsizeOfferRate          float64 `gorm:"column:upsize_offer_rate;not null;default:0" json:"upsize_offer_rate"`
	UpsizeSuccessRate        float64 `gorm:"column:upsize_success_rate;not null;default:0" json:"upsize_success_rate"`
	UpsizeConversionRate     float64 `gorm:"column:upsize_conversion_rate;not null;default:0" json:"upsize_conversion_rate"`
	UpsizeRevenue            float64 `gorm:"column:upsize_revenue;not null;default:0" json:"upsize_revenue"`

	TotalAddonOpportunities int     `gorm:"column:total_addon_opportunities;not null;default:0" json:"total_addon_opportunities"`
	TotalAddonOffers        int     `gorm:"column:total_addon_offers;not null;default:0" json:"total_addon_offers"`
	TotalAddonSuccesses     int     `gorm:"column:total_addon_successes;not null;default:0" json:"total_addon_successes"`
	AddonOfferRate          float64 `gorm:"column:addon_offer_rate;not null;default:0" json:"addon_offer_rate"`
	AddonSuccessRate        float64 `gorm:"column:addon_success_rate;not null;default:0" json:"addon_success_rate"`
	AddonConversionRate     float64 `gorm:"column:addon_conversion_rate;not null;default:0" json:"addon_conversion_rate"`
	AddonRevenue            float64 `gorm:"column:addon_revenue;not null;default:0" json:"addon_revenue"`

	NumLargestOffers int     `gorm:"column:num_largest_offers;not null;default:0" json:"num_largest_offers"`
	LargestOfferRate float64 `gorm:"column:largest_offer_rate;not null;default:0" json:"largest_offer_rate"`

	TotalRevenue float64 `gorm:"column:total_revenue;not null;default:0" json:"total_revenue"`

	Breakdowns datatypes.JSON `gorm:"column:breakdowns;type:jsonb" json:"breakdowns"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (RunAnalyticsWorker) TableName() string { return "run_analytics_worker" }
