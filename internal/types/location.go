package types

import (
	"time"

	"github.com/google/uuid"
)

type Location struct {
	ID        uuid.UUID     `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OrgID     uuid.UUID     `gorm:"type:uuid;not null;index" json:"org_id"`
	Org       *Organization `gorm:"constraint:OnDelete:CASCADE;foreignKey:OrgID;references:ID" json:"org,omitempty"`
	Name      string        `gorm:"column:name;not null" json:"name"`
	Timezone  string        `gorm:"column:timezone;not null;default:'UTC'" json:"timezone"`
	CreatedAt time.Time     `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time     `gorm:"not null;default:now()" json:"updated_at"`
}

func (Location) TableName() string { return "location" }
