package types

import (
	"time"

	"github.com/google/uuid"
)

type Worker struct {
	ID              uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LocationID      uuid.UUID `gorm:"type:uuid;not null;index" json:"location_id"`
	LegalName       string    `gorm:"column:legal_name;not null" json:"legal_name"`
	DisplayName     string    `gorm:"column:display_name" json:"display_name"`
	MonthlyFeedback string    `gorm:"column:monthly_feedback" json:"monthly_feedback"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Worker) TableName() string { return "worker" }
