package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunStatusUploading  = "uploading"
	RunStatusProcessing = "processing"
	RunStatusComplete   = "complete"
	RunStatusFailed     = "failed"
)

// Run is one processing session for a (location, date).
type Run struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OrgID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"org_id"`
	LocationID uuid.UUID      `gorm:"type:uuid;not null;index:idx_run_location_date" json:"location_id"`
	RunDate    time.Time      `gorm:"column:run_date;not null;index:idx_run_location_date" json:"run_date"`
	Status     string         `gorm:"column:status;not null;default:'uploading'" json:"status"`
	StartedAt  *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	EndedAt    *time.Time     `gorm:"column:ended_at" json:"ended_at,omitempty"`
	Meta       datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Run) TableName() string { return "run" }
