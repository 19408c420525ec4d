package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TransactionKindOrder = "order"

	WorkerAssignmentSourceVoice      = "voice"
	WorkerAssignmentSourceUnassigned = "unassigned"
)

type Transaction struct {
	ID                     uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID                  uuid.UUID      `gorm:"type:uuid;not null;index" json:"run_id"`
	RecordingID            uuid.UUID      `gorm:"type:uuid;not null;index" json:"recording_id"`
	StartedAt              time.Time      `gorm:"column:started_at;not null" json:"started_at"`
	EndedAt                time.Time      `gorm:"column:ended_at;not null" json:"ended_at"`
	Kind                   string         `gorm:"column:kind;not null;default:'order'" json:"kind"`
	Meta                   datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta"`
	ClipRef                string         `gorm:"column:clip_ref" json:"clip_ref"`
	ClipLink               string         `gorm:"column:clip_link" json:"clip_link"`
	WorkerID               *uuid.UUID     `gorm:"type:uuid;index" json:"worker_id,omitempty"`
	WorkerConfidence       *float64       `gorm:"column:worker_confidence" json:"worker_confidence,omitempty"`
	WorkerAssignmentSource string         `gorm:"column:worker_assignment_source;not null;default:'unassigned'" json:"worker_assignment_source"`
	VoiceProcessedAt       *time.Time     `gorm:"column:voice_processed_at" json:"voice_processed_at,omitempty"`
	CreatedAt              time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt              time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Transaction) TableName() string { return "transaction" }

// TransactionMeta is the extraction payload stored in Transaction.Meta.
type TransactionMeta struct {
	Transcript      string `json:"transcript"`
	CompleteOrder   int    `json:"complete_order"`
	MobileOrder     int    `json:"mobile_order"`
	CouponUsed      int    `json:"coupon_used"`
	AskedMoreTime   int    `json:"asked_more_time"`
	OutOfStockItems string `json:"out_of_stock_items"`
}
