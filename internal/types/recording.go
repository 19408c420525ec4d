package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RecordingStatusUploaded   = "uploaded"
	RecordingStatusProcessing = "processing"
	RecordingStatusProcessed  = "processed"
	RecordingStatusFailed     = "failed"
)

// Recording is one stored media object. Chunks of a long recording are
// additional Recording rows whose Meta carries is_chunk plus the chunk
// window relative to the original.
type Recording struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	RunID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"run_id"`
	LocationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"location_id"`
	StartedAt  time.Time      `gorm:"column:started_at;not null" json:"started_at"`
	EndedAt    time.Time      `gorm:"column:ended_at;not null" json:"ended_at"`
	ObjectKey  string         `gorm:"column:object_key" json:"object_key"`
	Link       string         `gorm:"column:link" json:"link"`
	Status     string         `gorm:"column:status;not null;default:'uploaded'" json:"status"`
	Meta       datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Recording) TableName() string { return "recording" }

// ChunkMeta is the decoded shape of Recording.Meta for chunk rows.
type ChunkMeta struct {
	IsChunk       bool      `json:"is_chunk"`
	OriginalID    uuid.UUID `json:"original_id"`
	ChunkIndex    int       `json:"chunk_index"`
	ChunkStartSec float64   `json:"chunk_start_sec"`
	ChunkEndSec   float64   `json:"chunk_end_sec"`
	OverlapSec    float64   `json:"overlap_sec"`
}
