package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orderlens/orderlens-backend/internal/platform/apperr"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/types"
)

type RecordingRepo interface {
	UpsertMany(ctx context.Context, tx *gorm.DB, recs []*types.Recording) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Recording, error)
	ListByRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.Recording, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type recordingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRecordingRepo(db *gorm.DB, baseLog *logger.Logger) RecordingRepo {
	return &recordingRepo{db: db, log: baseLog.With("repo", "RecordingRepo")}
}

func (r *recordingRepo) UpsertMany(ctx context.Context, tx *gorm.DB, recs []*types.Recording) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(recs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&recs).Error
}

func (r *recordingRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Recording, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, apperr.ErrInvalidArgument
	}
	var rec types.Recording
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *recordingRepo) ListByRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.Recording, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Recording
	if runID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("started_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *recordingRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Recording{}).
		Where("id = ?", id).
		Updates(updates).Error
}
