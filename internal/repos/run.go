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

type RunRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, run *types.Run) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Run, error)
	GetByLocationDate(ctx context.Context, tx *gorm.DB, locationID uuid.UUID, runDate time.Time) (*types.Run, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo {
	return &runRepo{db: db, log: baseLog.With("repo", "RunRepo")}
}

func (r *runRepo) Upsert(ctx context.Context, tx *gorm.DB, run *types.Run) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if run == nil {
		return apperr.ErrInvalidArgument
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(run).Error
}

func (r *runRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Run, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, apperr.ErrInvalidArgument
	}
	var run types.Run
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *runRepo) GetByLocationDate(ctx context.Context, tx *gorm.DB, locationID uuid.UUID, runDate time.Time) (*types.Run, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if locationID == uuid.Nil {
		return nil, apperr.ErrInvalidArgument
	}
	var run types.Run
	err := transaction.WithContext(ctx).
		Where("location_id = ? AND run_date = ?", locationID, runDate).
		Order("created_at DESC").
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *runRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Run{}).
		Where("id = ?", id).
		Updates(updates).Error
}
