package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/types"
)

type WorkerRepo interface {
	ListByLocation(ctx context.Context, tx *gorm.DB, locationID uuid.UUID) ([]*types.Worker, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Worker, error)
}

type workerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkerRepo(db *gorm.DB, baseLog *logger.Logger) WorkerRepo {
	return &workerRepo{db: db, log: baseLog.With("repo", "WorkerRepo")}
}

func (r *workerRepo) ListByLocation(ctx context.Context, tx *gorm.DB, locationID uuid.UUID) ([]*types.Worker, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Worker
	if locationID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("location_id = ?", locationID).
		Order("legal_name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *workerRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Worker, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Worker
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
