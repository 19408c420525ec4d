package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/types"
)

type AnalyticsRepo interface {
	UpsertRun(ctx context.Context, tx *gorm.DB, row *types.RunAnalytics) error
	UpsertWorkers(ctx context.Context, tx *gorm.DB, rows []*types.RunAnalyticsWorker) error
	GetRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*types.RunAnalytics, error)
	ListWorkers(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.RunAnalyticsWorker, error)
}

type analyticsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalyticsRepo(db *gorm.DB, baseLog *logger.Logger) AnalyticsRepo {
	return &analyticsRepo{db: db, log: baseLog.With("repo", "AnalyticsRepo")}
}

func (r *analyticsRepo) UpsertRun(ctx context.Context, tx *gorm.DB, row *types.RunAnalytics) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if row == nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			UpdateAll: true,
		}).
		Create(row).Error
}

func (r *analyticsRepo) UpsertWorkers(ctx context.Context, tx *gorm.DB, rows []*types.RunAnalyticsWorker) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "worker_id"}},
			UpdateAll: true,
		}).
		Create(&rows).Error
}

func (r *analyticsRepo) GetRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*types.RunAnalytics, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.RunAnalytics
	err := transaction.WithContext(ctx).
		Where("run_id = ?", runID).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.RunID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *analyticsRepo) ListWorkers(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.RunAnalyticsWorker, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.RunAnalyticsWorker
	if runID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("run_id = ?", runID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
