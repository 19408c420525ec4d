package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/types"
)

type GradeRepo interface {
	UpsertMany(ctx context.Context, tx *gorm.DB, grades []*types.Grade) error
	ListByRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.Grade, error)
}

type gradeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGradeRepo(db *gorm.DB, baseLog *logger.Logger) GradeRepo {
	return &gradeRepo{db: db, log: baseLog.With("repo", "GradeRepo")}
}

func (r *gradeRepo) UpsertMany(ctx context.Context, tx *gorm.DB, grades []*types.Grade) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(grades) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			UpdateAll: true,
		}).
		Create(&grades).Error
}

func (r *gradeRepo) ListByRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.Grade, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Grade
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
