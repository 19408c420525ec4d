package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/orderlens/orderlens-backend/internal/platform/apperr"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/types"
)

type LocationRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Location, error)
	ListByOrg(ctx context.Context, tx *gorm.DB, orgID uuid.UUID) ([]*types.Location, error)
	Upsert(ctx context.Context, tx *gorm.DB, loc *types.Location) error
}

type locationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLocationRepo(db *gorm.DB, baseLog *logger.Logger) LocationRepo {
	return &locationRepo{db: db, log: baseLog.With("repo", "LocationRepo")}
}

func (r *locationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Location, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, apperr.ErrInvalidArgument
	}
	var loc types.Location
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&loc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (r *locationRepo) ListByOrg(ctx context.Context, tx *gorm.DB, orgID uuid.UUID) ([]*types.Location, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Location
	if orgID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).Where("org_id = ?", orgID).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *locationRepo) Upsert(ctx context.Context, tx *gorm.DB, loc *types.Location) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if loc == nil {
		return apperr.ErrInvalidArgument
	}
	return transaction.WithContext(ctx).Save(loc).Error
}
