package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/types"
)

type MenuRepo interface {
	ListItems(ctx context.Context, tx *gorm.DB, locationID uuid.UUID) ([]*types.MenuItem, error)
	ListMeals(ctx context.Context, tx *gorm.DB, locationID uuid.UUID) ([]*types.MenuMeal, error)
	ListAddOns(ctx context.Context, tx *gorm.DB, locationID uuid.UUID) ([]*types.MenuAddOn, error)
}

type menuRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMenuRepo(db *gorm.DB, baseLog *logger.Logger) MenuRepo {
	return &menuRepo{db: db, log: baseLog.With("repo", "MenuRepo")}
}

func (r *menuRepo) ListItems(ctx context.Context, tx *gorm.DB, locationID uuid.UUID) ([]*types.MenuItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.MenuItem
	if locationID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("location_id = ?", locationID).
		Order("item_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *menuRepo) ListMeals(ctx context.Context, tx *gorm.DB, locationID uuid.UUID) ([]*types.MenuMeal, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.MenuMeal
	if locationID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("location_id = ?", locationID).
		Order("item_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *menuRepo) ListAddOns(ctx context.Context, tx *gorm.DB, locationID uuid.UUID) ([]*types.MenuAddOn, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.MenuAddOn
	if locationID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("location_id = ?", locationID).
		Order("item_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
