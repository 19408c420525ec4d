package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/types"
)

type TransactionRepo interface {
	UpsertMany(ctx context.Context, tx *gorm.DB, txs []*types.Transaction) error
	ListByRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.Transaction, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// AssignWorker is the single voice-attribution write: one upsert keyed
	// by transaction id so concurrent clip workers stay safe.
	AssignWorker(ctx context.Context, tx *gorm.DB, id uuid.UUID, workerID *uuid.UUID, confidence *float64, source string, processedAt time.Time) error
}

type transactionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTransactionRepo(db *gorm.DB, baseLog *logger.Logger) TransactionRepo {
	return &transactionRepo{db: db, log: baseLog.With("repo", "TransactionRepo")}
}

func (r *transactionRepo) UpsertMany(ctx context.Context, tx *gorm.DB, txs []*types.Transaction) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(txs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"run_id", "recording_id", "started_at", "ended_at", "kind", "meta", "updated_at",
			}),
		}).
		Create(&txs).Error
}

func (r *transactionRepo) ListByRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.Transaction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Transaction
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

func (r *transactionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Transaction{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *transactionRepo) AssignWorker(ctx context.Context, tx *gorm.DB, id uuid.UUID, workerID *uuid.UUID, confidence *float64, source string, processedAt time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Transaction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"worker_id":                workerID,
			"worker_confidence":        confidence,
			"worker_assignment_source": source,
			"voice_processed_at":       processedAt,
			"updated_at":               time.Now(),
		}).Error
}
