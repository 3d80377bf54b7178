package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keysync/backend/internal/domain/fulfillment"
	"github.com/keysync/backend/internal/domain/shared"
	"github.com/keysync/backend/internal/domain/supplier"
	"github.com/keysync/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormFulfillmentRecordRepository implements the fulfillment ledger using GORM.
//
// Every status transition is a conditional UPDATE guarded by the expected
// current status. When the guard matches no row the record either does not
// exist or another worker already moved it; the caller gets
// shared.ErrNotFound or shared.ErrConcurrencyConflict accordingly.
type GormFulfillmentRecordRepository struct {
	db *gorm.DB
}

// NewGormFulfillmentRecordRepository creates a new GormFulfillmentRecordRepository
func NewGormFulfillmentRecordRepository(db *gorm.DB) *GormFulfillmentRecordRepository {
	return &GormFulfillmentRecordRepository{db: db}
}

// EnsureRecord creates the record for (order, line item) unless one already
// exists, and returns the stored row either way. The unique index on
// (order_id, line_item_id) makes re-entry safe under concurrency.
func (r *GormFulfillmentRecordRepository) EnsureRecord(ctx context.Context, record *fulfillment.Record) (*fulfillment.Record, error) {
	var model models.FulfillmentRecordModel
	model.FromDomain(record)

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "line_item_id"}},
			DoNothing: true,
		}).
		Create(&model).Error; err != nil {
		return nil, fmt.Errorf("ensure fulfillment record: %w", err)
	}

	var stored models.FulfillmentRecordModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND line_item_id = ?", record.OrderID, record.LineItemID).
		First(&stored).Error; err != nil {
		return nil, fmt.Errorf("load fulfillment record: %w", err)
	}
	return stored.ToDomain(), nil
}

// FindByID finds a record by its ID
func (r *GormFulfillmentRecordRepository) FindByID(ctx context.Context, id string) (*fulfillment.Record, error) {
	recordID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, shared.ErrNotFound)
	}

	var model models.FulfillmentRecordModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", recordID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("record %s: %w", id, shared.ErrNotFound)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// RecordsForOrder returns all records belonging to an order
func (r *GormFulfillmentRecordRepository) RecordsForOrder(ctx context.Context, orderID string) ([]*fulfillment.Record, error) {
	var recordModels []models.FulfillmentRecordModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("line_item_id ASC").
		Find(&recordModels).Error; err != nil {
		return nil, err
	}
	return toDomainRecords(recordModels), nil
}

// FindBySupplierRef returns all records carrying the given supplier order reference
func (r *GormFulfillmentRecordRepository) FindBySupplierRef(ctx context.Context, supplierRef string) ([]*fulfillment.Record, error) {
	var recordModels []models.FulfillmentRecordModel
	if err := r.db.WithContext(ctx).
		Where("supplier_ref = ?", supplierRef).
		Find(&recordModels).Error; err != nil {
		return nil, err
	}
	return toDomainRecords(recordModels), nil
}

// FindRetryable returns failed records whose retry time has passed and whose
// attempt budget is not spent, oldest retry time first
func (r *GormFulfillmentRecordRepository) FindRetryable(ctx context.Context, now time.Time, limit int) ([]*fulfillment.Record, error) {
	var recordModels []models.FulfillmentRecordModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ? AND attempt_count < max_attempts",
			fulfillment.StatusFailed, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&recordModels).Error; err != nil {
		return nil, err
	}
	return toDomainRecords(recordModels), nil
}

// BeginPurchase transitions pending -> purchasing and spends one attempt
func (r *GormFulfillmentRecordRepository) BeginPurchase(ctx context.Context, id string) error {
	return r.transition(ctx, id, []fulfillment.RecordStatus{fulfillment.StatusPending}, map[string]any{
		"status":        fulfillment.StatusPurchasing,
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// RetryPurchase transitions failed -> purchasing and spends one attempt
func (r *GormFulfillmentRecordRepository) RetryPurchase(ctx context.Context, id string) error {
	return r.transition(ctx, id, []fulfillment.RecordStatus{fulfillment.StatusFailed}, map[string]any{
		"status":        fulfillment.StatusPurchasing,
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"next_retry_at": nil,
	})
}

// StoreSupplierRef records the supplier order reference without changing status
func (r *GormFulfillmentRecordRepository) StoreSupplierRef(ctx context.Context, id string, supplierRef string) error {
	recordID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("record %s: %w", id, shared.ErrNotFound)
	}

	result := r.db.WithContext(ctx).
		Model(&models.FulfillmentRecordModel{}).
		Where("id = ?", recordID).
		Update("supplier_ref", supplierRef)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("record %s: %w", id, shared.ErrNotFound)
	}
	return nil
}

// MarkPurchased transitions purchasing -> purchased and stores the supplier
// reference and keys. The keys column only accepts its first non-empty
// write; replays keep the original key set.
func (r *GormFulfillmentRecordRepository) MarkPurchased(ctx context.Context, id string, supplierRef string, keys []supplier.Key) error {
	return r.transition(ctx, id, []fulfillment.RecordStatus{fulfillment.StatusPurchasing}, map[string]any{
		"status":       fulfillment.StatusPurchased,
		"supplier_ref": supplierRef,
		"keys":         gorm.Expr("CASE WHEN keys = '[]' OR keys = '' THEN ? ELSE keys END", models.MarshalKeys(keys)),
		"last_error":   "",
	})
}

// MarkFailed transitions purchasing -> failed. A nil nextRetryAt means the
// failure is permanent and the record is exhausted.
func (r *GormFulfillmentRecordRepository) MarkFailed(ctx context.Context, id string, errorMessage string, nextRetryAt *time.Time) error {
	return r.transition(ctx, id, []fulfillment.RecordStatus{fulfillment.StatusPurchasing}, map[string]any{
		"status":        fulfillment.StatusFailed,
		"last_error":    errorMessage,
		"next_retry_at": nextRetryAt,
	})
}

// BeginDelivery transitions purchased -> delivering
func (r *GormFulfillmentRecordRepository) BeginDelivery(ctx context.Context, id string) error {
	return r.transition(ctx, id, []fulfillment.RecordStatus{fulfillment.StatusPurchased}, map[string]any{
		"status": fulfillment.StatusDelivering,
	})
}

// MarkDelivered transitions delivering -> delivered
func (r *GormFulfillmentRecordRepository) MarkDelivered(ctx context.Context, id string) error {
	return r.transition(ctx, id, []fulfillment.RecordStatus{fulfillment.StatusDelivering}, map[string]any{
		"status": fulfillment.StatusDelivered,
	})
}

// RevertDelivery transitions delivering -> purchased after a channel failure
func (r *GormFulfillmentRecordRepository) RevertDelivery(ctx context.Context, id string) error {
	return r.transition(ctx, id, []fulfillment.RecordStatus{fulfillment.StatusDelivering}, map[string]any{
		"status": fulfillment.StatusPurchased,
	})
}

// MarkCancelled transitions a cancellable record to cancelled. In-flight
// records (purchasing, delivering) must settle first.
func (r *GormFulfillmentRecordRepository) MarkCancelled(ctx context.Context, id string) error {
	return r.transition(ctx, id, []fulfillment.RecordStatus{
		fulfillment.StatusPending,
		fulfillment.StatusPurchased,
		fulfillment.StatusFailed,
	}, map[string]any{
		"status": fulfillment.StatusCancelled,
	})
}

// ResetAttempts clears the attempt budget of a failed record and returns it
// to pending
func (r *GormFulfillmentRecordRepository) ResetAttempts(ctx context.Context, id string) error {
	return r.transition(ctx, id, []fulfillment.RecordStatus{fulfillment.StatusFailed}, map[string]any{
		"status":        fulfillment.StatusPending,
		"attempt_count": 0,
		"next_retry_at": nil,
		"last_error":    "",
	})
}

// transition performs a conditional status update. Zero rows affected means
// either the record is gone (shared.ErrNotFound) or its status changed under
// us (shared.ErrConcurrencyConflict).
func (r *GormFulfillmentRecordRepository) transition(ctx context.Context, id string, from []fulfillment.RecordStatus, updates map[string]any) error {
	recordID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("record %s: %w", id, shared.ErrNotFound)
	}

	result := r.db.WithContext(ctx).
		Model(&models.FulfillmentRecordModel{}).
		Where("id = ? AND status IN ?", recordID, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var current models.FulfillmentRecordModel
	if err := r.db.WithContext(ctx).Select("status").First(&current, "id = ?", recordID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("record %s: %w", id, shared.ErrNotFound)
		}
		return err
	}
	return fmt.Errorf("record %s is %s: %w", id, current.Status, shared.ErrConcurrencyConflict)
}

func toDomainRecords(recordModels []models.FulfillmentRecordModel) []*fulfillment.Record {
	records := make([]*fulfillment.Record, len(recordModels))
	for i := range recordModels {
		records[i] = recordModels[i].ToDomain()
	}
	return records
}

// Ensure the repository satisfies the ledger contract
var _ fulfillment.Repository = (*GormFulfillmentRecordRepository)(nil)
