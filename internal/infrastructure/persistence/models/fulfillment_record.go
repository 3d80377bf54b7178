package models

import (
	"encoding/json"
	"time"

	"github.com/keysync/backend/internal/domain/fulfillment"
	"github.com/keysync/backend/internal/domain/supplier"
	"github.com/google/uuid"
)

// FulfillmentRecordModel is the persistence model for the ledger's
// FulfillmentRecord entity. One row per (order, line item), unique.
type FulfillmentRecordModel struct {
	ID                uuid.UUID               `gorm:"type:uuid;primary_key"`
	OrderID           string                  `gorm:"type:varchar(64);not null;uniqueIndex:idx_fulfillment_order_item,priority:1;index:idx_fulfillment_order"`
	LineItemID        string                  `gorm:"type:varchar(64);not null;uniqueIndex:idx_fulfillment_order_item,priority:2"`
	ProductName       string                  `gorm:"type:varchar(255)"`
	SupplierProductID string                  `gorm:"type:varchar(100);not null"`
	Quantity          int                     `gorm:"not null;default:1"`
	Status            fulfillment.RecordStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_fulfillment_status"`
	SupplierRef       string                  `gorm:"type:varchar(100);index:idx_fulfillment_supplier_ref"`
	KeysJSON          string                  `gorm:"type:jsonb;column:keys;not null;default:'[]'"`
	AttemptCount      int                     `gorm:"not null;default:0"`
	MaxAttempts       int                     `gorm:"not null;default:3"`
	LastError         string                  `gorm:"type:text"`
	NextRetryAt       *time.Time              `gorm:"index:idx_fulfillment_next_retry"`
	CreatedAt         time.Time               `gorm:"not null"`
	UpdatedAt         time.Time               `gorm:"not null"`
}

// TableName returns the table name for GORM
func (FulfillmentRecordModel) TableName() string {
	return "fulfillment_records"
}

// ToDomain converts the persistence model to a domain Record
func (m *FulfillmentRecordModel) ToDomain() *fulfillment.Record {
	rec := &fulfillment.Record{
		OrderID:           m.OrderID,
		LineItemID:        m.LineItemID,
		ProductName:       m.ProductName,
		SupplierProductID: m.SupplierProductID,
		Quantity:          m.Quantity,
		Status:            m.Status,
		SupplierRef:       m.SupplierRef,
		AttemptCount:      m.AttemptCount,
		MaxAttempts:       m.MaxAttempts,
		LastError:         m.LastError,
		NextRetryAt:       m.NextRetryAt,
	}
	rec.ID = m.ID
	rec.CreatedAt = m.CreatedAt
	rec.UpdatedAt = m.UpdatedAt

	if m.KeysJSON != "" {
		var keys []supplier.Key
		if err := json.Unmarshal([]byte(m.KeysJSON), &keys); err == nil {
			rec.Keys = keys
		}
	}
	return rec
}

// FromDomain populates the persistence model from a domain Record
func (m *FulfillmentRecordModel) FromDomain(rec *fulfillment.Record) {
	m.ID = rec.ID
	m.OrderID = rec.OrderID
	m.LineItemID = rec.LineItemID
	m.ProductName = rec.ProductName
	m.SupplierProductID = rec.SupplierProductID
	m.Quantity = rec.Quantity
	m.Status = rec.Status
	m.SupplierRef = rec.SupplierRef
	m.AttemptCount = rec.AttemptCount
	m.MaxAttempts = rec.MaxAttempts
	m.LastError = rec.LastError
	m.NextRetryAt = rec.NextRetryAt
	m.CreatedAt = rec.CreatedAt
	m.UpdatedAt = rec.UpdatedAt
	m.KeysJSON = MarshalKeys(rec.Keys)
}

// MarshalKeys serializes procured keys for the jsonb column
func MarshalKeys(keys []supplier.Key) string {
	if len(keys) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(keys)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}
