package fulfillment

import (
	"fmt"
	"time"

	"github.com/keysync/backend/internal/domain/shared"
	"github.com/keysync/backend/internal/domain/supplier"
)

// RecordStatus represents the lifecycle state of a fulfillment record
type RecordStatus string

const (
	StatusPending    RecordStatus = "pending"
	StatusPurchasing RecordStatus = "purchasing"
	StatusPurchased  RecordStatus = "purchased"
	StatusDelivering RecordStatus = "delivering"
	StatusDelivered  RecordStatus = "delivered"
	StatusFailed     RecordStatus = "failed"
	StatusCancelled  RecordStatus = "cancelled"
)

// IsValid checks if the status is a known value
func (s RecordStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusPurchasing, StatusPurchased,
		StatusDelivering, StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// String returns the string representation
func (s RecordStatus) String() string {
	return string(s)
}

// CanTransitionTo checks if a transition to the target status is allowed.
// Transitions are strictly forward except failed -> pending, which a retry
// uses to re-enter the purchase path.
func (s RecordStatus) CanTransitionTo(target RecordStatus) bool {
	allowed, ok := recordTransitions[s]
	if !ok {
		return false
	}
	for _, t := range allowed {
		if t == target {
			return true
		}
	}
	return false
}

var recordTransitions = map[RecordStatus][]RecordStatus{
	StatusPending:    {StatusPurchasing, StatusCancelled},
	StatusPurchasing: {StatusPurchased, StatusFailed},
	StatusPurchased:  {StatusDelivering, StatusCancelled},
	StatusDelivering: {StatusDelivered, StatusPurchased},
	StatusDelivered:  {},
	StatusFailed:     {StatusPending, StatusCancelled},
	StatusCancelled:  {},
}

// Record is the ledger entry for one (order, line item) fulfillment attempt.
// It is the single source of truth for "has this been purchased" and
// "has this been delivered".
type Record struct {
	shared.BaseEntity
	OrderID           string
	LineItemID        string
	ProductName       string
	SupplierProductID string
	Quantity          int
	Status            RecordStatus
	SupplierRef       string
	Keys              []supplier.Key
	AttemptCount      int
	MaxAttempts       int
	LastError         string
	NextRetryAt       *time.Time
}

// NewRecord creates a pending fulfillment record for an order line item
func NewRecord(orderID, lineItemID, productName, supplierProductID string, quantity, maxAttempts int) (*Record, error) {
	if orderID == "" {
		return nil, shared.NewDomainError("INVALID_ORDER_ID", "Order ID cannot be empty")
	}
	if lineItemID == "" {
		return nil, shared.NewDomainError("INVALID_LINE_ITEM_ID", "Line item ID cannot be empty")
	}
	if supplierProductID == "" {
		return nil, shared.NewDomainError("INVALID_SUPPLIER_PRODUCT", "Supplier product ID cannot be empty")
	}
	if quantity <= 0 {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Quantity must be positive")
	}
	if maxAttempts <= 0 {
		return nil, shared.NewDomainError("INVALID_MAX_ATTEMPTS", "Max attempts must be positive")
	}

	return &Record{
		BaseEntity:        shared.NewBaseEntity(),
		OrderID:           orderID,
		LineItemID:        lineItemID,
		ProductName:       productName,
		SupplierProductID: supplierProductID,
		Quantity:          quantity,
		Status:            StatusPending,
		MaxAttempts:       maxAttempts,
	}, nil
}

// IdempotencyKey returns the deterministic token sent with purchase requests
// so a retried call after a lost response cannot create a second supplier order.
func (r *Record) IdempotencyKey() string {
	return fmt.Sprintf("%s_%s", r.OrderID, r.LineItemID)
}

// IsTerminal reports whether the record can make no further progress.
// Delivered and cancelled are always terminal; failed is terminal once the
// attempt budget is exhausted.
func (r *Record) IsTerminal() bool {
	switch r.Status {
	case StatusDelivered, StatusCancelled:
		return true
	case StatusFailed:
		return r.IsExhausted()
	}
	return false
}

// IsExhausted reports whether a failed record can no longer be retried
// automatically: either the attempt budget is used up, or the failure was
// permanent and no retry was ever scheduled
func (r *Record) IsExhausted() bool {
	if r.Status != StatusFailed {
		return false
	}
	return r.AttemptCount >= r.MaxAttempts || r.NextRetryAt == nil
}

// IsRetryable reports whether the record is eligible for another purchase
// attempt at the given time
func (r *Record) IsRetryable(now time.Time) bool {
	if r.Status != StatusFailed || r.IsExhausted() {
		return false
	}
	return !now.Before(*r.NextRetryAt)
}

// HasKeys reports whether procured keys have been recorded
func (r *Record) HasKeys() bool {
	return len(r.Keys) > 0
}
