package supplier

import (
	"encoding/json"
	"errors"
	"time"
)

// EventType identifies a supplier push notification
type EventType string

const (
	// EventStockAndPriceChange signals new wholesale price and/or stock
	// for a product
	EventStockAndPriceChange EventType = "stockAndPriceChange"
	// EventProductUpdate signals changed product metadata
	EventProductUpdate EventType = "productUpdate"
	// EventPreorderAssigned signals that keys for a pre-order purchase have
	// become available, possibly long after the original purchase
	EventPreorderAssigned EventType = "preorderAssigned"
)

// IsValid returns true if the event type is known
func (t EventType) IsValid() bool {
	switch t {
	case EventStockAndPriceChange, EventProductUpdate, EventPreorderAssigned:
		return true
	default:
		return false
	}
}

// String returns the string representation of EventType
func (t EventType) String() string {
	return string(t)
}

// ErrMalformedEvent indicates a payload that cannot be parsed into a
// well-formed event
var ErrMalformedEvent = errors.New("supplier: malformed webhook event")

// Event is one verified supplier push notification
type Event struct {
	// ID is the supplier-assigned event identifier, used for replay
	// deduplication
	ID string `json:"id"`
	// Type discriminates the payload
	Type EventType `json:"type"`
	// ProductID is set for product-scoped events
	ProductID string `json:"productId,omitempty"`
	// SupplierRef is set for order-scoped events (preorderAssigned)
	SupplierRef string `json:"orderId,omitempty"`
	// OccurredAt is the supplier-side event time
	OccurredAt time.Time `json:"occurredAt"`
}

// ParseEvent decodes and validates a raw webhook payload. A payload that
// decodes but lacks an ID, a known type, or the subject identifier its type
// requires is rejected as malformed.
func ParseEvent(payload []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	if evt.ID == "" || !evt.Type.IsValid() {
		return nil, ErrMalformedEvent
	}
	switch evt.Type {
	case EventStockAndPriceChange, EventProductUpdate:
		if evt.ProductID == "" {
			return nil, ErrMalformedEvent
		}
	case EventPreorderAssigned:
		if evt.SupplierRef == "" {
			return nil, ErrMalformedEvent
		}
	}
	return &evt, nil
}
