package handler

import (
	"time"

	"github.com/keysync/backend/internal/domain/fulfillment"
	"github.com/keysync/backend/internal/domain/supplier"
)

// KeyResponse is one procured activation key
type KeyResponse struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Platform    string `json:"platform,omitempty"`
	Region      string `json:"region,omitempty"`
}

// FulfillmentRecordResponse is one line item's fulfillment state
type FulfillmentRecordResponse struct {
	ID                string       `json:"id"`
	OrderID           string       `json:"order_id"`
	LineItemID        string       `json:"line_item_id"`
	ProductName       string       `json:"product_name"`
	SupplierProductID string       `json:"supplier_product_id"`
	Quantity          int          `json:"quantity"`
	Status            string       `json:"status"`
	SupplierRef       string       `json:"supplier_ref,omitempty"`
	Keys              []KeyResponse `json:"keys,omitempty"`
	AttemptCount      int          `json:"attempt_count"`
	MaxAttempts       int          `json:"max_attempts"`
	Exhausted         bool         `json:"exhausted"`
	LastError         string       `json:"last_error,omitempty"`
	NextRetryAt       *time.Time   `json:"next_retry_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// OrderFulfillmentResponse is the full fulfillment view of an order
type OrderFulfillmentResponse struct {
	OrderID string                      `json:"order_id"`
	State   string                      `json:"state"`
	Records []FulfillmentRecordResponse `json:"records"`
}

// FulfillmentStateResponse reports the derived order state after a pass
type FulfillmentStateResponse struct {
	OrderID string `json:"order_id"`
	State   string `json:"state"`
}

// BalanceResponse is the wholesale account balance
type BalanceResponse struct {
	Current  string `json:"current"`
	Credit   string `json:"credit"`
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

func toKeyResponses(keys []supplier.Key) []KeyResponse {
	if len(keys) == 0 {
		return nil
	}
	out := make([]KeyResponse, len(keys))
	for i, k := range keys {
		out[i] = KeyResponse{
			Code:        k.Code,
			Description: k.Description,
			Platform:    k.Platform,
			Region:      k.Region,
		}
	}
	return out
}

func toRecordResponse(rec *fulfillment.Record) FulfillmentRecordResponse {
	return FulfillmentRecordResponse{
		ID:                rec.ID.String(),
		OrderID:           rec.OrderID,
		LineItemID:        rec.LineItemID,
		ProductName:       rec.ProductName,
		SupplierProductID: rec.SupplierProductID,
		Quantity:          rec.Quantity,
		Status:            rec.Status.String(),
		SupplierRef:       rec.SupplierRef,
		Keys:              toKeyResponses(rec.Keys),
		AttemptCount:      rec.AttemptCount,
		MaxAttempts:       rec.MaxAttempts,
		Exhausted:         rec.IsExhausted(),
		LastError:         rec.LastError,
		NextRetryAt:       rec.NextRetryAt,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}
}
