// Package storefront defines the boundary to the external commerce platform
// that owns customer orders and products. The fulfillment core reads orders
// and annotates them; it never owns them.
package storefront

import (
	"context"
	"errors"
	"time"

	"github.com/keysync/backend/internal/domain/fulfillment"
	"github.com/keysync/backend/internal/domain/supplier"
	"github.com/shopspring/decimal"
)

var (
	// ErrOrderNotFound indicates the platform knows no such order
	ErrOrderNotFound = errors.New("storefront: order not found")
	// ErrOrderNotPaid indicates the order exists but payment has not
	// completed, so fulfillment must not start
	ErrOrderNotPaid = errors.New("storefront: order not paid")
)

// LineItem is one product-quantity pair within a customer order
type LineItem struct {
	ID             string
	LocalProductID string
	// SupplierProductID is resolved through the catalog mapping; empty for
	// items that are not fulfillable through the supplier
	SupplierProductID string
	ProductName       string
	Quantity          int
	UnitPrice         decimal.Decimal
}

// Fulfillable reports whether the item maps to a supplier product
func (li LineItem) Fulfillable() bool {
	return li.SupplierProductID != "" && li.Quantity > 0
}

// Order is the fulfillment core's read model of a paid customer order
type Order struct {
	ID        string
	Currency  string
	Total     decimal.Decimal
	PaidAt    time.Time
	LineItems []LineItem
}

// FulfillableItems returns the line items that need wholesale purchase
func (o Order) FulfillableItems() []LineItem {
	items := make([]LineItem, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		if li.Fulfillable() {
			items = append(items, li)
		}
	}
	return items
}

// OrderCollaborator is the inbound contract with the commerce platform
type OrderCollaborator interface {
	// GetPaidOrder loads a paid order with its line items. Returns
	// ErrOrderNotFound or ErrOrderNotPaid when fulfillment must not proceed.
	GetPaidOrder(ctx context.Context, orderID string) (*Order, error)

	// AnnotateFulfillmentStatus writes the derived fulfillment state back to
	// the platform order so the storefront order page reflects it
	AnnotateFulfillmentStatus(ctx context.Context, orderID string, state fulfillment.OrderState) error

	// AddCustomerVisibleNote attaches a note shown to the customer on the
	// order page
	AddCustomerVisibleNote(ctx context.Context, orderID string, text string) error

	// ListPaidOrdersWithoutFulfillment returns IDs of paid orders for which
	// fulfillment was never initiated. Backstop for missed payment hooks.
	ListPaidOrdersWithoutFulfillment(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// NotificationCollaborator delivers operator alerts. Both calls are
// fire-and-forget best effort; failures are logged, never propagated.
type NotificationCollaborator interface {
	SendLowBalanceAlert(ctx context.Context, balance decimal.Decimal, currency string) error
	SendOrderFailureAlert(ctx context.Context, orderID string, details string) error
}

// KeyDeliveryChannel hands procured keys to the customer (email, account
// page). The dispatcher guarantees idempotent triggering; the channel itself
// may deliver more than once.
type KeyDeliveryChannel interface {
	DeliverKeys(ctx context.Context, orderID string, keys []supplier.Key) error
}
