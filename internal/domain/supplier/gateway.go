package supplier

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// OrderStatus represents the status of an order on the supplier side
// ---------------------------------------------------------------------------

// OrderStatus represents the status of a wholesale order at the supplier
type OrderStatus string

const (
	// OrderStatusProcessing indicates the supplier is still preparing the order
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusCompleted indicates all keys have been assigned
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusPreorder indicates keys will be assigned at product release
	OrderStatusPreorder OrderStatus = "PREORDER"
	// OrderStatusCancelled indicates the order was cancelled at the supplier
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsValid returns true if the status is valid
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusProcessing, OrderStatusCompleted, OrderStatusPreorder, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of OrderStatus
func (s OrderStatus) String() string {
	return string(s)
}

// IsFinal returns true if the supplier will make no further changes to the order
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// ---------------------------------------------------------------------------
// Value Objects
// ---------------------------------------------------------------------------

// Key is one procured digital key as returned by the supplier
type Key struct {
	// Code is the activation code delivered to the customer
	Code string `json:"code"`
	// Description is the supplier's human-readable key description
	Description string `json:"description"`
	// Platform is the activation platform (e.g. Steam, Origin)
	Platform string `json:"platform"`
	// Region is the activation region restriction
	Region string `json:"region"`
}

// PurchaseRequest describes one wholesale purchase for a single line item
type PurchaseRequest struct {
	// SupplierProductID identifies the product in the supplier catalog
	SupplierProductID string
	// Quantity is the number of keys to purchase
	Quantity int
	// MaxUnitPrice is the highest acceptable wholesale price per key;
	// zero means no limit
	MaxUnitPrice decimal.Decimal
	// Currency is the purchase currency (ISO 4217)
	Currency string
	// IdempotencyKey is the deterministic client order identifier; the
	// supplier deduplicates purchases on it, so a retried request after a
	// lost response returns the original order instead of creating a new one
	IdempotencyKey string
}

// PurchaseResult is the normalized outcome of a purchase call
type PurchaseResult struct {
	// SupplierRef is the supplier-side order identifier
	SupplierRef string
	// Status is the supplier order status after the purchase
	Status OrderStatus
	// Keys holds the procured keys; empty while Status is PROCESSING
	// or PREORDER
	Keys []Key
	// TotalPrice is the charged wholesale amount
	TotalPrice decimal.Decimal
}

// Balance is the wholesale account balance
type Balance struct {
	// Current is the available balance
	Current decimal.Decimal
	// Credit is the supplier-granted credit limit on top of the balance
	Credit decimal.Decimal
	// Currency is the account currency (ISO 4217)
	Currency string
}

// Total returns the full spendable amount
func (b Balance) Total() decimal.Decimal {
	return b.Current.Add(b.Credit)
}

// Product is one supplier catalog entry
type Product struct {
	// ProductID identifies the product in the supplier catalog
	ProductID string
	// Name is the product title
	Name string
	// Platform is the activation platform
	Platform string
	// Regions lists the activation regions the product is sold for
	Regions []string
	// Price is the current wholesale price per key
	Price decimal.Decimal
	// Currency is the price currency
	Currency string
	// StockQuantity is the number of keys in supplier stock
	StockQuantity int
	// ReleasedAt is the product release date; future for pre-orders
	ReleasedAt time.Time
}

// ---------------------------------------------------------------------------
// Gateway
// ---------------------------------------------------------------------------

// Gateway is the boundary to the wholesale supplier API. Implementations are
// pure I/O: they authenticate, translate requests, classify errors, and hold
// no business state. All blocking calls honor the context deadline.
type Gateway interface {
	// Purchase places a wholesale order for one line item. Implementations
	// must pass the idempotency key through to the supplier; when the
	// supplier cannot deduplicate natively, the implementation checks
	// OrderStatus for an existing reference before purchasing fresh.
	Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error)

	// OrderStatus fetches the current supplier-side status and any assigned
	// keys for a previously placed order
	OrderStatus(ctx context.Context, supplierRef string) (*PurchaseResult, error)

	// CancelOrder cancels a supplier order. Cancelling an already completed
	// order returns ErrOrderNotCancellable.
	CancelOrder(ctx context.Context, supplierRef string) error

	// AccountBalance fetches the wholesale account balance
	AccountBalance(ctx context.Context) (*Balance, error)

	// ListProducts pages through the supplier catalog
	ListProducts(ctx context.Context, page, pageSize int) ([]Product, error)

	// GetProduct fetches a single supplier catalog entry
	GetProduct(ctx context.Context, productID string) (*Product, error)
}
