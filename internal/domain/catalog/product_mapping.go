package catalog

import (
	"time"

	"github.com/keysync/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ProductMapping links a local storefront product to a supplier catalog
// entry. Only mapped products are fulfillable; the mapping also carries the
// last known supplier price and stock so the storefront can be refreshed
// without a supplier round-trip.
type ProductMapping struct {
	shared.BaseEntity
	LocalProductID    string
	SupplierProductID string
	Name              string
	Platform          string
	Region            string
	SupplierPrice     decimal.Decimal
	RetailPrice       decimal.Decimal
	Currency          string
	StockQuantity     int
	Enabled           bool
	LastSyncedAt      *time.Time
}

// NewProductMapping creates an enabled mapping between a local product and a
// supplier product
func NewProductMapping(localProductID, supplierProductID, name string) (*ProductMapping, error) {
	if localProductID == "" {
		return nil, shared.NewDomainError("INVALID_LOCAL_PRODUCT", "Local product ID cannot be empty")
	}
	if supplierProductID == "" {
		return nil, shared.NewDomainError("INVALID_SUPPLIER_PRODUCT", "Supplier product ID cannot be empty")
	}
	if name == "" {
		return nil, shared.NewDomainError("INVALID_PRODUCT_NAME", "Product name cannot be empty")
	}

	return &ProductMapping{
		BaseEntity:        shared.NewBaseEntity(),
		LocalProductID:    localProductID,
		SupplierProductID: supplierProductID,
		Name:              name,
		SupplierPrice:     decimal.Zero,
		RetailPrice:       decimal.Zero,
		Enabled:           true,
	}, nil
}

// ApplyPriceAndStock records a fresh supplier price and stock level and
// recomputes the retail price with the given rule
func (m *ProductMapping) ApplyPriceAndStock(supplierPrice decimal.Decimal, stock int, rule PriceRule) error {
	if supplierPrice.IsNegative() {
		return shared.NewDomainError("INVALID_PRICE", "Supplier price cannot be negative")
	}
	if stock < 0 {
		return shared.NewDomainError("INVALID_STOCK", "Stock quantity cannot be negative")
	}

	retail, err := rule.Apply(supplierPrice)
	if err != nil {
		return err
	}

	now := time.Now()
	m.SupplierPrice = supplierPrice
	m.RetailPrice = retail
	m.StockQuantity = stock
	m.LastSyncedAt = &now
	m.UpdatedAt = now
	return nil
}

// InStock reports whether the supplier can currently fulfill the product
func (m *ProductMapping) InStock() bool {
	return m.Enabled && m.StockQuantity > 0
}

// Disable takes the mapping out of fulfillment, keeping it for history
func (m *ProductMapping) Disable() {
	m.Enabled = false
	m.UpdatedAt = time.Now()
}
