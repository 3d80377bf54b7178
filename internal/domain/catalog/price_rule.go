package catalog

import (
	"github.com/keysync/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// MarkupMode selects how the retail price is derived from the supplier price
type MarkupMode string

const (
	// MarkupPercentage adds a percentage of the supplier price
	MarkupPercentage MarkupMode = "percentage"
	// MarkupFixed adds a fixed amount per unit
	MarkupFixed MarkupMode = "fixed"
)

// IsValid returns true if the mode is known
func (m MarkupMode) IsValid() bool {
	return m == MarkupPercentage || m == MarkupFixed
}

// PriceRule derives retail prices from supplier prices. It is a value
// object; Apply never mutates the rule.
type PriceRule struct {
	Mode  MarkupMode
	Value decimal.Decimal
}

// NewPriceRule creates a validated price rule
func NewPriceRule(mode MarkupMode, value decimal.Decimal) (PriceRule, error) {
	if !mode.IsValid() {
		return PriceRule{}, shared.NewDomainError("INVALID_MARKUP_MODE", "Markup mode must be percentage or fixed")
	}
	if value.IsNegative() {
		return PriceRule{}, shared.NewDomainError("INVALID_MARKUP_VALUE", "Markup value cannot be negative")
	}
	return PriceRule{Mode: mode, Value: value}, nil
}

// Apply computes the retail price for a supplier price, rounded to cents
func (r PriceRule) Apply(supplierPrice decimal.Decimal) (decimal.Decimal, error) {
	if supplierPrice.IsNegative() {
		return decimal.Zero, shared.NewDomainError("INVALID_PRICE", "Supplier price cannot be negative")
	}

	var retail decimal.Decimal
	switch r.Mode {
	case MarkupPercentage:
		markup := supplierPrice.Mul(r.Value).Div(decimal.NewFromInt(100))
		retail = supplierPrice.Add(markup)
	case MarkupFixed:
		retail = supplierPrice.Add(r.Value)
	default:
		return decimal.Zero, shared.NewDomainError("INVALID_MARKUP_MODE", "Markup mode must be percentage or fixed")
	}

	return retail.Round(2), nil
}
