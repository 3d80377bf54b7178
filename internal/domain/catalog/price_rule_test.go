package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPriceRule(t *testing.T) {
	_, err := NewPriceRule("discount", decimal.NewFromInt(10))
	assert.Error(t, err)

	_, err = NewPriceRule(MarkupPercentage, decimal.NewFromInt(-5))
	assert.Error(t, err)

	rule, err := NewPriceRule(MarkupFixed, decimal.NewFromFloat(1.50))
	require.NoError(t, err)
	assert.Equal(t, MarkupFixed, rule.Mode)
}

func TestPriceRule_Apply(t *testing.T) {
	tests := []struct {
		name     string
		mode     MarkupMode
		value    string
		supplier string
		want     string
	}{
		{"twenty percent markup", MarkupPercentage, "20", "10.00", "12"},
		{"percentage rounds to cents", MarkupPercentage, "15", "9.99", "11.49"},
		{"fixed markup", MarkupFixed, "2.50", "10.00", "12.5"},
		{"zero markup keeps price", MarkupPercentage, "0", "7.49", "7.49"},
		{"free product with fixed markup", MarkupFixed, "1.99", "0", "1.99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := NewPriceRule(tt.mode, decimal.RequireFromString(tt.value))
			require.NoError(t, err)

			got, err := rule.Apply(decimal.RequireFromString(tt.supplier))
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
				"got %s want %s", got, tt.want)
		})
	}
}

func TestPriceRule_ApplyNegativePrice(t *testing.T) {
	rule, err := NewPriceRule(MarkupPercentage, decimal.NewFromInt(10))
	require.NoError(t, err)

	_, err = rule.Apply(decimal.NewFromInt(-1))
	assert.Error(t, err)
}

func TestProductMapping_ApplyPriceAndStock(t *testing.T) {
	m, err := NewProductMapping("wc-100", "sp-200", "Cyber Quest II")
	require.NoError(t, err)
	assert.False(t, m.InStock())

	rule, err := NewPriceRule(MarkupPercentage, decimal.NewFromInt(25))
	require.NoError(t, err)

	require.NoError(t, m.ApplyPriceAndStock(decimal.RequireFromString("8.00"), 40, rule))
	assert.True(t, m.RetailPrice.Equal(decimal.RequireFromString("10")))
	assert.Equal(t, 40, m.StockQuantity)
	assert.True(t, m.InStock())
	assert.NotNil(t, m.LastSyncedAt)

	// Out of stock after refresh to zero
	require.NoError(t, m.ApplyPriceAndStock(decimal.RequireFromString("8.00"), 0, rule))
	assert.False(t, m.InStock())

	// Disabled mappings never report stock
	require.NoError(t, m.ApplyPriceAndStock(decimal.RequireFromString("8.00"), 10, rule))
	m.Disable()
	assert.False(t, m.InStock())
}
