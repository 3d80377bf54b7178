package persistence

import (
	"context"
	"testing"

	"github.com/keysync/backend/internal/domain/catalog"
	"github.com/keysync/backend/internal/domain/shared"
	"github.com/keysync/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newMappingRepository(t *testing.T) *GormProductMappingRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.ProductMappingModel{})
	require.NoError(t, err)

	return NewGormProductMappingRepository(db)
}

func newMapping(t *testing.T, localID, supplierID, name string) *catalog.ProductMapping {
	t.Helper()
	mapping, err := catalog.NewProductMapping(localID, supplierID, name)
	require.NoError(t, err)
	mapping.Currency = "EUR"
	return mapping
}

func TestProductMappingRepository_SaveAndFind(t *testing.T) {
	repo := newMappingRepository(t)
	ctx := context.Background()

	mapping := newMapping(t, "prod-1", "sp-42", "Cyber Quest II")
	mapping.Platform = "Steam"
	require.NoError(t, repo.Save(ctx, mapping))

	byLocal, err := repo.FindByLocalProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "sp-42", byLocal.SupplierProductID)
	assert.Equal(t, "Steam", byLocal.Platform)
	assert.True(t, byLocal.Enabled)

	bySupplier, err := repo.FindBySupplierProduct(ctx, "sp-42")
	require.NoError(t, err)
	assert.Equal(t, "prod-1", bySupplier.LocalProductID)

	_, err = repo.FindByLocalProduct(ctx, "prod-unknown")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestProductMappingRepository_SaveIsUpsert(t *testing.T) {
	repo := newMappingRepository(t)
	ctx := context.Background()

	mapping := newMapping(t, "prod-1", "sp-42", "Cyber Quest II")
	require.NoError(t, repo.Save(ctx, mapping))

	rule, err := catalog.NewPriceRule(catalog.MarkupPercentage, decimal.NewFromInt(20))
	require.NoError(t, err)
	require.NoError(t, mapping.ApplyPriceAndStock(decimal.RequireFromString("7.99"), 12, rule))
	require.NoError(t, repo.Save(ctx, mapping))

	stored, err := repo.FindByLocalProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.True(t, stored.SupplierPrice.Equal(decimal.RequireFromString("7.99")))
	assert.True(t, stored.RetailPrice.Equal(decimal.RequireFromString("9.59")))
	assert.Equal(t, 12, stored.StockQuantity)

	_, total, err := repo.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestProductMappingRepository_List(t *testing.T) {
	repo := newMappingRepository(t)
	ctx := context.Background()

	names := []string{"Alpha Strike", "Beta Ridge", "Crystal March"}
	for i, name := range names {
		mapping := newMapping(t, "prod-"+name, "sp-"+name, name)
		if i == 2 {
			mapping.Disable()
		}
		require.NoError(t, repo.Save(ctx, mapping))
	}

	page, total, err := repo.List(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 2)
	assert.Equal(t, "Alpha Strike", page[0].Name)
	assert.Equal(t, "Beta Ridge", page[1].Name)

	rest, _, err := repo.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "Crystal March", rest[0].Name)

	enabled, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 2)
}
