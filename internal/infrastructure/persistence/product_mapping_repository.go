package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/keysync/backend/internal/domain/catalog"
	"github.com/keysync/backend/internal/domain/shared"
	"github.com/keysync/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormProductMappingRepository implements the catalog repository using GORM
type GormProductMappingRepository struct {
	db *gorm.DB
}

// NewGormProductMappingRepository creates a new GormProductMappingRepository
func NewGormProductMappingRepository(db *gorm.DB) *GormProductMappingRepository {
	return &GormProductMappingRepository{db: db}
}

// Save inserts the mapping, or updates it when the local product is already
// mapped. Catalog imports re-run the same feed, so upsert on the local
// product keeps them idempotent.
func (r *GormProductMappingRepository) Save(ctx context.Context, mapping *catalog.ProductMapping) error {
	var model models.ProductMappingModel
	model.FromDomain(mapping)

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "local_product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"supplier_product_id", "name", "platform", "region",
				"supplier_price", "retail_price", "currency",
				"stock_quantity", "enabled", "last_synced_at", "updated_at",
			}),
		}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("save product mapping %s: %w", mapping.LocalProductID, err)
	}
	return nil
}

// FindByLocalProduct returns the mapping for a local product ID
func (r *GormProductMappingRepository) FindByLocalProduct(ctx context.Context, localProductID string) (*catalog.ProductMapping, error) {
	var model models.ProductMappingModel
	if err := r.db.WithContext(ctx).
		First(&model, "local_product_id = ?", localProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("mapping for product %s: %w", localProductID, shared.ErrNotFound)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindBySupplierProduct returns the mapping for a supplier product ID
func (r *GormProductMappingRepository) FindBySupplierProduct(ctx context.Context, supplierProductID string) (*catalog.ProductMapping, error) {
	var model models.ProductMappingModel
	if err := r.db.WithContext(ctx).
		First(&model, "supplier_product_id = ?", supplierProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("mapping for supplier product %s: %w", supplierProductID, shared.ErrNotFound)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// List returns mappings ordered by name with offset pagination
func (r *GormProductMappingRepository) List(ctx context.Context, offset, limit int) ([]*catalog.ProductMapping, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.ProductMappingModel{}).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var mappingModels []models.ProductMappingModel
	if err := r.db.WithContext(ctx).
		Order("name ASC").
		Offset(offset).
		Limit(limit).
		Find(&mappingModels).Error; err != nil {
		return nil, 0, err
	}
	return toDomainMappings(mappingModels), total, nil
}

// ListEnabled returns all enabled mappings
func (r *GormProductMappingRepository) ListEnabled(ctx context.Context) ([]*catalog.ProductMapping, error) {
	var mappingModels []models.ProductMappingModel
	if err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("name ASC").
		Find(&mappingModels).Error; err != nil {
		return nil, err
	}
	return toDomainMappings(mappingModels), nil
}

func toDomainMappings(mappingModels []models.ProductMappingModel) []*catalog.ProductMapping {
	mappings := make([]*catalog.ProductMapping, len(mappingModels))
	for i := range mappingModels {
		mappings[i] = mappingModels[i].ToDomain()
	}
	return mappings
}

// Ensure the repository satisfies the catalog contract
var _ catalog.Repository = (*GormProductMappingRepository)(nil)
