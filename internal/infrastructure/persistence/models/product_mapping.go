package models

import (
	"time"

	"github.com/keysync/backend/internal/domain/catalog"
	"github.com/shopspring/decimal"
)

// ProductMappingModel is the persistence model for catalog product mappings
type ProductMappingModel struct {
	BaseModel
	LocalProductID    string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_mapping_local_product"`
	SupplierProductID string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_mapping_supplier_product"`
	Name              string          `gorm:"type:varchar(255);not null"`
	Platform          string          `gorm:"type:varchar(50)"`
	Region            string          `gorm:"type:varchar(50)"`
	SupplierPrice     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	RetailPrice       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	Currency          string          `gorm:"type:varchar(3)"`
	StockQuantity     int             `gorm:"not null;default:0"`
	Enabled           bool            `gorm:"not null;default:true;index:idx_mapping_enabled"`
	LastSyncedAt      *time.Time
}

// TableName returns the table name for GORM
func (ProductMappingModel) TableName() string {
	return "product_mappings"
}

// ToDomain converts the persistence model to a domain ProductMapping
func (m *ProductMappingModel) ToDomain() *catalog.ProductMapping {
	return &catalog.ProductMapping{
		BaseEntity:        m.BaseModel.ToDomain(),
		LocalProductID:    m.LocalProductID,
		SupplierProductID: m.SupplierProductID,
		Name:              m.Name,
		Platform:          m.Platform,
		Region:            m.Region,
		SupplierPrice:     m.SupplierPrice,
		RetailPrice:       m.RetailPrice,
		Currency:          m.Currency,
		StockQuantity:     m.StockQuantity,
		Enabled:           m.Enabled,
		LastSyncedAt:      m.LastSyncedAt,
	}
}

// FromDomain populates the persistence model from a domain ProductMapping
func (m *ProductMappingModel) FromDomain(mapping *catalog.ProductMapping) {
	m.FromDomainBaseEntity(mapping.BaseEntity)
	m.LocalProductID = mapping.LocalProductID
	m.SupplierProductID = mapping.SupplierProductID
	m.Name = mapping.Name
	m.Platform = mapping.Platform
	m.Region = mapping.Region
	m.SupplierPrice = mapping.SupplierPrice
	m.RetailPrice = mapping.RetailPrice
	m.Currency = mapping.Currency
	m.StockQuantity = mapping.StockQuantity
	m.Enabled = mapping.Enabled
	m.LastSyncedAt = mapping.LastSyncedAt
}
