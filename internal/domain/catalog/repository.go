package catalog

import "context"

// Repository provides persistence for product mappings
type Repository interface {
	// Save inserts or updates a mapping
	Save(ctx context.Context, mapping *ProductMapping) error

	// FindByLocalProduct returns the mapping for a local product ID, or
	// shared.ErrNotFound
	FindByLocalProduct(ctx context.Context, localProductID string) (*ProductMapping, error)

	// FindBySupplierProduct returns the mapping for a supplier product ID,
	// or shared.ErrNotFound
	FindBySupplierProduct(ctx context.Context, supplierProductID string) (*ProductMapping, error)

	// List returns mappings ordered by name with offset pagination
	List(ctx context.Context, offset, limit int) ([]*ProductMapping, int64, error)

	// ListEnabled returns all enabled mappings
	ListEnabled(ctx context.Context) ([]*ProductMapping, error)
}
