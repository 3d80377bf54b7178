package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/keysync/backend/internal/domain/catalog"
	"github.com/keysync/backend/internal/domain/shared"
	"github.com/keysync/backend/internal/domain/supplier"
)

// importPageSize is how many supplier catalog entries are pulled per page
const importPageSize = 100

// ImportSummary reports the outcome of a catalog import run
type ImportSummary struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Disabled int `json:"disabled"`
	Pages    int `json:"pages"`
}

// CatalogService keeps the local product mappings in sync with the supplier
// catalog: it imports new supplier products, refreshes prices and stock, and
// applies the configured retail markup.
type CatalogService struct {
	mappings catalog.Repository
	gateway  supplier.Gateway
	rule     catalog.PriceRule
	logger   *zap.Logger
}

// NewCatalogService creates a new CatalogService
func NewCatalogService(mappings catalog.Repository, gateway supplier.Gateway, rule catalog.PriceRule, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{
		mappings: mappings,
		gateway:  gateway,
		rule:     rule,
		logger:   logger.Named("catalog-service"),
	}
}

// ImportProducts pages through the supplier catalog and upserts a mapping
// per supplier product. New products are mapped one-to-one onto a local
// product ID derived from the supplier ID until an operator rebinds them.
func (s *CatalogService) ImportProducts(ctx context.Context) (*ImportSummary, error) {
	summary := &ImportSummary{}

	for page := 1; ; page++ {
		products, err := s.gateway.ListProducts(ctx, page, importPageSize)
		if err != nil {
			return summary, fmt.Errorf("list supplier products page %d: %w", page, err)
		}
		if len(products) == 0 {
			break
		}
		summary.Pages++

		for i := range products {
			created, err := s.upsertProduct(ctx, &products[i])
			if err != nil {
				return summary, err
			}
			if created {
				summary.Created++
			} else {
				summary.Updated++
			}
		}

		if len(products) < importPageSize {
			break
		}
	}

	s.logger.Info("catalog import finished",
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("pages", summary.Pages),
	)
	return summary, nil
}

// RefreshFromSupplier refreshes the mapping for a single supplier product.
// An unmapped product is not an error; the event is simply ignored. A
// discontinued product disables its mapping.
func (s *CatalogService) RefreshFromSupplier(ctx context.Context, supplierProductID string) error {
	mapping, err := s.mappings.FindBySupplierProduct(ctx, supplierProductID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Debug("refresh for unmapped supplier product ignored",
				zap.String("supplier_product_id", supplierProductID),
			)
			return nil
		}
		return fmt.Errorf("load mapping for %s: %w", supplierProductID, err)
	}

	product, err := s.gateway.GetProduct(ctx, supplierProductID)
	if err != nil {
		if errors.Is(err, supplier.ErrProductDiscontinued) || errors.Is(err, supplier.ErrInvalidProduct) {
			mapping.Disable()
			if saveErr := s.mappings.Save(ctx, mapping); saveErr != nil {
				return fmt.Errorf("disable mapping %s: %w", supplierProductID, saveErr)
			}
			s.logger.Warn("mapping disabled, supplier product gone",
				zap.String("supplier_product_id", supplierProductID),
				zap.String("local_product_id", mapping.LocalProductID),
			)
			return nil
		}
		return fmt.Errorf("fetch supplier product %s: %w", supplierProductID, err)
	}

	if err := s.applyProduct(mapping, product); err != nil {
		return err
	}
	if err := s.mappings.Save(ctx, mapping); err != nil {
		return fmt.Errorf("save mapping %s: %w", supplierProductID, err)
	}

	s.logger.Info("mapping refreshed",
		zap.String("supplier_product_id", supplierProductID),
		zap.String("retail_price", mapping.RetailPrice.String()),
		zap.Int("stock", mapping.StockQuantity),
	)
	return nil
}

// RefreshAll refreshes every enabled mapping from the supplier catalog.
// Failures on individual products are logged and skipped so one bad entry
// does not starve the rest.
func (s *CatalogService) RefreshAll(ctx context.Context) (int, error) {
	mappings, err := s.mappings.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("list enabled mappings: %w", err)
	}

	refreshed := 0
	for _, mapping := range mappings {
		if err := s.RefreshFromSupplier(ctx, mapping.SupplierProductID); err != nil {
			s.logger.Error("mapping refresh failed",
				zap.String("supplier_product_id", mapping.SupplierProductID),
				zap.Error(err),
			)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// ListMappings returns a page of mappings with the total count
func (s *CatalogService) ListMappings(ctx context.Context, offset, limit int) ([]*catalog.ProductMapping, int64, error) {
	return s.mappings.List(ctx, offset, limit)
}

func (s *CatalogService) upsertProduct(ctx context.Context, product *supplier.Product) (created bool, err error) {
	mapping, err := s.mappings.FindBySupplierProduct(ctx, product.ProductID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return false, fmt.Errorf("load mapping for %s: %w", product.ProductID, err)
		}
		mapping, err = catalog.NewProductMapping(localProductIDFor(product.ProductID), product.ProductID, product.Name)
		if err != nil {
			return false, fmt.Errorf("create mapping for %s: %w", product.ProductID, err)
		}
		created = true
	}

	if err := s.applyProduct(mapping, product); err != nil {
		return created, err
	}
	if err := s.mappings.Save(ctx, mapping); err != nil {
		return created, fmt.Errorf("save mapping %s: %w", product.ProductID, err)
	}
	return created, nil
}

func (s *CatalogService) applyProduct(mapping *catalog.ProductMapping, product *supplier.Product) error {
	mapping.Name = product.Name
	mapping.Platform = product.Platform
	mapping.Region = strings.Join(product.Regions, ",")
	mapping.Currency = product.Currency

	if err := mapping.ApplyPriceAndStock(product.Price, product.StockQuantity, s.rule); err != nil {
		return fmt.Errorf("apply price for %s: %w", product.ProductID, err)
	}
	now := time.Now()
	mapping.LastSyncedAt = &now
	return nil
}

func localProductIDFor(supplierProductID string) string {
	return "sup-" + supplierProductID
}
