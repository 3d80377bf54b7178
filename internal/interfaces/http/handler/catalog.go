package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appcatalog "github.com/keysync/backend/internal/application/catalog"
	"github.com/keysync/backend/internal/domain/catalog"
	"github.com/keysync/backend/internal/interfaces/http/dto"
)

// ProductMappingResponse is one catalog mapping
type ProductMappingResponse struct {
	ID                string     `json:"id"`
	LocalProductID    string     `json:"local_product_id"`
	SupplierProductID string     `json:"supplier_product_id"`
	Name              string     `json:"name"`
	Platform          string     `json:"platform,omitempty"`
	Region            string     `json:"region,omitempty"`
	SupplierPrice     string     `json:"supplier_price"`
	RetailPrice       string     `json:"retail_price"`
	Currency          string     `json:"currency,omitempty"`
	StockQuantity     int        `json:"stock_quantity"`
	Enabled           bool       `json:"enabled"`
	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`
}

// CatalogHandler exposes the supplier catalog mappings to operators
type CatalogHandler struct {
	BaseHandler
	service *appcatalog.CatalogService
	logger  *zap.Logger
}

// NewCatalogHandler creates a new CatalogHandler
func NewCatalogHandler(service *appcatalog.CatalogService, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{
		service: service,
		logger:  logger.Named("catalog-handler"),
	}
}

// RegisterRoutes registers catalog routes on the given router group
func (h *CatalogHandler) RegisterRoutes(rg *gin.RouterGroup) {
	products := rg.Group("/products")
	{
		products.GET("", h.List)
		products.POST("/import", h.Import)
		products.POST("/:id/refresh", h.Refresh)
	}
}

// List returns a page of product mappings
// GET /api/v1/products
func (h *CatalogHandler) List(c *gin.Context) {
	req := dto.DefaultListRequest()
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Invalid pagination parameters")
		return
	}

	offset := (req.Page - 1) * req.PageSize
	mappings, total, err := h.service.ListMappings(c.Request.Context(), offset, req.PageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	items := make([]ProductMappingResponse, len(mappings))
	for i, m := range mappings {
		items[i] = toMappingResponse(m)
	}
	h.SuccessWithMeta(c, items, total, req.Page, req.PageSize)
}

// Import pulls the supplier catalog and upserts mappings
// POST /api/v1/products/import
func (h *CatalogHandler) Import(c *gin.Context) {
	summary, err := h.service.ImportProducts(c.Request.Context())
	if err != nil {
		h.logger.Error("catalog import failed", zap.Error(err))
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}

// Refresh refreshes a single mapping from the supplier
// POST /api/v1/products/:id/refresh
func (h *CatalogHandler) Refresh(c *gin.Context) {
	supplierProductID := c.Param("id")

	if err := h.service.RefreshFromSupplier(c.Request.Context(), supplierProductID); err != nil {
		h.logger.Error("product refresh failed",
			zap.String("supplier_product_id", supplierProductID),
			zap.Error(err),
		)
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

func toMappingResponse(m *catalog.ProductMapping) ProductMappingResponse {
	return ProductMappingResponse{
		ID:                m.ID.String(),
		LocalProductID:    m.LocalProductID,
		SupplierProductID: m.SupplierProductID,
		Name:              m.Name,
		Platform:          m.Platform,
		Region:            m.Region,
		SupplierPrice:     m.SupplierPrice.String(),
		RetailPrice:       m.RetailPrice.String(),
		Currency:          m.Currency,
		StockQuantity:     m.StockQuantity,
		Enabled:           m.Enabled,
		LastSyncedAt:      m.LastSyncedAt,
	}
}
