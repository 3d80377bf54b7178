package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appcatalog "github.com/keysync/backend/internal/application/catalog"
	"github.com/keysync/backend/internal/domain/catalog"
	"github.com/keysync/backend/internal/domain/shared"
	"github.com/keysync/backend/internal/domain/supplier"
	"github.com/keysync/backend/internal/interfaces/http/dto"
)

type handlerTestMappings struct {
	bySupplier map[string]*catalog.ProductMapping
}

func newHandlerTestMappings() *handlerTestMappings {
	return &handlerTestMappings{bySupplier: make(map[string]*catalog.ProductMapping)}
}

func (r *handlerTestMappings) Save(_ context.Context, mapping *catalog.ProductMapping) error {
	r.bySupplier[mapping.SupplierProductID] = mapping
	return nil
}

func (r *handlerTestMappings) FindByLocalProduct(_ context.Context, localProductID string) (*catalog.ProductMapping, error) {
	for _, m := range r.bySupplier {
		if m.LocalProductID == localProductID {
			return m, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *handlerTestMappings) FindBySupplierProduct(_ context.Context, supplierProductID string) (*catalog.ProductMapping, error) {
	if m, ok := r.bySupplier[supplierProductID]; ok {
		return m, nil
	}
	return nil, shared.ErrNotFound
}

func (r *handlerTestMappings) List(_ context.Context, offset, limit int) ([]*catalog.ProductMapping, int64, error) {
	all := make([]*catalog.ProductMapping, 0, len(r.bySupplier))
	for _, m := range r.bySupplier {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *handlerTestMappings) ListEnabled(_ context.Context) ([]*catalog.ProductMapping, error) {
	var enabled []*catalog.ProductMapping
	for _, m := range r.bySupplier {
		if m.Enabled {
			enabled = append(enabled, m)
		}
	}
	return enabled, nil
}

type handlerTestCatalogGateway struct {
	supplier.Gateway

	products []supplier.Product
}

func (g *handlerTestCatalogGateway) ListProducts(_ context.Context, page, pageSize int) ([]supplier.Product, error) {
	start := (page - 1) * pageSize
	if start >= len(g.products) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(g.products) {
		end = len(g.products)
	}
	return g.products[start:end], nil
}

func (g *handlerTestCatalogGateway) GetProduct(_ context.Context, productID string) (*supplier.Product, error) {
	for i := range g.products {
		if g.products[i].ProductID == productID {
			return &g.products[i], nil
		}
	}
	return nil, supplier.ErrInvalidProduct
}

func newCatalogTestRouter(t *testing.T, mappings catalog.Repository, gateway supplier.Gateway) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rule, err := catalog.NewPriceRule(catalog.MarkupPercentage, decimal.NewFromInt(20))
	require.NoError(t, err)

	service := appcatalog.NewCatalogService(mappings, gateway, rule, nil)

	router := gin.New()
	NewCatalogHandler(service, nil).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func TestCatalogHandler_List(t *testing.T) {
	mappings := newHandlerTestMappings()
	for _, name := range []string{"Alpha Quest", "Beta Racer"} {
		m, err := catalog.NewProductMapping("loc-"+name[:5], "sup-"+name[:5], name)
		require.NoError(t, err)
		require.NoError(t, mappings.Save(context.Background(), m))
	}

	router := newCatalogTestRouter(t, mappings, &handlerTestCatalogGateway{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products?page=1&page_size=1", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(2), resp.Meta.Total)

	items := resp.Data.([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "Alpha Quest", items[0].(map[string]interface{})["name"])
}

func TestCatalogHandler_List_BadPagination(t *testing.T) {
	router := newCatalogTestRouter(t, newHandlerTestMappings(), &handlerTestCatalogGateway{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products?page=0", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCatalogHandler_Import(t *testing.T) {
	gateway := &handlerTestCatalogGateway{
		products: []supplier.Product{
			{
				ProductID:     "SUP-100",
				Name:          "Space Sim",
				Platform:      "steam",
				Regions:       []string{"EU"},
				Price:         decimal.RequireFromString("10.00"),
				Currency:      "EUR",
				StockQuantity: 5,
			},
		},
	}
	mappings := newHandlerTestMappings()
	router := newCatalogTestRouter(t, mappings, gateway)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(1), data["created"])

	saved, err := mappings.FindBySupplierProduct(context.Background(), "SUP-100")
	require.NoError(t, err)
	assert.True(t, saved.RetailPrice.Equal(decimal.RequireFromString("12.00")))
}

func TestCatalogHandler_Refresh(t *testing.T) {
	gateway := &handlerTestCatalogGateway{
		products: []supplier.Product{
			{
				ProductID:     "SUP-200",
				Name:          "City Builder",
				Price:         decimal.RequireFromString("8.00"),
				Currency:      "EUR",
				StockQuantity: 2,
			},
		},
	}
	mappings := newHandlerTestMappings()
	mapping, err := catalog.NewProductMapping("loc-200", "SUP-200", "City Builder")
	require.NoError(t, err)
	require.NoError(t, mappings.Save(context.Background(), mapping))

	router := newCatalogTestRouter(t, mappings, gateway)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/SUP-200/refresh", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)

	refreshed, err := mappings.FindBySupplierProduct(context.Background(), "SUP-200")
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed.StockQuantity)
	assert.True(t, refreshed.RetailPrice.Equal(decimal.RequireFromString("9.60")))
}
