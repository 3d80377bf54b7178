package supplier

import (
	"time"

	domain "github.com/keysync/backend/internal/domain/supplier"
	"github.com/shopspring/decimal"
)

// tokenResponse is the OAuth2 token endpoint response
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// apiErrorResponse is the supplier's error envelope
type apiErrorResponse struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Description string `json:"error_description"`
}

// Detail returns the most specific error text available
func (e apiErrorResponse) Detail() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Description
}

// purchaseRequestBody is the order creation payload
type purchaseRequestBody struct {
	ClientOrderID string               `json:"clientOrderId"`
	AllowPreOrder bool                 `json:"allowPreOrder"`
	Products      []purchaseLineEntry  `json:"products"`
}

type purchaseLineEntry struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	MaxPrice  decimal.Decimal `json:"maxPrice,omitempty"`
}

// codeEntry is one key within an order response
type codeEntry struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Platform    string `json:"platform"`
	Region      string `json:"region"`
}

// orderProductEntry is one purchased product with its assigned codes
type orderProductEntry struct {
	ProductID string      `json:"productId"`
	Name      string      `json:"name"`
	Codes     []codeEntry `json:"codes"`
}

// orderResponse is the supplier's order representation
type orderResponse struct {
	OrderID       string              `json:"orderId"`
	ClientOrderID string              `json:"clientOrderId"`
	Status        string              `json:"status"`
	TotalPrice    decimal.Decimal     `json:"totalPrice"`
	Products      []orderProductEntry `json:"products"`
}

// toDomain normalizes the wire order into the gateway result type
func (r orderResponse) toDomain() *domain.PurchaseResult {
	result := &domain.PurchaseResult{
		SupplierRef: r.OrderID,
		Status:      mapOrderStatus(r.Status),
		TotalPrice:  r.TotalPrice,
	}
	for _, p := range r.Products {
		for _, c := range p.Codes {
			result.Keys = append(result.Keys, domain.Key{
				Code:        c.Code,
				Description: c.Description,
				Platform:    c.Platform,
				Region:      c.Region,
			})
		}
	}
	return result
}

// mapOrderStatus maps supplier wire statuses onto the domain status set
func mapOrderStatus(status string) domain.OrderStatus {
	switch status {
	case "COMPLETED", "Completed":
		return domain.OrderStatusCompleted
	case "PREORDER", "PreOrder":
		return domain.OrderStatusPreorder
	case "CANCELLED", "Cancelled":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusProcessing
	}
}

// accountResponse is the balance endpoint payload
type accountResponse struct {
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	CurrentCredit  decimal.Decimal `json:"currentCredit"`
	Currency       string          `json:"currency"`
}

func (r accountResponse) toDomain() *domain.Balance {
	return &domain.Balance{
		Current:  r.CurrentBalance,
		Credit:   r.CurrentCredit,
		Currency: r.Currency,
	}
}

// productResponse is one catalog entry on the wire
type productResponse struct {
	ProductID     string          `json:"productId"`
	Name          string          `json:"name"`
	Platform      string          `json:"platform"`
	Regions       []string        `json:"regions"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	StockQuantity int             `json:"quantity"`
	ReleaseDate   time.Time       `json:"releaseDate"`
}

func (r productResponse) toDomain() domain.Product {
	return domain.Product{
		ProductID:     r.ProductID,
		Name:          r.Name,
		Platform:      r.Platform,
		Regions:       r.Regions,
		Price:         r.Price,
		Currency:      r.Currency,
		StockQuantity: r.StockQuantity,
		ReleasedAt:    r.ReleaseDate,
	}
}

// productListResponse is the paged catalog payload
type productListResponse struct {
	Items []productResponse `json:"items"`
	Total int               `json:"total"`
}
