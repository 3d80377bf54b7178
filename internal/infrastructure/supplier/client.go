package supplier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	domain "github.com/keysync/backend/internal/domain/supplier"
	"go.uber.org/zap"
)

// maxResponseSize is the maximum allowed response size from the supplier API (10MB)
const maxResponseSize = 10 * 1024 * 1024

// tokenExpirySlack renews the token this long before it actually expires
const tokenExpirySlack = 30 * time.Second

// Client implements the supplier gateway over the wholesale HTTP API.
// It holds no business state; the cached OAuth2 token is the only
// mutable field.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a supplier API client
func NewClient(config *ClientConfig, logger *zap.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		logger: logger.Named("supplier-client"),
	}, nil
}

// ---------------------------------------------------------------------------
// Gateway implementation
// ---------------------------------------------------------------------------

// Purchase places a wholesale order. The idempotency key travels as the
// client order ID, which the supplier deduplicates on: a retried request
// returns the original order instead of creating a second one.
func (c *Client) Purchase(ctx context.Context, req domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	body := purchaseRequestBody{
		ClientOrderID: req.IdempotencyKey,
		AllowPreOrder: true,
		Products: []purchaseLineEntry{{
			ProductID: req.SupplierProductID,
			Quantity:  req.Quantity,
			MaxPrice:  req.MaxUnitPrice,
		}},
	}

	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return nil, fmt.Errorf("purchase product %s: %w", req.SupplierProductID, err)
	}
	return resp.toDomain(), nil
}

// OrderStatus fetches the current state of a supplier order, including any
// keys assigned since the purchase
func (c *Client) OrderStatus(ctx context.Context, supplierRef string) (*domain.PurchaseResult, error) {
	var resp orderResponse
	path := "/orders/" + url.PathEscape(supplierRef)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", supplierRef, err)
	}
	return resp.toDomain(), nil
}

// CancelOrder cancels a supplier order
func (c *Client) CancelOrder(ctx context.Context, supplierRef string) error {
	path := "/orders/" + url.PathEscape(supplierRef) + "/cancel"
	if err := c.doRequest(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", supplierRef, err)
	}
	return nil
}

// AccountBalance fetches the wholesale account balance
func (c *Client) AccountBalance(ctx context.Context) (*domain.Balance, error) {
	var resp accountResponse
	if err := c.doRequest(ctx, http.MethodGet, "/accounts/current", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	return resp.toDomain(), nil
}

// ListProducts pages through the supplier catalog
func (c *Client) ListProducts(ctx context.Context, page, pageSize int) ([]domain.Product, error) {
	path := "/products?page=" + strconv.Itoa(page) + "&size=" + strconv.Itoa(pageSize)
	var resp productListResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	products := make([]domain.Product, 0, len(resp.Items))
	for _, item := range resp.Items {
		products = append(products, item.toDomain())
	}
	return products, nil
}

// GetProduct fetches a single supplier catalog entry
func (c *Client) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var resp productResponse
	path := "/products/" + url.PathEscape(productID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch product %s: %w", productID, err)
	}
	product := resp.toDomain()
	return &product, nil
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

// doRequest performs an authenticated request against the supplier API and
// decodes the response into out (ignored when out is nil)
func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("supplier: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.APIBaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("supplier: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", domain.ErrRequestTimeout, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrSupplierUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("supplier: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return c.classifyError(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
	}
	return nil
}

// classifyError maps HTTP failures onto the domain error taxonomy so the
// engine can tell retryable from permanent without seeing wire details
func (c *Client) classifyError(status int, raw []byte) error {
	var apiErr apiErrorResponse
	_ = json.Unmarshal(raw, &apiErr)
	detail := apiErr.Detail()

	c.logger.Warn("supplier request failed",
		zap.Int("status", status),
		zap.String("code", apiErr.Code),
		zap.String("detail", detail),
	)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		c.invalidateToken()
		return wrapDetail(domain.ErrAuthenticationFailed, detail)
	case status == http.StatusTooManyRequests:
		return wrapDetail(domain.ErrRateLimited, detail)
	case status == http.StatusRequestTimeout:
		return wrapDetail(domain.ErrRequestTimeout, detail)
	case status >= 500:
		return wrapDetail(domain.ErrSupplierUnavailable, detail)
	case status == http.StatusPaymentRequired,
		strings.Contains(strings.ToLower(detail), "insufficient"):
		return wrapDetail(domain.ErrInsufficientBalance, detail)
	case status == http.StatusNotFound:
		return wrapDetail(domain.ErrOrderNotFound, detail)
	case status == http.StatusConflict:
		return wrapDetail(domain.ErrOrderNotCancellable, detail)
	case status == http.StatusGone,
		strings.Contains(strings.ToLower(detail), "discontinued"):
		return wrapDetail(domain.ErrProductDiscontinued, detail)
	default:
		return wrapDetail(domain.ErrInvalidProduct, detail)
	}
}

func wrapDetail(sentinel error, detail string) error {
	if detail == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, detail)
}

// ensureToken returns a valid access token, fetching a fresh one through the
// client-credentials grant when the cached token is missing or near expiry
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Add(tokenExpirySlack).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.config.ClientID)
	form.Set("client_secret", c.config.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.APIBaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("supplier: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSupplierUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("supplier: read token response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: HTTP %d", domain.ErrAuthenticationFailed, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", domain.ErrInvalidResponse)
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	c.logger.Debug("supplier token refreshed",
		zap.Time("expires_at", c.tokenExpiry),
		zap.Bool("sandbox", c.config.IsSandbox),
	)
	return c.accessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = ""
}

// Ensure Client implements the gateway
var _ domain.Gateway = (*Client)(nil)
