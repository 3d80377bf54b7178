package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/keysync/backend/internal/domain/catalog"
	"github.com/keysync/backend/internal/domain/fulfillment"
	"github.com/keysync/backend/internal/domain/shared"
	"github.com/keysync/backend/internal/domain/storefront"
	"github.com/keysync/backend/internal/domain/supplier"
)

// maxResponseSize bounds platform API responses (4MB)
const maxResponseSize = 4 * 1024 * 1024

// ErrUnavailable indicates the platform API could not be reached
var ErrUnavailable = errors.New("platform: unavailable")

// ErrRequestFailed indicates the platform rejected a request
var ErrRequestFailed = errors.New("platform: request failed")

// Client talks to the commerce platform's merchant API. It implements the
// order collaborator and the key delivery channel: the platform owns the
// customer relationship, so keys reach the customer through it.
//
// Line items come back from the platform keyed by local product ID; the
// client resolves each against the catalog mapping so the fulfillment core
// only ever sees supplier product IDs.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	mappings   catalog.Repository
	logger     *zap.Logger
}

// NewClient creates a commerce platform client
func NewClient(config *ClientConfig, mappings catalog.Repository, logger *zap.Logger) (*Client, error) {
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
		mappings: mappings,
		logger:   logger.Named("platform-client"),
	}, nil
}

type orderPayload struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Currency  string            `json:"currency"`
	Total     string            `json:"total"`
	PaidAt    *time.Time        `json:"paid_at"`
	LineItems []lineItemPayload `json:"line_items"`
}

type lineItemPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// GetPaidOrder loads a paid order with its line items
func (c *Client) GetPaidOrder(ctx context.Context, orderID string) (*storefront.Order, error) {
	body, status, err := c.doRequest(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, storefront.ErrOrderNotFound
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrRequestFailed, status)
	}

	var payload orderPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid order payload: %v", ErrRequestFailed, err)
	}
	if payload.Status != "paid" || payload.PaidAt == nil {
		return nil, storefront.ErrOrderNotPaid
	}

	order := &storefront.Order{
		ID:       payload.ID,
		Currency: payload.Currency,
		PaidAt:   *payload.PaidAt,
	}
	if total, err := decimal.NewFromString(payload.Total); err == nil {
		order.Total = total
	}

	for _, item := range payload.LineItems {
		li := storefront.LineItem{
			ID:             item.ID,
			LocalProductID: item.ProductID,
			ProductName:    item.Name,
			Quantity:       item.Quantity,
		}
		if price, err := decimal.NewFromString(item.UnitPrice); err == nil {
			li.UnitPrice = price
		}
		li.SupplierProductID = c.resolveSupplierProduct(ctx, item.ProductID)
		order.LineItems = append(order.LineItems, li)
	}

	return order, nil
}

// resolveSupplierProduct maps a local product ID to its supplier counterpart.
// Unmapped or disabled products resolve to empty, which marks the line item
// as not fulfillable through the supplier.
func (c *Client) resolveSupplierProduct(ctx context.Context, localProductID string) string {
	mapping, err := c.mappings.FindByLocalProduct(ctx, localProductID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			c.logger.Warn("catalog lookup failed",
				zap.String("local_product_id", localProductID),
				zap.Error(err))
		}
		return ""
	}
	if !mapping.Enabled {
		return ""
	}
	return mapping.SupplierProductID
}

// AnnotateFulfillmentStatus writes the derived fulfillment state back to the
// platform order
func (c *Client) AnnotateFulfillmentStatus(ctx context.Context, orderID string, state fulfillment.OrderState) error {
	payload := map[string]string{"fulfillment_state": state.String()}
	_, status, err := c.doRequest(ctx, http.MethodPut, "/orders/"+url.PathEscape(orderID)+"/fulfillment-state", payload)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return storefront.ErrOrderNotFound
	}
	if status >= 400 {
		return fmt.Errorf("%w: HTTP %d", ErrRequestFailed, status)
	}
	return nil
}

// AddCustomerVisibleNote attaches a note shown to the customer on the order page
func (c *Client) AddCustomerVisibleNote(ctx context.Context, orderID string, text string) error {
	payload := map[string]any{
		"text":                text,
		"visible_to_customer": true,
	}
	_, status, err := c.doRequest(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/notes", payload)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return storefront.ErrOrderNotFound
	}
	if status >= 400 {
		return fmt.Errorf("%w: HTTP %d", ErrRequestFailed, status)
	}
	return nil
}

// ListPaidOrdersWithoutFulfillment returns IDs of paid orders whose
// fulfillment was never initiated
func (c *Client) ListPaidOrdersWithoutFulfillment(ctx context.Context, since time.Time, limit int) ([]string, error) {
	query := url.Values{}
	query.Set("status", "paid")
	query.Set("fulfillment", "none")
	query.Set("since", since.UTC().Format(time.RFC3339))
	query.Set("limit", strconv.Itoa(limit))

	body, status, err := c.doRequest(ctx, http.MethodGet, "/orders?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrRequestFailed, status)
	}

	var payload struct {
		OrderIDs []string `json:"order_ids"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid order list payload: %v", ErrRequestFailed, err)
	}
	return payload.OrderIDs, nil
}

// DeliverKeys attaches the procured keys to the platform order as digital
// goods, which the platform surfaces on the customer's order page and email
func (c *Client) DeliverKeys(ctx context.Context, orderID string, keys []supplier.Key) error {
	type keyPayload struct {
		Code        string `json:"code"`
		Description string `json:"description,omitempty"`
		Platform    string `json:"platform,omitempty"`
		Region      string `json:"region,omitempty"`
	}
	items := make([]keyPayload, len(keys))
	for i, k := range keys {
		items[i] = keyPayload{
			Code:        k.Code,
			Description: k.Description,
			Platform:    k.Platform,
			Region:      k.Region,
		}
	}

	_, status, err := c.doRequest(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/digital-goods", map[string]any{"keys": items})
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return storefront.ErrOrderNotFound
	}
	if status >= 400 {
		return fmt.Errorf("%w: HTTP %d", ErrRequestFailed, status)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("platform: failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.APIBaseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("platform: failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.config.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, fmt.Errorf("platform: failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

var (
	_ storefront.OrderCollaborator  = (*Client)(nil)
	_ storefront.KeyDeliveryChannel = (*Client)(nil)
)
