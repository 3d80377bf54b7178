package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/keysync/backend/internal/domain/fulfillment"
	"github.com/keysync/backend/internal/domain/shared"
	"github.com/keysync/backend/internal/domain/storefront"
	"github.com/keysync/backend/internal/domain/supplier"
	"github.com/keysync/backend/internal/interfaces/http/dto"
)

// FulfillmentEngine is the application surface the admin API drives
type FulfillmentEngine interface {
	FulfillOrder(ctx context.Context, orderID string) (fulfillment.OrderState, error)
	CancelOrder(ctx context.Context, orderID string) error
	RetryLineItem(ctx context.Context, orderID, lineItemID string) (fulfillment.OrderState, error)
}

// FulfillmentHandler exposes the fulfillment ledger and manual triggers to
// operators
type FulfillmentHandler struct {
	BaseHandler
	engine  FulfillmentEngine
	ledger  fulfillment.Repository
	gateway supplier.Gateway
	logger  *zap.Logger
}

// NewFulfillmentHandler creates a new FulfillmentHandler
func NewFulfillmentHandler(engine FulfillmentEngine, ledger fulfillment.Repository, gateway supplier.Gateway, logger *zap.Logger) *FulfillmentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FulfillmentHandler{
		engine:  engine,
		ledger:  ledger,
		gateway: gateway,
		logger:  logger.Named("fulfillment-handler"),
	}
}

// RegisterRoutes registers fulfillment routes on the given router group
func (h *FulfillmentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	orders := rg.Group("/orders")
	{
		orders.GET("/:orderID/fulfillment", h.GetFulfillment)
		orders.POST("/:orderID/fulfill", h.Fulfill)
		orders.POST("/:orderID/cancel", h.Cancel)
		orders.POST("/:orderID/items/:lineItemID/retry", h.RetryItem)
	}
	rg.GET("/supplier/balance", h.SupplierBalance)
}

// GetFulfillment returns the records and derived state for an order
// GET /api/v1/orders/:orderID/fulfillment
func (h *FulfillmentHandler) GetFulfillment(c *gin.Context) {
	orderID := c.Param("orderID")

	records, err := h.ledger.RecordsForOrder(c.Request.Context(), orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if len(records) == 0 {
		h.NotFound(c, "No fulfillment records for this order")
		return
	}

	resp := OrderFulfillmentResponse{
		OrderID: orderID,
		State:   fulfillment.DeriveOrderState(records).String(),
		Records: make([]FulfillmentRecordResponse, len(records)),
	}
	for i, rec := range records {
		resp.Records[i] = toRecordResponse(rec)
	}
	h.Success(c, resp)
}

// Fulfill runs a fulfillment pass for an order
// POST /api/v1/orders/:orderID/fulfill
func (h *FulfillmentHandler) Fulfill(c *gin.Context) {
	orderID := c.Param("orderID")

	state, err := h.engine.FulfillOrder(c.Request.Context(), orderID)
	if err != nil {
		h.handleFulfillmentError(c, err)
		return
	}
	h.Success(c, FulfillmentStateResponse{OrderID: orderID, State: state.String()})
}

// Cancel cancels the open fulfillment of an order
// POST /api/v1/orders/:orderID/cancel
func (h *FulfillmentHandler) Cancel(c *gin.Context) {
	orderID := c.Param("orderID")

	if err := h.engine.CancelOrder(c.Request.Context(), orderID); err != nil {
		h.handleFulfillmentError(c, err)
		return
	}
	h.NoContent(c)
}

// RetryItem resets an exhausted line item and re-runs fulfillment
// POST /api/v1/orders/:orderID/items/:lineItemID/retry
func (h *FulfillmentHandler) RetryItem(c *gin.Context) {
	orderID := c.Param("orderID")
	lineItemID := c.Param("lineItemID")

	state, err := h.engine.RetryLineItem(c.Request.Context(), orderID, lineItemID)
	if err != nil {
		h.handleFulfillmentError(c, err)
		return
	}
	h.Success(c, FulfillmentStateResponse{OrderID: orderID, State: state.String()})
}

// SupplierBalance passes the wholesale account balance through
// GET /api/v1/supplier/balance
func (h *FulfillmentHandler) SupplierBalance(c *gin.Context) {
	balance, err := h.gateway.AccountBalance(c.Request.Context())
	if err != nil {
		h.logger.Error("balance fetch failed", zap.Error(err))
		h.Error(c, http.StatusBadGateway, dto.ErrCodeInternal, "Supplier balance unavailable")
		return
	}
	h.Success(c, BalanceResponse{
		Current:  balance.Current.String(),
		Credit:   balance.Credit.String(),
		Total:    balance.Total().String(),
		Currency: balance.Currency,
	})
}

func (h *FulfillmentHandler) handleFulfillmentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storefront.ErrOrderNotFound),
		errors.Is(err, shared.ErrNotFound):
		h.NotFound(c, "Order or line item not found")
	case errors.Is(err, storefront.ErrOrderNotPaid):
		h.UnprocessableEntity(c, dto.ErrCodeInvalidState, "Order is not paid")
	default:
		h.logger.Error("fulfillment operation failed", zap.Error(err))
		h.HandleError(c, err)
	}
}
