package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/keysync/backend/internal/domain/supplier"
	"github.com/keysync/backend/internal/interfaces/http/dto"
)

// SignatureHeader carries the hex HMAC-SHA256 digest of the raw body
const SignatureHeader = "X-Supplier-Signature"

// defaultWebhookBodyLimit bounds webhook payload size (1MB)
const defaultWebhookBodyLimit = 1 << 20

// WebhookProcessor consumes a verified supplier event payload
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, payload []byte, signature string) error
}

// SupplierWebhookHandler receives supplier push events. The endpoint is
// unauthenticated; the HMAC signature over the raw body is the only trust
// anchor. Bad signatures and malformed payloads get 400 and are dropped;
// downstream failures get 500 so the supplier redelivers.
type SupplierWebhookHandler struct {
	BaseHandler
	processor WebhookProcessor
	bodyLimit int64
	logger    *zap.Logger
}

// NewSupplierWebhookHandler creates a new SupplierWebhookHandler
func NewSupplierWebhookHandler(processor WebhookProcessor, bodyLimit int64, logger *zap.Logger) *SupplierWebhookHandler {
	if bodyLimit <= 0 {
		bodyLimit = defaultWebhookBodyLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SupplierWebhookHandler{
		processor: processor,
		bodyLimit: bodyLimit,
		logger:    logger.Named("supplier-webhook"),
	}
}

// RegisterRoutes registers the webhook route on the given router
func (h *SupplierWebhookHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/webhook", h.Receive)
}

// Receive handles one supplier push event
// POST /webhook
func (h *SupplierWebhookHandler) Receive(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.bodyLimit))
	if err != nil {
		h.BadRequest(c, "Unreadable or oversized payload")
		return
	}

	signature := c.GetHeader(SignatureHeader)
	err = h.processor.ProcessWebhook(c.Request.Context(), payload, signature)
	switch {
	case err == nil:
		h.Success(c, gin.H{"status": "processed"})
	case errors.Is(err, supplier.ErrInvalidSignature):
		h.logger.Warn("webhook signature rejected",
			zap.String("remote_addr", c.ClientIP()),
		)
		h.Error(c, http.StatusBadRequest, dto.ErrCodeUnauthorized, "Invalid signature")
	case errors.Is(err, supplier.ErrMalformedEvent):
		h.BadRequest(c, "Malformed event payload")
	default:
		h.logger.Error("webhook processing failed", zap.Error(err))
		h.InternalError(c, "Event processing failed")
	}
}
