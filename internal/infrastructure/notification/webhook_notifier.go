// Package notification delivers operator alerts to an incoming-webhook URL
// (ops chat). Alerts are best effort: callers log failures and move on.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/keysync/backend/internal/domain/storefront"
)

// ErrConfigMissingWebhookURL indicates the notifier has no destination
var ErrConfigMissingWebhookURL = errors.New("notification: webhook URL is required")

// WebhookNotifierConfig holds configuration for the webhook notifier
type WebhookNotifierConfig struct {
	// WebhookURL is the incoming-webhook endpoint alerts are posted to
	WebhookURL string
	// TimeoutSeconds is the HTTP request timeout
	TimeoutSeconds int
}

// WebhookNotifier posts operator alerts as JSON to a webhook endpoint
type WebhookNotifier struct {
	config     WebhookNotifierConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhookNotifier creates a webhook notifier
func NewWebhookNotifier(config WebhookNotifierConfig, logger *zap.Logger) (*WebhookNotifier, error) {
	if config.WebhookURL == "" {
		return nil, ErrConfigMissingWebhookURL
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		logger: logger.Named("webhook-notifier"),
	}, nil
}

// SendLowBalanceAlert reports that the wholesale balance dipped below the
// configured threshold
func (n *WebhookNotifier) SendLowBalanceAlert(ctx context.Context, balance decimal.Decimal, currency string) error {
	return n.post(ctx, map[string]string{
		"alert":    "low_balance",
		"text":     fmt.Sprintf("Wholesale balance low: %s %s", balance.StringFixed(2), currency),
		"balance":  balance.String(),
		"currency": currency,
	})
}

// SendOrderFailureAlert reports an order whose fulfillment failed terminally
func (n *WebhookNotifier) SendOrderFailureAlert(ctx context.Context, orderID string, details string) error {
	return n.post(ctx, map[string]string{
		"alert":    "order_failure",
		"text":     fmt.Sprintf("Order %s fulfillment failed: %s", orderID, details),
		"order_id": orderID,
		"details":  details,
	})
}

func (n *WebhookNotifier) post(ctx context.Context, payload map[string]string) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notification: failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.WebhookURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("notification: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification: webhook unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification: webhook rejected alert: HTTP %d", resp.StatusCode)
	}

	n.logger.Debug("alert delivered", zap.String("alert", payload["alert"]))
	return nil
}

var _ storefront.NotificationCollaborator = (*WebhookNotifier)(nil)
