package notification

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/keysync/backend/internal/domain/storefront"
)

// NopNotifier drops alerts, logging them at warn level so they still reach
// the logs when no webhook URL is configured.
type NopNotifier struct {
	logger *zap.Logger
}

// NewNopNotifier creates a notifier that only logs
func NewNopNotifier(logger *zap.Logger) *NopNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NopNotifier{logger: logger.Named("nop-notifier")}
}

func (n *NopNotifier) SendLowBalanceAlert(_ context.Context, balance decimal.Decimal, currency string) error {
	n.logger.Warn("low balance alert (no webhook configured)",
		zap.String("balance", balance.StringFixed(2)),
		zap.String("currency", currency),
	)
	return nil
}

func (n *NopNotifier) SendOrderFailureAlert(_ context.Context, orderID string, details string) error {
	n.logger.Warn("order failure alert (no webhook configured)",
		zap.String("order_id", orderID),
		zap.String("details", details),
	)
	return nil
}

var _ storefront.NotificationCollaborator = (*NopNotifier)(nil)
