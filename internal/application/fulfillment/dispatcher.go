package fulfillment

import (
	"context"
	"fmt"

	"github.com/keysync/backend/internal/domain/fulfillment"
	"github.com/keysync/backend/internal/domain/storefront"
	"github.com/keysync/backend/internal/domain/supplier"
	"go.uber.org/zap"
)

// Dispatcher performs at-most-once key delivery per ledger record. The
// delivered transition happens exactly once per record; the underlying
// channel (email, account page) is at-least-once, so a customer may see a
// duplicate message after a crash, but never a duplicate purchase.
type Dispatcher struct {
	ledger  fulfillment.Repository
	channel storefront.KeyDeliveryChannel
	orders  storefront.OrderCollaborator
	metrics MetricsRecorder
	logger  *zap.Logger
}

// NewDispatcher creates a delivery dispatcher
func NewDispatcher(
	ledger fulfillment.Repository,
	channel storefront.KeyDeliveryChannel,
	orders storefront.OrderCollaborator,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		ledger:  ledger,
		channel: channel,
		orders:  orders,
		metrics: nopMetrics{},
		logger:  logger.Named("delivery-dispatcher"),
	}
}

// SetMetrics injects a metrics recorder. Optional; recording is a no-op
// until set.
func (d *Dispatcher) SetMetrics(m MetricsRecorder) {
	if m != nil {
		d.metrics = m
	}
}

// Deliver sends the procured keys of an order's purchased records to the
// customer. Idempotent: a call for an order whose records are already
// delivered, or claimed by a concurrent call, is a no-op.
func (d *Dispatcher) Deliver(ctx context.Context, orderID string) error {
	records, err := d.ledger.RecordsForOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load records for order %s: %w", orderID, err)
	}

	// Claim purchased records via the conditional transition; records lost
	// to a concurrent caller are that caller's responsibility.
	var claimed []*fulfillment.Record
	for _, rec := range records {
		if rec.Status != fulfillment.StatusPurchased {
			continue
		}
		if err := d.ledger.BeginDelivery(ctx, rec.ID.String()); err != nil {
			if isConcurrencyConflict(err) {
				continue
			}
			return fmt.Errorf("claim record %s for delivery: %w", rec.ID, err)
		}
		claimed = append(claimed, rec)
	}

	if len(claimed) == 0 {
		return nil
	}

	var keys []supplier.Key
	for _, rec := range claimed {
		keys = append(keys, rec.Keys...)
	}

	if err := d.channel.DeliverKeys(ctx, orderID, keys); err != nil {
		// Roll back to purchased so delivery can retry without touching the
		// purchase. Keys stay on the record either way.
		for _, rec := range claimed {
			if revertErr := d.ledger.RevertDelivery(ctx, rec.ID.String()); revertErr != nil && !isConcurrencyConflict(revertErr) {
				d.logger.Error("failed to revert delivery claim",
					zap.String("record_id", rec.ID.String()),
					zap.Error(revertErr),
				)
			}
		}
		return fmt.Errorf("deliver keys for order %s: %w", orderID, err)
	}

	for _, rec := range claimed {
		if err := d.ledger.MarkDelivered(ctx, rec.ID.String()); err != nil && !isConcurrencyConflict(err) {
			return fmt.Errorf("mark record %s delivered: %w", rec.ID, err)
		}
	}

	d.metrics.KeysDelivered(ctx, len(keys))
	d.logger.Info("keys delivered",
		zap.String("order_id", orderID),
		zap.Int("records", len(claimed)),
		zap.Int("keys", len(keys)),
	)

	if err := d.orders.AddCustomerVisibleNote(ctx, orderID, "Your product keys have been delivered."); err != nil {
		d.logger.Warn("failed to add delivery note",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
	return nil
}
