package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/keysync/backend/internal/domain/fulfillment"
	"github.com/keysync/backend/internal/domain/shared"
	"github.com/keysync/backend/internal/domain/storefront"
	"github.com/keysync/backend/internal/domain/supplier"
	"go.uber.org/zap"
)

// ProductRefresher updates the local catalog entry for a supplier product.
// Implemented by the catalog application service.
type ProductRefresher interface {
	RefreshFromSupplier(ctx context.Context, supplierProductID string) error
}

// Reconciler consumes supplier push notifications and feeds them into the
// ledger and catalog as out-of-band updates. Every event is signature
// verified before parsing, deduplicated by event ID, and applied through the
// same conditional ledger transitions as the engine, so replays cannot
// double-purchase or double-deliver.
type Reconciler struct {
	verifier   supplier.SignatureVerifier
	events     shared.IdempotencyStore
	eventTTL   time.Duration
	ledger     fulfillment.Repository
	gateway    supplier.Gateway
	refresher  ProductRefresher
	dispatcher *Dispatcher
	orders     storefront.OrderCollaborator
	metrics    MetricsRecorder
	logger     *zap.Logger
}

// NewReconciler creates a reconciliation listener
func NewReconciler(
	verifier supplier.SignatureVerifier,
	events shared.IdempotencyStore,
	eventTTL time.Duration,
	ledger fulfillment.Repository,
	gateway supplier.Gateway,
	refresher ProductRefresher,
	dispatcher *Dispatcher,
	orders storefront.OrderCollaborator,
	logger *zap.Logger,
) *Reconciler {
	if eventTTL <= 0 {
		eventTTL = shared.DefaultIdempotencyConfig().TTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		verifier:   verifier,
		events:     events,
		eventTTL:   eventTTL,
		ledger:     ledger,
		gateway:    gateway,
		refresher:  refresher,
		dispatcher: dispatcher,
		orders:     orders,
		metrics:    nopMetrics{},
		logger:     logger.Named("reconciler"),
	}
}

// SetMetrics injects a metrics recorder. Optional; recording is a no-op
// until set.
func (r *Reconciler) SetMetrics(m MetricsRecorder) {
	if m != nil {
		r.metrics = m
	}
}

// ProcessWebhook verifies, parses and applies one raw supplier push payload.
// Unverifiable or malformed payloads are rejected before any state is
// touched. Returns supplier.ErrInvalidSignature or supplier.ErrMalformedEvent
// for rejections; any other error means processing failed and the supplier
// should redeliver.
func (r *Reconciler) ProcessWebhook(ctx context.Context, payload []byte, signature string) error {
	if err := r.verifier.Verify(payload, signature); err != nil {
		r.metrics.WebhookEvent(ctx, "unknown", "rejected")
		r.logger.Warn("webhook signature rejected", zap.Error(err))
		return err
	}

	evt, err := supplier.ParseEvent(payload)
	if err != nil {
		r.metrics.WebhookEvent(ctx, "unknown", "malformed")
		r.logger.Warn("webhook payload rejected", zap.Error(err))
		return err
	}

	dedupeKey := "supplier-event:" + evt.ID
	seen, err := r.events.IsProcessed(ctx, dedupeKey)
	if err != nil {
		return fmt.Errorf("event dedupe for %s: %w", evt.ID, err)
	}
	if seen {
		r.metrics.WebhookEvent(ctx, evt.Type.String(), "duplicate")
		r.logger.Info("duplicate event ignored",
			zap.String("event_id", evt.ID),
			zap.String("type", evt.Type.String()),
		)
		return nil
	}

	r.logger.Info("processing supplier event",
		zap.String("event_id", evt.ID),
		zap.String("type", evt.Type.String()),
	)

	if err := r.applyEvent(ctx, evt); err != nil {
		r.metrics.WebhookEvent(ctx, evt.Type.String(), "failed")
		return err
	}

	// Claim the event ID only after the event is applied, so a downstream
	// failure leaves the redelivery path open. Concurrent deliveries of the
	// same event may both get past the check above; the conditional ledger
	// transitions make the second application a no-op.
	if _, err := r.events.MarkProcessed(ctx, dedupeKey, r.eventTTL); err != nil {
		r.logger.Warn("event dedupe store unavailable, replays stay safe via ledger",
			zap.String("event_id", evt.ID),
			zap.Error(err),
		)
	}
	r.metrics.WebhookEvent(ctx, evt.Type.String(), "processed")
	return nil
}

func (r *Reconciler) applyEvent(ctx context.Context, evt *supplier.Event) error {
	switch evt.Type {
	case supplier.EventStockAndPriceChange, supplier.EventProductUpdate:
		return r.refresher.RefreshFromSupplier(ctx, evt.ProductID)
	case supplier.EventPreorderAssigned:
		return r.handlePreorderAssigned(ctx, evt)
	default:
		return supplier.ErrMalformedEvent
	}
}

// handlePreorderAssigned completes a purchase whose keys became available
// asynchronously, possibly long after the original attempt. The effect is
// routed through the regular state machine: failed records re-enter
// purchasing before they are marked purchased, and delivery goes through the
// dispatcher. A replay for an already delivered record is a no-op.
func (r *Reconciler) handlePreorderAssigned(ctx context.Context, evt *supplier.Event) error {
	res, err := r.gateway.OrderStatus(ctx, evt.SupplierRef)
	if err != nil {
		return fmt.Errorf("fetch supplier order %s: %w", evt.SupplierRef, err)
	}
	if res.Status != supplier.OrderStatusCompleted || len(res.Keys) == 0 {
		r.logger.Warn("preorder event without assigned keys",
			zap.String("supplier_ref", evt.SupplierRef),
			zap.String("status", res.Status.String()),
		)
		return nil
	}

	records, err := r.ledger.FindBySupplierRef(ctx, evt.SupplierRef)
	if err != nil {
		return fmt.Errorf("find records for supplier ref %s: %w", evt.SupplierRef, err)
	}
	if len(records) == 0 {
		r.logger.Warn("no ledger record for supplier ref",
			zap.String("supplier_ref", evt.SupplierRef),
		)
		return nil
	}

	touched := make(map[string]struct{})
	for _, rec := range records {
		switch rec.Status {
		case fulfillment.StatusFailed:
			// Re-enter the purchase path regardless of the attempt budget;
			// the supplier has already completed this order.
			if err := r.ledger.RetryPurchase(ctx, rec.ID.String()); err != nil {
				if isConcurrencyConflict(err) {
					continue
				}
				return fmt.Errorf("reopen record %s: %w", rec.ID, err)
			}
		case fulfillment.StatusPurchasing:
			// A concurrent purchase attempt is in flight; the conditional
			// MarkPurchased below decides the winner.
		default:
			// delivered, purchased, cancelled: nothing to complete
			continue
		}

		if err := r.ledger.MarkPurchased(ctx, rec.ID.String(), evt.SupplierRef, res.Keys); err != nil {
			if isConcurrencyConflict(err) {
				continue
			}
			return fmt.Errorf("mark record %s purchased: %w", rec.ID, err)
		}
		touched[rec.OrderID] = struct{}{}
	}

	for orderID := range touched {
		records, err := r.ledger.RecordsForOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load records for order %s: %w", orderID, err)
		}
		if fulfillment.ReadyForDelivery(records) {
			if err := r.dispatcher.Deliver(ctx, orderID); err != nil {
				return err
			}
			if records, err = r.ledger.RecordsForOrder(ctx, orderID); err != nil {
				return fmt.Errorf("load records for order %s: %w", orderID, err)
			}
		}
		state := fulfillment.DeriveOrderState(records)
		if err := r.orders.AnnotateFulfillmentStatus(ctx, orderID, state); err != nil {
			r.logger.Error("failed to annotate order",
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
	}
	return nil
}
