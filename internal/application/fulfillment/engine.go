package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keysync/backend/internal/domain/fulfillment"
	"github.com/keysync/backend/internal/domain/shared"
	"github.com/keysync/backend/internal/domain/storefront"
	"github.com/keysync/backend/internal/domain/supplier"
	"go.uber.org/zap"
)

// EngineConfig holds the retry policy for the fulfillment engine
type EngineConfig struct {
	// MaxAttempts bounds purchase attempts per record before it is exhausted
	MaxAttempts int
	// BaseDelay is the backoff base; attempt n retries after BaseDelay * 2^n
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff
	MaxDelay time.Duration
}

// Validate checks the configuration
func (c EngineConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return errors.New("max attempts must be positive")
	}
	if c.BaseDelay <= 0 {
		return errors.New("base delay must be positive")
	}
	if c.MaxDelay < c.BaseDelay {
		return errors.New("max delay must be at least base delay")
	}
	return nil
}

// DefaultEngineConfig returns the default retry policy
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Minute,
		MaxDelay:    30 * time.Minute,
	}
}

// Engine orchestrates order fulfillment: it decides which line items need a
// wholesale purchase, drives the ledger state machine per record, triggers
// delivery, and schedules retries for transient failures.
//
// FulfillOrder is re-entrant: the payment hook, retry scheduler, webhook
// reconciler and admin API may all invoke it concurrently for the same
// order. The ledger's conditional transitions plus the supplier-side
// idempotency key bound duplicate purchases to zero.
type Engine struct {
	ledger     fulfillment.Repository
	gateway    supplier.Gateway
	orders     storefront.OrderCollaborator
	notifier   storefront.NotificationCollaborator
	dispatcher *Dispatcher
	cfg        EngineConfig
	metrics    MetricsRecorder
	logger     *zap.Logger
}

// NewEngine creates a fulfillment engine
func NewEngine(
	ledger fulfillment.Repository,
	gateway supplier.Gateway,
	orders storefront.OrderCollaborator,
	notifier storefront.NotificationCollaborator,
	dispatcher *Dispatcher,
	cfg EngineConfig,
	logger *zap.Logger,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		ledger:     ledger,
		gateway:    gateway,
		orders:     orders,
		notifier:   notifier,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    nopMetrics{},
		logger:     logger.Named("fulfillment-engine"),
	}, nil
}

// SetMetrics injects a metrics recorder. Optional; recording is a no-op
// until set.
func (e *Engine) SetMetrics(m MetricsRecorder) {
	if m != nil {
		e.metrics = m
	}
}

// FulfillOrder runs one fulfillment pass for a paid order and returns the
// derived aggregate state. Supplier failures never propagate: they are
// captured into record state. Only local-infrastructure failures (order
// lookup, ledger) return an error.
func (e *Engine) FulfillOrder(ctx context.Context, orderID string) (fulfillment.OrderState, error) {
	order, err := e.orders.GetPaidOrder(ctx, orderID)
	if err != nil {
		e.logger.Error("order lookup failed",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return "", fmt.Errorf("load order %s: %w", orderID, err)
	}

	items := order.FulfillableItems()
	if len(items) == 0 {
		e.logger.Info("order has no fulfillable line items", zap.String("order_id", orderID))
		return fulfillment.OrderStateProcessing, nil
	}

	for _, li := range items {
		rec, err := fulfillment.NewRecord(order.ID, li.ID, li.ProductName, li.SupplierProductID, li.Quantity, e.cfg.MaxAttempts)
		if err != nil {
			return "", fmt.Errorf("build record for item %s: %w", li.ID, err)
		}
		if _, err := e.ledger.EnsureRecord(ctx, rec); err != nil {
			return "", fmt.Errorf("ensure record for item %s: %w", li.ID, err)
		}
	}

	records, err := e.ledger.RecordsForOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("load records for order %s: %w", orderID, err)
	}

	now := time.Now()
	for _, rec := range records {
		item, ok := lineItemByID(order, rec.LineItemID)
		if !ok {
			// Record for a line item the platform no longer returns; leave
			// it for operator review rather than guessing.
			e.logger.Warn("ledger record without matching line item",
				zap.String("order_id", orderID),
				zap.String("line_item_id", rec.LineItemID),
			)
			continue
		}

		switch {
		case rec.Status == fulfillment.StatusPending:
			if err := e.claimAndPurchase(ctx, rec, order, item, e.ledger.BeginPurchase); err != nil {
				return "", err
			}
		case rec.IsRetryable(now):
			if err := e.claimAndPurchase(ctx, rec, order, item, e.ledger.RetryPurchase); err != nil {
				return "", err
			}
		default:
			// delivered, purchased, in flight elsewhere, exhausted, or
			// waiting for its retry time: nothing to do this pass
		}
	}

	return e.finishPass(ctx, orderID)
}

// claimAndPurchase claims the record via the given conditional transition and
// runs one purchase attempt. A lost claim means another trigger path owns the
// record; that is success, not failure.
func (e *Engine) claimAndPurchase(
	ctx context.Context,
	rec *fulfillment.Record,
	order *storefront.Order,
	item storefront.LineItem,
	claim func(ctx context.Context, id string) error,
) error {
	if err := claim(ctx, rec.ID.String()); err != nil {
		if isConcurrencyConflict(err) {
			e.logger.Debug("record claimed by concurrent invocation",
				zap.String("record_id", rec.ID.String()),
			)
			return nil
		}
		return fmt.Errorf("claim record %s: %w", rec.ID, err)
	}
	rec.AttemptCount++
	return e.purchase(ctx, rec, order, item)
}

// purchase performs the supplier call for a record in purchasing state and
// records the outcome
func (e *Engine) purchase(ctx context.Context, rec *fulfillment.Record, order *storefront.Order, item storefront.LineItem) error {
	// A stored supplier reference means an earlier attempt may have
	// succeeded remotely while its response was lost. Check before buying
	// again.
	if rec.SupplierRef != "" {
		if res, err := e.gateway.OrderStatus(ctx, rec.SupplierRef); err == nil &&
			res.Status == supplier.OrderStatusCompleted && len(res.Keys) > 0 {
			return e.recordPurchaseSuccess(ctx, rec, res)
		}
	}

	start := time.Now()
	res, err := e.gateway.Purchase(ctx, supplier.PurchaseRequest{
		SupplierProductID: item.SupplierProductID,
		Quantity:          item.Quantity,
		MaxUnitPrice:      item.UnitPrice,
		Currency:          order.Currency,
		IdempotencyKey:    rec.IdempotencyKey(),
	})
	elapsed := time.Since(start)
	if err != nil {
		e.metrics.PurchaseAttempted(ctx, false, elapsed)
		return e.recordPurchaseFailure(ctx, rec, err)
	}

	if res.Status == supplier.OrderStatusCompleted && len(res.Keys) > 0 {
		e.metrics.PurchaseAttempted(ctx, true, elapsed)
		return e.recordPurchaseSuccess(ctx, rec, res)
	}
	e.metrics.PurchaseAttempted(ctx, false, elapsed)

	// Order accepted but keys not yet assigned (still processing, or a
	// pre-order). Remember the reference and retry later; the
	// preorderAssigned webhook usually completes it first.
	if res.SupplierRef != "" {
		if err := e.ledger.StoreSupplierRef(ctx, rec.ID.String(), res.SupplierRef); err != nil {
			return fmt.Errorf("store supplier ref for record %s: %w", rec.ID, err)
		}
	}
	return e.recordPurchaseFailure(ctx, rec,
		fmt.Errorf("keys not yet assigned (supplier status %s): %w", res.Status, supplier.ErrSupplierUnavailable))
}

func (e *Engine) recordPurchaseSuccess(ctx context.Context, rec *fulfillment.Record, res *supplier.PurchaseResult) error {
	if err := e.ledger.MarkPurchased(ctx, rec.ID.String(), res.SupplierRef, res.Keys); err != nil {
		if isConcurrencyConflict(err) {
			return nil
		}
		return fmt.Errorf("mark record %s purchased: %w", rec.ID, err)
	}
	e.logger.Info("line item purchased",
		zap.String("order_id", rec.OrderID),
		zap.String("line_item_id", rec.LineItemID),
		zap.String("supplier_ref", res.SupplierRef),
		zap.Int("keys", len(res.Keys)),
	)
	return nil
}

func (e *Engine) recordPurchaseFailure(ctx context.Context, rec *fulfillment.Record, cause error) error {
	var nextRetryAt *time.Time

	transient := supplier.IsTransient(cause)
	if transient && rec.AttemptCount < rec.MaxAttempts {
		at := time.Now().Add(e.backoffDelay(rec.AttemptCount))
		nextRetryAt = &at
		e.metrics.RetryScheduled(ctx)
	}

	if err := e.ledger.MarkFailed(ctx, rec.ID.String(), cause.Error(), nextRetryAt); err != nil {
		if isConcurrencyConflict(err) {
			return nil
		}
		return fmt.Errorf("mark record %s failed: %w", rec.ID, err)
	}

	e.logger.Warn("line item purchase failed",
		zap.String("order_id", rec.OrderID),
		zap.String("line_item_id", rec.LineItemID),
		zap.Int("attempt", rec.AttemptCount),
		zap.Bool("transient", transient),
		zap.Bool("retry_scheduled", nextRetryAt != nil),
		zap.Error(cause),
	)

	if errors.Is(cause, supplier.ErrInsufficientBalance) {
		e.alertLowBalance(ctx)
	}
	return nil
}

// backoffDelay returns BaseDelay * 2^attempt capped at MaxDelay
func (e *Engine) backoffDelay(attempt int) time.Duration {
	delay := e.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= e.cfg.MaxDelay {
			return e.cfg.MaxDelay
		}
	}
	return delay
}

// finishPass derives the aggregate state, annotates the platform order,
// triggers delivery when every purchase is complete, and alerts the operator
// on terminal failure.
func (e *Engine) finishPass(ctx context.Context, orderID string) (fulfillment.OrderState, error) {
	records, err := e.ledger.RecordsForOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("load records for order %s: %w", orderID, err)
	}

	if fulfillment.ReadyForDelivery(records) {
		if err := e.dispatcher.Deliver(ctx, orderID); err != nil {
			// Keys are procured; delivery retries independently of
			// purchase. The order stays purchased, never re-bought.
			e.logger.Error("delivery failed, will retry",
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
		if records, err = e.ledger.RecordsForOrder(ctx, orderID); err != nil {
			return "", fmt.Errorf("load records for order %s: %w", orderID, err)
		}
	}

	state := fulfillment.DeriveOrderState(records)
	if err := e.orders.AnnotateFulfillmentStatus(ctx, orderID, state); err != nil {
		e.logger.Error("failed to annotate order",
			zap.String("order_id", orderID),
			zap.String("state", state.String()),
			zap.Error(err),
		)
	}

	if state == fulfillment.OrderStateFailed || state == fulfillment.OrderStatePartial {
		e.alertOrderFailure(ctx, orderID, records)
	}

	return state, nil
}

// alertOrderFailure tells the operator which line items need manual
// attention. Best effort; failures are logged only.
func (e *Engine) alertOrderFailure(ctx context.Context, orderID string, records []*fulfillment.Record) {
	var lines []string
	for _, r := range records {
		if r.IsExhausted() || r.Status == fulfillment.StatusCancelled {
			lines = append(lines, fmt.Sprintf("%s (supplier ref %q): %s",
				r.ProductName, r.SupplierRef, r.LastError))
		}
	}
	if len(lines) == 0 {
		return
	}
	if err := e.notifier.SendOrderFailureAlert(ctx, orderID, strings.Join(lines, "; ")); err != nil {
		e.logger.Warn("failed to send order failure alert",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

func (e *Engine) alertLowBalance(ctx context.Context) {
	balance, err := e.gateway.AccountBalance(ctx)
	if err != nil {
		e.logger.Warn("failed to fetch balance for alert", zap.Error(err))
		return
	}
	if err := e.notifier.SendLowBalanceAlert(ctx, balance.Total(), balance.Currency); err != nil {
		e.logger.Warn("failed to send low balance alert", zap.Error(err))
	}
}

// CancelOrder cancels local fulfillment and best-effort cancels supplier
// orders that were purchased but not yet delivered. Supplier cancel failures
// are logged and never block the local cancellation; the wholesale purchase
// may simply be a sunk cost.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	records, err := e.ledger.RecordsForOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load records for order %s: %w", orderID, err)
	}

	for _, rec := range records {
		if rec.Status == fulfillment.StatusDelivered || rec.Status == fulfillment.StatusCancelled {
			continue
		}

		if rec.SupplierRef != "" && rec.Status != fulfillment.StatusDelivering {
			if err := e.gateway.CancelOrder(ctx, rec.SupplierRef); err != nil {
				e.logger.Warn("supplier cancel failed",
					zap.String("order_id", orderID),
					zap.String("supplier_ref", rec.SupplierRef),
					zap.Error(err),
				)
			}
		}

		if err := e.ledger.MarkCancelled(ctx, rec.ID.String()); err != nil && !isConcurrencyConflict(err) {
			return fmt.Errorf("cancel record %s: %w", rec.ID, err)
		}
	}

	if err := e.orders.AnnotateFulfillmentStatus(ctx, orderID, fulfillment.OrderStateFailed); err != nil {
		e.logger.Error("failed to annotate cancelled order",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
	return nil
}

// RetryLineItem is the manual operator retry: it resets an exhausted
// record's attempt budget and re-runs fulfillment for the order
func (e *Engine) RetryLineItem(ctx context.Context, orderID, lineItemID string) (fulfillment.OrderState, error) {
	records, err := e.ledger.RecordsForOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("load records for order %s: %w", orderID, err)
	}

	var target *fulfillment.Record
	for _, r := range records {
		if r.LineItemID == lineItemID {
			target = r
			break
		}
	}
	if target == nil {
		return "", shared.ErrNotFound
	}
	if target.Status == fulfillment.StatusFailed {
		if err := e.ledger.ResetAttempts(ctx, target.ID.String()); err != nil && !isConcurrencyConflict(err) {
			return "", fmt.Errorf("reset record %s: %w", target.ID, err)
		}
	}

	return e.FulfillOrder(ctx, orderID)
}

func lineItemByID(order *storefront.Order, lineItemID string) (storefront.LineItem, bool) {
	for _, li := range order.LineItems {
		if li.ID == lineItemID {
			return li, true
		}
	}
	return storefront.LineItem{}, false
}

// isConcurrencyConflict reports whether another caller won a ledger
// transition race; losing one is expected under concurrent triggers
func isConcurrencyConflict(err error) bool {
	return errors.Is(err, shared.ErrConcurrencyConflict)
}
