// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	appfulfillment "github.com/keysync/backend/internal/application/fulfillment"
	"github.com/keysync/backend/internal/domain/supplier"
)

// FulfillmentMetrics tracks the fulfillment pipeline: purchase attempts and
// latency, scheduled retries, delivered keys, webhook events, and the
// wholesale account balance.
type FulfillmentMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	purchaseAttemptsTotal *Counter
	retriesScheduledTotal *Counter
	keysDeliveredTotal    *Counter
	webhookEventsTotal    *Counter

	// Purchase latency distribution
	purchaseDuration *Histogram

	// Point-in-time wholesale balance
	supplierBalance *FloatGauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
}

// BalanceProvider supplies the wholesale account balance for periodic
// collection. The supplier gateway satisfies it.
type BalanceProvider interface {
	AccountBalance(ctx context.Context) (*supplier.Balance, error)
}

// FulfillmentMetricsConfig holds configuration for fulfillment metrics.
type FulfillmentMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewFulfillmentMetrics creates a new FulfillmentMetrics instance.
func NewFulfillmentMetrics(cfg FulfillmentMetricsConfig) (*FulfillmentMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fm := &FulfillmentMetrics{
		meter:    cfg.Meter,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	var err error

	fm.purchaseAttemptsTotal, err = NewCounter(
		cfg.Meter,
		"keysync_purchase_attempts_total",
		"Total number of wholesale purchase attempts",
		"{attempts}",
	)
	if err != nil {
		return nil, err
	}

	fm.retriesScheduledTotal, err = NewCounter(
		cfg.Meter,
		"keysync_purchase_retries_scheduled_total",
		"Total number of purchase retries scheduled after transient failures",
		"{retries}",
	)
	if err != nil {
		return nil, err
	}

	fm.keysDeliveredTotal, err = NewCounter(
		cfg.Meter,
		"keysync_keys_delivered_total",
		"Total number of product keys handed to the delivery channel",
		"{keys}",
	)
	if err != nil {
		return nil, err
	}

	fm.webhookEventsTotal, err = NewCounter(
		cfg.Meter,
		"keysync_webhook_events_total",
		"Total number of supplier push events received",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	fm.purchaseDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "keysync_purchase_duration_seconds",
		Description: "Wholesale purchase call duration",
		Unit:        "s",
		Boundaries:  HTTPDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	fm.supplierBalance, err = NewFloatGauge(
		cfg.Meter,
		"keysync_supplier_balance",
		"Current wholesale account balance",
		"{currency_units}",
	)
	if err != nil {
		return nil, err
	}

	return fm, nil
}

// PurchaseAttempted records one supplier purchase call and its latency.
func (fm *FulfillmentMetrics) PurchaseAttempted(ctx context.Context, succeeded bool, elapsed time.Duration) {
	outcome := "failed"
	if succeeded {
		outcome = "success"
	}
	fm.purchaseAttemptsTotal.Inc(ctx, AttrOutcome.String(outcome))
	fm.purchaseDuration.RecordDuration(ctx, elapsed, AttrOutcome.String(outcome))
}

// RetryScheduled records that a failed purchase was queued for retry.
func (fm *FulfillmentMetrics) RetryScheduled(ctx context.Context) {
	fm.retriesScheduledTotal.Inc(ctx)
}

// KeysDelivered records keys handed to the delivery channel.
func (fm *FulfillmentMetrics) KeysDelivered(ctx context.Context, count int) {
	fm.keysDeliveredTotal.Add(ctx, int64(count))
}

// WebhookEvent records one received supplier push event and its outcome.
func (fm *FulfillmentMetrics) WebhookEvent(ctx context.Context, eventType string, outcome string) {
	fm.webhookEventsTotal.Inc(ctx,
		AttrEventType.String(eventType),
		AttrOutcome.String(outcome),
	)
}

// RecordSupplierBalance records the current wholesale account balance.
func (fm *FulfillmentMetrics) RecordSupplierBalance(ctx context.Context, balance *supplier.Balance) {
	total, _ := balance.Total().Float64()
	fm.supplierBalance.Record(ctx, total, AttrCurrency.String(balance.Currency))
}

// StartPeriodicCollection starts periodic collection of the balance gauge.
// Non-blocking; use Stop() to stop collection.
func (fm *FulfillmentMetrics) StartPeriodicCollection(ctx context.Context, provider BalanceProvider, interval time.Duration) {
	fm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		go fm.runPeriodicCollection(ctx, provider, interval)
	})
}

func (fm *FulfillmentMetrics) runPeriodicCollection(ctx context.Context, provider BalanceProvider, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fm.collectBalance(ctx, provider)

	for {
		select {
		case <-fm.stopChan:
			fm.logger.Info("Stopping periodic fulfillment metrics collection")
			return
		case <-ctx.Done():
			fm.logger.Info("Context cancelled, stopping periodic fulfillment metrics collection")
			return
		case <-ticker.C:
			fm.collectBalance(ctx, provider)
		}
	}
}

func (fm *FulfillmentMetrics) collectBalance(ctx context.Context, provider BalanceProvider) {
	if provider == nil {
		fm.logger.Debug("No balance provider configured, skipping balance collection")
		return
	}
	balance, err := provider.AccountBalance(ctx)
	if err != nil {
		fm.logger.Warn("Failed to fetch wholesale balance for metrics", zap.Error(err))
		return
	}
	fm.RecordSupplierBalance(ctx, balance)
}

// Stop stops the periodic collection.
func (fm *FulfillmentMetrics) Stop() {
	fm.stopOnce.Do(func() {
		close(fm.stopChan)
	})
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewFulfillmentMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// Fulfillment metrics attribute keys
var (
	AttrOutcome   = attribute.Key("outcome")
	AttrEventType = attribute.Key("event_type")
	AttrCurrency  = attribute.Key("currency")
)

var _ appfulfillment.MetricsRecorder = (*FulfillmentMetrics)(nil)
