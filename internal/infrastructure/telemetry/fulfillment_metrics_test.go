package telemetry_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keysync/backend/internal/domain/supplier"
	"github.com/keysync/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

func newTestFulfillmentMetrics(t *testing.T) *telemetry.FulfillmentMetrics {
	t.Helper()
	meter := noop.NewMeterProvider().Meter("test")

	fm, err := telemetry.NewFulfillmentMetrics(telemetry.FulfillmentMetricsConfig{
		Meter:  meter,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	require.NotNil(t, fm)
	return fm
}

func TestNewFulfillmentMetrics(t *testing.T) {
	newTestFulfillmentMetrics(t)
}

func TestNewFulfillmentMetrics_NilMeter(t *testing.T) {
	fm, err := telemetry.NewFulfillmentMetrics(telemetry.FulfillmentMetricsConfig{
		Meter:  nil,
		Logger: zap.NewNop(),
	})

	require.Error(t, err)
	assert.Nil(t, fm)
	assert.Equal(t, "NewFulfillmentMetrics: meter cannot be nil", err.Error())
}

func TestFulfillmentMetrics_RecordMethods(t *testing.T) {
	fm := newTestFulfillmentMetrics(t)
	ctx := context.Background()

	// Should not panic
	fm.PurchaseAttempted(ctx, true, 120*time.Millisecond)
	fm.PurchaseAttempted(ctx, false, 3*time.Second)
	fm.RetryScheduled(ctx)
	fm.KeysDelivered(ctx, 3)
	fm.WebhookEvent(ctx, "stockAndPriceChange", "processed")
	fm.WebhookEvent(ctx, "unknown", "rejected")
	fm.RecordSupplierBalance(ctx, &supplier.Balance{
		Current:  decimal.NewFromInt(120),
		Credit:   decimal.NewFromInt(30),
		Currency: "EUR",
	})
}

type stubBalanceProvider struct {
	calls atomic.Int32
}

func (p *stubBalanceProvider) AccountBalance(context.Context) (*supplier.Balance, error) {
	p.calls.Add(1)
	return &supplier.Balance{Current: decimal.NewFromInt(50), Currency: "EUR"}, nil
}

func TestFulfillmentMetrics_PeriodicCollection(t *testing.T) {
	fm := newTestFulfillmentMetrics(t)
	provider := &stubBalanceProvider{}

	fm.StartPeriodicCollection(context.Background(), provider, time.Hour)
	defer fm.Stop()

	// The first collection happens immediately on start
	assert.Eventually(t, func() bool {
		return provider.calls.Load() >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestFulfillmentMetrics_StopIsIdempotent(t *testing.T) {
	fm := newTestFulfillmentMetrics(t)

	fm.Stop()
	fm.Stop()
}
