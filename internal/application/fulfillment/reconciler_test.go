package fulfillment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/keysync/backend/internal/domain/fulfillment"
	"github.com/keysync/backend/internal/domain/supplier"
	"github.com/keysync/backend/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubVerifier accepts exactly one signature value
type stubVerifier struct{ valid string }

func (v *stubVerifier) Verify(payload []byte, signature string) error {
	if signature != v.valid {
		return supplier.ErrInvalidSignature
	}
	return nil
}

// stubRefresher records refreshed supplier product IDs, failing with err
// while it is set
type stubRefresher struct {
	mu       sync.Mutex
	products []string
	err      error
}

func (r *stubRefresher) RefreshFromSupplier(ctx context.Context, supplierProductID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.products = append(r.products, supplierProductID)
	return nil
}

func (r *stubRefresher) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

type reconcilerFixture struct {
	reconciler *Reconciler
	ledger     *memLedger
	gateway    *stubGateway
	orders     *stubOrders
	channel    *stubChannel
	refresher  *stubRefresher
}

func newReconcilerFixture(t *testing.T, orders *stubOrders) *reconcilerFixture {
	t.Helper()
	ledger := newMemLedger()
	gateway := newStubGateway()
	channel := &stubChannel{}
	refresher := &stubRefresher{}
	store := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })

	dispatcher := NewDispatcher(ledger, channel, orders, nil)
	reconciler := NewReconciler(
		&stubVerifier{valid: "good-sig"},
		store,
		time.Hour,
		ledger,
		gateway,
		refresher,
		dispatcher,
		orders,
		nil,
	)
	return &reconcilerFixture{
		reconciler: reconciler,
		ledger:     ledger,
		gateway:    gateway,
		orders:     orders,
		channel:    channel,
		refresher:  refresher,
	}
}

// seedFailedPreorder creates a ledger record that purchased as a pre-order:
// failed locally, supplier reference stored, waiting for key assignment
func (f *reconcilerFixture) seedFailedPreorder(t *testing.T, orderID, supplierRef string) *fulfillment.Record {
	t.Helper()
	ctx := context.Background()
	rec, err := fulfillment.NewRecord(orderID, "item-1", "Game 1", "sp-pre", 1, 3)
	require.NoError(t, err)
	stored, err := f.ledger.EnsureRecord(ctx, rec)
	require.NoError(t, err)
	require.NoError(t, f.ledger.BeginPurchase(ctx, stored.ID.String()))
	require.NoError(t, f.ledger.StoreSupplierRef(ctx, stored.ID.String(), supplierRef))
	retryAt := time.Now().Add(time.Hour)
	require.NoError(t, f.ledger.MarkFailed(ctx, stored.ID.String(), "keys not yet assigned", &retryAt))
	return stored
}

func TestProcessWebhook_InvalidSignatureNoMutation(t *testing.T) {
	order := testOrder("order-1", "sp-pre")
	f := newReconcilerFixture(t, newStubOrders(order))
	f.seedFailedPreorder(t, "order-1", "co-900")

	before := f.ledger.snapshot()

	payload := []byte(`{"id":"evt-1","type":"preorderAssigned","orderId":"co-900"}`)
	err := f.reconciler.ProcessWebhook(context.Background(), payload, "forged")
	assert.ErrorIs(t, err, supplier.ErrInvalidSignature)

	// No ledger mutation of any kind
	assert.Equal(t, before, f.ledger.snapshot())
	assert.Empty(t, f.refresher.products)
	assert.Equal(t, 0, f.channel.deliveries())
}

func TestProcessWebhook_MalformedPayloadRejected(t *testing.T) {
	f := newReconcilerFixture(t, newStubOrders())

	for _, payload := range []string{
		`not json at all`,
		`{"type":"preorderAssigned","orderId":"co-1"}`,
		`{"id":"evt-1","type":"unknownKind"}`,
		`{"id":"evt-1","type":"stockAndPriceChange"}`,
	} {
		err := f.reconciler.ProcessWebhook(context.Background(), []byte(payload), "good-sig")
		assert.ErrorIs(t, err, supplier.ErrMalformedEvent, "payload %s", payload)
	}
}

func TestProcessWebhook_StockAndPriceChange(t *testing.T) {
	f := newReconcilerFixture(t, newStubOrders())

	payload := []byte(`{"id":"evt-10","type":"stockAndPriceChange","productId":"sp-42"}`)
	require.NoError(t, f.reconciler.ProcessWebhook(context.Background(), payload, "good-sig"))
	assert.Equal(t, []string{"sp-42"}, f.refresher.products)
}

func TestProcessWebhook_DuplicateEventIgnored(t *testing.T) {
	f := newReconcilerFixture(t, newStubOrders())

	payload := []byte(`{"id":"evt-11","type":"productUpdate","productId":"sp-42"}`)
	require.NoError(t, f.reconciler.ProcessWebhook(context.Background(), payload, "good-sig"))
	require.NoError(t, f.reconciler.ProcessWebhook(context.Background(), payload, "good-sig"))

	assert.Equal(t, []string{"sp-42"}, f.refresher.products, "replayed event applied once")
}

func TestProcessWebhook_FailedEventStaysRedeliverable(t *testing.T) {
	f := newReconcilerFixture(t, newStubOrders())

	// First delivery fails downstream; the supplier gets an error back and
	// will redeliver the same event ID.
	f.refresher.setErr(assert.AnError)
	payload := []byte(`{"id":"evt-90","type":"stockAndPriceChange","productId":"sp-90"}`)
	require.Error(t, f.reconciler.ProcessWebhook(context.Background(), payload, "good-sig"))
	assert.Empty(t, f.refresher.products)

	// The failed attempt must not have claimed the event ID: the redelivery
	// applies the event instead of being dropped as a duplicate.
	f.refresher.setErr(nil)
	require.NoError(t, f.reconciler.ProcessWebhook(context.Background(), payload, "good-sig"))
	assert.Equal(t, []string{"sp-90"}, f.refresher.products)

	// And once applied, further redeliveries dedupe as before
	require.NoError(t, f.reconciler.ProcessWebhook(context.Background(), payload, "good-sig"))
	assert.Equal(t, []string{"sp-90"}, f.refresher.products)
}

func TestProcessWebhook_PreorderAssignedCompletesFulfillment(t *testing.T) {
	order := testOrder("order-1", "sp-pre")
	orders := newStubOrders(order)
	f := newReconcilerFixture(t, orders)
	f.seedFailedPreorder(t, "order-1", "co-900")

	f.gateway.setStatus("co-900", &supplier.PurchaseResult{
		SupplierRef: "co-900",
		Status:      supplier.OrderStatusCompleted,
		Keys:        []supplier.Key{{Code: "PRE-KEY", Platform: "Steam"}},
	})

	payload := []byte(`{"id":"evt-20","type":"preorderAssigned","orderId":"co-900"}`)
	require.NoError(t, f.reconciler.ProcessWebhook(context.Background(), payload, "good-sig"))

	rec := f.ledger.record("order-1", "item-1")
	assert.Equal(t, fulfillment.StatusDelivered, rec.Status)
	require.Len(t, rec.Keys, 1)
	assert.Equal(t, "PRE-KEY", rec.Keys[0].Code)
	assert.Equal(t, 1, f.channel.deliveries())
	assert.Equal(t, fulfillment.OrderStateCompleted, orders.lastAnnotation("order-1"))
}

func TestProcessWebhook_PreorderAssignedReplayIsNoop(t *testing.T) {
	order := testOrder("order-1", "sp-pre")
	f := newReconcilerFixture(t, newStubOrders(order))
	f.seedFailedPreorder(t, "order-1", "co-900")

	f.gateway.setStatus("co-900", &supplier.PurchaseResult{
		SupplierRef: "co-900",
		Status:      supplier.OrderStatusCompleted,
		Keys:        []supplier.Key{{Code: "PRE-KEY"}},
	})

	first := []byte(`{"id":"evt-30","type":"preorderAssigned","orderId":"co-900"}`)
	require.NoError(t, f.reconciler.ProcessWebhook(context.Background(), first, "good-sig"))
	require.Equal(t, fulfillment.StatusDelivered, f.ledger.record("order-1", "item-1").Status)

	before := f.ledger.snapshot()

	// Same supplier event redelivered under a fresh event ID: the record is
	// already delivered, so nothing moves
	replay := []byte(`{"id":"evt-31","type":"preorderAssigned","orderId":"co-900"}`)
	require.NoError(t, f.reconciler.ProcessWebhook(context.Background(), replay, "good-sig"))

	assert.Equal(t, before, f.ledger.snapshot())
	assert.Equal(t, 1, f.channel.deliveries())
}

func TestProcessWebhook_PreorderAssignedKeysNotReady(t *testing.T) {
	order := testOrder("order-1", "sp-pre")
	f := newReconcilerFixture(t, newStubOrders(order))
	f.seedFailedPreorder(t, "order-1", "co-900")

	f.gateway.setStatus("co-900", &supplier.PurchaseResult{
		SupplierRef: "co-900",
		Status:      supplier.OrderStatusPreorder,
	})

	payload := []byte(`{"id":"evt-40","type":"preorderAssigned","orderId":"co-900"}`)
	require.NoError(t, f.reconciler.ProcessWebhook(context.Background(), payload, "good-sig"))

	// Event without usable keys leaves the record waiting
	assert.Equal(t, fulfillment.StatusFailed, f.ledger.record("order-1", "item-1").Status)
	assert.Equal(t, 0, f.channel.deliveries())
}
