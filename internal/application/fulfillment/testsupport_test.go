package fulfillment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/keysync/backend/internal/domain/fulfillment"
	"github.com/keysync/backend/internal/domain/shared"
	"github.com/keysync/backend/internal/domain/storefront"
	"github.com/keysync/backend/internal/domain/supplier"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// memLedger is an in-memory Repository with the same conditional-transition
// semantics as the database implementation. Concurrency tests need real
// compare-and-swap behavior, which a call-recording mock cannot provide.
type memLedger struct {
	mu      sync.Mutex
	records map[string]*fulfillment.Record
	byPair  map[string]string
}

func newMemLedger() *memLedger {
	return &memLedger{
		records: make(map[string]*fulfillment.Record),
		byPair:  make(map[string]string),
	}
}

func pairKey(orderID, lineItemID string) string {
	return orderID + "|" + lineItemID
}

func (l *memLedger) EnsureRecord(ctx context.Context, record *fulfillment.Record) (*fulfillment.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.byPair[pairKey(record.OrderID, record.LineItemID)]; ok {
		return cloneRecord(l.records[id]), nil
	}
	stored := cloneRecord(record)
	l.records[stored.ID.String()] = stored
	l.byPair[pairKey(stored.OrderID, stored.LineItemID)] = stored.ID.String()
	return cloneRecord(stored), nil
}

func (l *memLedger) FindByID(ctx context.Context, id string) (*fulfillment.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (l *memLedger) RecordsForOrder(ctx context.Context, orderID string) ([]*fulfillment.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*fulfillment.Record
	for _, rec := range l.records {
		if rec.OrderID == orderID {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (l *memLedger) FindBySupplierRef(ctx context.Context, supplierRef string) ([]*fulfillment.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*fulfillment.Record
	for _, rec := range l.records {
		if rec.SupplierRef == supplierRef {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (l *memLedger) FindRetryable(ctx context.Context, now time.Time, limit int) ([]*fulfillment.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*fulfillment.Record
	for _, rec := range l.records {
		if rec.IsRetryable(now) {
			out = append(out, cloneRecord(rec))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (l *memLedger) transition(id string, from, to fulfillment.RecordStatus, update func(*fulfillment.Record)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return shared.ErrNotFound
	}
	if rec.Status != from {
		return fmt.Errorf("transition %s -> %s: %w", rec.Status, to, shared.ErrConcurrencyConflict)
	}
	rec.Status = to
	rec.UpdatedAt = time.Now()
	if update != nil {
		update(rec)
	}
	return nil
}

func (l *memLedger) BeginPurchase(ctx context.Context, id string) error {
	return l.transition(id, fulfillment.StatusPending, fulfillment.StatusPurchasing, func(r *fulfillment.Record) {
		r.AttemptCount++
	})
}

func (l *memLedger) RetryPurchase(ctx context.Context, id string) error {
	return l.transition(id, fulfillment.StatusFailed, fulfillment.StatusPurchasing, func(r *fulfillment.Record) {
		r.AttemptCount++
		r.NextRetryAt = nil
	})
}

func (l *memLedger) StoreSupplierRef(ctx context.Context, id string, supplierRef string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return shared.ErrNotFound
	}
	rec.SupplierRef = supplierRef
	return nil
}

func (l *memLedger) MarkPurchased(ctx context.Context, id string, supplierRef string, keys []supplier.Key) error {
	return l.transition(id, fulfillment.StatusPurchasing, fulfillment.StatusPurchased, func(r *fulfillment.Record) {
		r.SupplierRef = supplierRef
		if len(r.Keys) == 0 {
			r.Keys = append([]supplier.Key(nil), keys...)
		}
		r.LastError = ""
		r.NextRetryAt = nil
	})
}

func (l *memLedger) MarkFailed(ctx context.Context, id string, errorMessage string, nextRetryAt *time.Time) error {
	return l.transition(id, fulfillment.StatusPurchasing, fulfillment.StatusFailed, func(r *fulfillment.Record) {
		r.LastError = errorMessage
		r.NextRetryAt = nextRetryAt
	})
}

func (l *memLedger) BeginDelivery(ctx context.Context, id string) error {
	return l.transition(id, fulfillment.StatusPurchased, fulfillment.StatusDelivering, nil)
}

func (l *memLedger) MarkDelivered(ctx context.Context, id string) error {
	return l.transition(id, fulfillment.StatusDelivering, fulfillment.StatusDelivered, nil)
}

func (l *memLedger) RevertDelivery(ctx context.Context, id string) error {
	return l.transition(id, fulfillment.StatusDelivering, fulfillment.StatusPurchased, nil)
}

func (l *memLedger) MarkCancelled(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return shared.ErrNotFound
	}
	if !rec.Status.CanTransitionTo(fulfillment.StatusCancelled) {
		return fmt.Errorf("cancel from %s: %w", rec.Status, shared.ErrConcurrencyConflict)
	}
	rec.Status = fulfillment.StatusCancelled
	return nil
}

func (l *memLedger) ResetAttempts(ctx context.Context, id string) error {
	return l.transition(id, fulfillment.StatusFailed, fulfillment.StatusPending, func(r *fulfillment.Record) {
		r.AttemptCount = 0
		r.NextRetryAt = nil
		r.LastError = ""
	})
}

// forceRetryEligible moves a record's retry time into the past so a test
// does not have to wait out the backoff
func (l *memLedger) forceRetryEligible(orderID, lineItemID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.byPair[pairKey(orderID, lineItemID)]; ok {
		past := time.Now().Add(-time.Second)
		l.records[id].NextRetryAt = &past
	}
}

// record returns a copy of the record for an (order, line item) pair
func (l *memLedger) record(orderID, lineItemID string) *fulfillment.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.byPair[pairKey(orderID, lineItemID)]; ok {
		return cloneRecord(l.records[id])
	}
	return nil
}

// snapshot returns a deep copy of all records for before/after comparisons
func (l *memLedger) snapshot() map[string]fulfillment.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]fulfillment.Record, len(l.records))
	for id, rec := range l.records {
		out[id] = *cloneRecord(rec)
	}
	return out
}

func cloneRecord(r *fulfillment.Record) *fulfillment.Record {
	c := *r
	c.Keys = append([]supplier.Key(nil), r.Keys...)
	if r.NextRetryAt != nil {
		at := *r.NextRetryAt
		c.NextRetryAt = &at
	}
	return &c
}

var _ fulfillment.Repository = (*memLedger)(nil)

// purchaseOutcome scripts the gateway's reaction to one purchase attempt
type purchaseOutcome struct {
	result *supplier.PurchaseResult
	err    error
}

// stubGateway counts purchase calls per idempotency key and replays the
// stored result for a repeated key, the way a deduplicating supplier would
type stubGateway struct {
	mu        sync.Mutex
	outcomes  map[string][]purchaseOutcome // by supplier product ID, consumed in order
	calls     map[string]int               // purchase calls by idempotency key
	completed map[string]*supplier.PurchaseResult
	statuses  map[string]*supplier.PurchaseResult // OrderStatus by supplier ref
	cancelled []string
	balance   supplier.Balance
	refSeq    int
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		outcomes:  make(map[string][]purchaseOutcome),
		calls:     make(map[string]int),
		completed: make(map[string]*supplier.PurchaseResult),
		statuses:  make(map[string]*supplier.PurchaseResult),
		balance:   supplier.Balance{Current: decimal.NewFromInt(100), Currency: "EUR"},
	}
}

func (g *stubGateway) script(supplierProductID string, outcomes ...purchaseOutcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes[supplierProductID] = append(g.outcomes[supplierProductID], outcomes...)
}

func successOutcome(keys ...supplier.Key) purchaseOutcome {
	return purchaseOutcome{result: &supplier.PurchaseResult{
		Status: supplier.OrderStatusCompleted,
		Keys:   keys,
	}}
}

func errorOutcome(err error) purchaseOutcome {
	return purchaseOutcome{err: err}
}

func (g *stubGateway) Purchase(ctx context.Context, req supplier.PurchaseRequest) (*supplier.PurchaseResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls[req.IdempotencyKey]++

	// Supplier-side idempotency: a repeated key returns the original order
	if res, ok := g.completed[req.IdempotencyKey]; ok {
		return res, nil
	}

	queue := g.outcomes[req.SupplierProductID]
	if len(queue) == 0 {
		return nil, supplier.ErrInvalidProduct
	}
	next := queue[0]
	g.outcomes[req.SupplierProductID] = queue[1:]

	if next.err != nil {
		return nil, next.err
	}

	g.refSeq++
	res := *next.result
	res.SupplierRef = fmt.Sprintf("co-%03d", g.refSeq)
	g.completed[req.IdempotencyKey] = &res
	g.statuses[res.SupplierRef] = &res
	return &res, nil
}

func (g *stubGateway) OrderStatus(ctx context.Context, supplierRef string) (*supplier.PurchaseResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if res, ok := g.statuses[supplierRef]; ok {
		return res, nil
	}
	return nil, supplier.ErrOrderNotFound
}

func (g *stubGateway) setStatus(supplierRef string, res *supplier.PurchaseResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[supplierRef] = res
}

func (g *stubGateway) CancelOrder(ctx context.Context, supplierRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.statuses[supplierRef]; !ok {
		return supplier.ErrOrderNotFound
	}
	g.cancelled = append(g.cancelled, supplierRef)
	return nil
}

func (g *stubGateway) AccountBalance(ctx context.Context) (*supplier.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.balance
	return &b, nil
}

func (g *stubGateway) ListProducts(ctx context.Context, page, pageSize int) ([]supplier.Product, error) {
	return nil, nil
}

func (g *stubGateway) GetProduct(ctx context.Context, productID string) (*supplier.Product, error) {
	return nil, supplier.ErrInvalidProduct
}

// purchaseCalls returns the number of purchase calls per idempotency key
func (g *stubGateway) purchaseCalls() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.calls))
	for k, v := range g.calls {
		out[k] = v
	}
	return out
}

var _ supplier.Gateway = (*stubGateway)(nil)

// stubOrders is an in-memory OrderCollaborator
type stubOrders struct {
	mu          sync.Mutex
	orders      map[string]*storefront.Order
	annotations map[string][]fulfillment.OrderState
	notes       map[string][]string
	unfulfilled []string
}

func newStubOrders(orders ...*storefront.Order) *stubOrders {
	s := &stubOrders{
		orders:      make(map[string]*storefront.Order),
		annotations: make(map[string][]fulfillment.OrderState),
		notes:       make(map[string][]string),
	}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *stubOrders) GetPaidOrder(ctx context.Context, orderID string) (*storefront.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, storefront.ErrOrderNotFound
	}
	return o, nil
}

func (s *stubOrders) AnnotateFulfillmentStatus(ctx context.Context, orderID string, state fulfillment.OrderState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotations[orderID] = append(s.annotations[orderID], state)
	return nil
}

func (s *stubOrders) AddCustomerVisibleNote(ctx context.Context, orderID string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[orderID] = append(s.notes[orderID], text)
	return nil
}

func (s *stubOrders) ListPaidOrdersWithoutFulfillment(ctx context.Context, since time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.unfulfilled...), nil
}

func (s *stubOrders) lastAnnotation(orderID string) fulfillment.OrderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := s.annotations[orderID]
	if len(states) == 0 {
		return ""
	}
	return states[len(states)-1]
}

var _ storefront.OrderCollaborator = (*stubOrders)(nil)

// MockNotifier is a mock NotificationCollaborator
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendLowBalanceAlert(ctx context.Context, balance decimal.Decimal, currency string) error {
	args := m.Called(ctx, balance, currency)
	return args.Error(0)
}

func (m *MockNotifier) SendOrderFailureAlert(ctx context.Context, orderID string, details string) error {
	args := m.Called(ctx, orderID, details)
	return args.Error(0)
}

var _ storefront.NotificationCollaborator = (*MockNotifier)(nil)

// relaxedNotifier accepts any alert; for tests not asserting on alerts
func relaxedNotifier() *MockNotifier {
	n := &MockNotifier{}
	n.On("SendLowBalanceAlert", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	n.On("SendOrderFailureAlert", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return n
}

// stubChannel records key deliveries and can fail a number of times first
type stubChannel struct {
	mu        sync.Mutex
	failures  int
	delivered [][]supplier.Key
}

func (c *stubChannel) DeliverKeys(ctx context.Context, orderID string, keys []supplier.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return fmt.Errorf("smtp unavailable")
	}
	c.delivered = append(c.delivered, append([]supplier.Key(nil), keys...))
	return nil
}

func (c *stubChannel) deliveries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}

var _ storefront.KeyDeliveryChannel = (*stubChannel)(nil)

// testOrder builds a paid order with one line item per supplier product ID
func testOrder(orderID string, supplierProductIDs ...string) *storefront.Order {
	o := &storefront.Order{
		ID:       orderID,
		Currency: "EUR",
		PaidAt:   time.Now(),
	}
	for i, spid := range supplierProductIDs {
		o.LineItems = append(o.LineItems, storefront.LineItem{
			ID:                fmt.Sprintf("item-%d", i+1),
			LocalProductID:    fmt.Sprintf("wc-%d", i+1),
			SupplierProductID: spid,
			ProductName:       fmt.Sprintf("Game %d", i+1),
			Quantity:          1,
			UnitPrice:         decimal.NewFromInt(10),
		})
	}
	o.Total = decimal.NewFromInt(int64(10 * len(o.LineItems)))
	return o
}
