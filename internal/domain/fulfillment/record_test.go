package fulfillment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord(t *testing.T) *Record {
	t.Helper()
	r, err := NewRecord("order-1001", "item-1", "Cyber Quest II", "sp-77aa", 1, 3)
	require.NoError(t, err)
	return r
}

func TestNewRecord(t *testing.T) {
	tests := []struct {
		name        string
		orderID     string
		lineItemID  string
		supplierPID string
		quantity    int
		maxAttempts int
		wantErr     bool
	}{
		{"valid record", "order-1", "item-1", "sp-1", 1, 3, false},
		{"empty order ID", "", "item-1", "sp-1", 1, 3, true},
		{"empty line item ID", "order-1", "", "sp-1", 1, 3, true},
		{"empty supplier product", "order-1", "item-1", "", 1, 3, true},
		{"zero quantity", "order-1", "item-1", "sp-1", 0, 3, true},
		{"negative quantity", "order-1", "item-1", "sp-1", -2, 3, true},
		{"zero max attempts", "order-1", "item-1", "sp-1", 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRecord(tt.orderID, tt.lineItemID, "Game", tt.supplierPID, tt.quantity, tt.maxAttempts)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusPending, r.Status)
			assert.Zero(t, r.AttemptCount)
			assert.Empty(t, r.Keys)
			assert.NotEqual(t, "", r.ID.String())
		})
	}
}

func TestRecordStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    RecordStatus
		to      RecordStatus
		allowed bool
	}{
		{StatusPending, StatusPurchasing, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusPurchased, false},
		{StatusPurchasing, StatusPurchased, true},
		{StatusPurchasing, StatusFailed, true},
		{StatusPurchasing, StatusDelivered, false},
		{StatusPurchased, StatusDelivering, true},
		{StatusPurchased, StatusCancelled, true},
		{StatusDelivering, StatusDelivered, true},
		{StatusDelivering, StatusPurchased, true}, // delivery rollback
		{StatusDelivered, StatusPending, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusFailed, StatusPending, true}, // retry re-entry
		{StatusFailed, StatusPurchased, false},
		{StatusCancelled, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRecord_IdempotencyKey(t *testing.T) {
	r := newTestRecord(t)
	assert.Equal(t, "order-1001_item-1", r.IdempotencyKey())

	// Same order and line item must always produce the same key
	other, err := NewRecord("order-1001", "item-1", "Cyber Quest II", "sp-77aa", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, r.IdempotencyKey(), other.IdempotencyKey())
}

func TestRecord_IsExhausted(t *testing.T) {
	r := newTestRecord(t)
	assert.False(t, r.IsExhausted())

	retryAt := time.Now().Add(time.Minute)

	r.Status = StatusFailed
	r.AttemptCount = 2
	r.NextRetryAt = &retryAt
	assert.False(t, r.IsExhausted())

	// Attempt budget used up
	r.AttemptCount = 3
	assert.True(t, r.IsExhausted())
	assert.True(t, r.IsTerminal())

	// Permanent failure: no retry ever scheduled
	r.AttemptCount = 1
	r.NextRetryAt = nil
	assert.True(t, r.IsExhausted())
}

func TestRecord_IsRetryable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	tests := []struct {
		name        string
		status      RecordStatus
		attempts    int
		nextRetryAt *time.Time
		want        bool
	}{
		{"failed with past retry time", StatusFailed, 1, &past, true},
		{"failed with no retry time is permanent", StatusFailed, 1, nil, false},
		{"failed with future retry time", StatusFailed, 1, &future, false},
		{"exhausted", StatusFailed, 3, &past, false},
		{"pending", StatusPending, 0, nil, false},
		{"purchased", StatusPurchased, 1, &past, false},
		{"delivered", StatusDelivered, 1, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRecord(t)
			r.Status = tt.status
			r.AttemptCount = tt.attempts
			r.NextRetryAt = tt.nextRetryAt
			assert.Equal(t, tt.want, r.IsRetryable(now))
		})
	}
}

func TestRecord_IsTerminal(t *testing.T) {
	r := newTestRecord(t)

	r.Status = StatusDelivered
	assert.True(t, r.IsTerminal())

	r.Status = StatusCancelled
	assert.True(t, r.IsTerminal())

	r.Status = StatusFailed
	r.AttemptCount = 1
	assert.False(t, r.IsTerminal())

	r.Status = StatusPurchasing
	assert.False(t, r.IsTerminal())
}
