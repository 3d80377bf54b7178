package fulfillment

import (
	"context"
	"time"

	"github.com/keysync/backend/internal/domain/supplier"
)

// Repository is the ledger contract. It exclusively owns record mutation;
// callers request transitions and never write storage directly.
//
// Every transition method is conditional on the record's current status and
// returns shared.ErrConcurrencyConflict when another caller won the race.
// That conditional update is the sole serialization point for concurrent
// trigger paths (payment hook, retry scheduler, webhook, admin retry).
type Repository interface {
	// EnsureRecord creates the record for (orderID, lineItemID) if it does not
	// exist, or returns the existing one. Re-entry never creates duplicates.
	EnsureRecord(ctx context.Context, record *Record) (*Record, error)

	// FindByID returns a record by its ID
	FindByID(ctx context.Context, id string) (*Record, error)

	// RecordsForOrder returns all records belonging to an order
	RecordsForOrder(ctx context.Context, orderID string) ([]*Record, error)

	// FindBySupplierRef returns all records carrying the given supplier
	// order reference
	FindBySupplierRef(ctx context.Context, supplierRef string) ([]*Record, error)

	// FindRetryable returns failed, non-exhausted records whose retry time
	// has passed, up to limit
	FindRetryable(ctx context.Context, now time.Time, limit int) ([]*Record, error)

	// BeginPurchase transitions pending -> purchasing and increments the
	// attempt count
	BeginPurchase(ctx context.Context, id string) error

	// RetryPurchase transitions failed -> purchasing for a non-exhausted
	// record and increments the attempt count
	RetryPurchase(ctx context.Context, id string) error

	// StoreSupplierRef records the supplier order reference on a record
	// without changing its status. Used when the supplier accepted an order
	// but has not assigned keys yet, so a later attempt can consult the
	// supplier instead of purchasing again.
	StoreSupplierRef(ctx context.Context, id string, supplierRef string) error

	// MarkPurchased transitions purchasing -> purchased, storing the supplier
	// reference and the procured keys. Keys are written exactly once here and
	// never cleared or overwritten afterwards.
	MarkPurchased(ctx context.Context, id string, supplierRef string, keys []supplier.Key) error

	// MarkFailed transitions purchasing -> failed with the error message and,
	// for retryable failures, the next retry time
	MarkFailed(ctx context.Context, id string, errorMessage string, nextRetryAt *time.Time) error

	// BeginDelivery transitions purchased -> delivering
	BeginDelivery(ctx context.Context, id string) error

	// MarkDelivered transitions delivering -> delivered
	MarkDelivered(ctx context.Context, id string) error

	// RevertDelivery transitions delivering -> purchased after a channel
	// failure so delivery can be retried without touching the purchase
	RevertDelivery(ctx context.Context, id string) error

	// MarkCancelled transitions a non-terminal record to cancelled
	MarkCancelled(ctx context.Context, id string) error

	// ResetAttempts clears the attempt budget of an exhausted record and
	// returns it to pending. Used by manual operator retry only.
	ResetAttempts(ctx context.Context, id string) error
}
