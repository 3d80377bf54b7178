package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers processed event IDs so webhook redelivery
// never double-applies an event.
type IdempotencyStore interface {
	// MarkProcessed claims eventID for ttl. Exactly one concurrent
	// caller gets true; everyone else sees false.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether eventID is currently claimed.
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	Close() error
}

// IdempotencyConfig controls event dedupe.
type IdempotencyConfig struct {
	// TTL bounds how long an event ID stays claimed. Suppliers retry
	// for at most a day, so a replay after TTL is safe to reprocess.
	TTL time.Duration

	Enabled bool
}

// DefaultIdempotencyConfig claims event IDs for 24 hours.
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
