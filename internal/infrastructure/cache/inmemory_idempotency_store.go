// Package cache provides the idempotency stores backing webhook event
// dedupe: an in-memory store for single-instance deployments and a
// redis-backed one for deployments that share state across instances.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/keysync/backend/internal/domain/shared"
)

const purgeInterval = 5 * time.Minute

// InMemoryIdempotencyStore tracks processed event IDs with a TTL in a
// map. A janitor goroutine purges expired IDs until Close.
type InMemoryIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]time.Time // event ID -> expiry

	now func() time.Time

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)

// NewInMemoryIdempotencyStore creates the store and starts its janitor.
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	s := &InMemoryIdempotencyStore{
		seen:    make(map[string]time.Time),
		now:     time.Now,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.janitor()
	return s
}

// MarkProcessed records eventID for ttl. It returns false when the
// event was already recorded and has not expired, so exactly one
// caller ever gets true per event.
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.seen[eventID]; ok && s.now().Before(expiry) {
		return false, nil
	}
	s.seen[eventID] = s.now().Add(ttl)
	return true, nil
}

// IsProcessed reports whether eventID is recorded and unexpired.
func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.seen[eventID]
	return ok && s.now().Before(expiry), nil
}

// Close stops the janitor. Safe to call more than once.
func (s *InMemoryIdempotencyStore) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.stopped
	})
	return nil
}

func (s *InMemoryIdempotencyStore) janitor() {
	defer close(s.stopped)

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.purge()
		}
	}
}

func (s *InMemoryIdempotencyStore) purge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for eventID, expiry := range s.seen {
		if !now.Before(expiry) {
			delete(s.seen, eventID)
		}
	}
}
