package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frozenStore returns a store with a controllable clock and no janitor
// dependency on wall time.
func frozenStore(t *testing.T) (*InMemoryIdempotencyStore, *time.Time) {
	t.Helper()
	s := NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = s.Close() })

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestMarkProcessed_FirstCallerWins(t *testing.T) {
	s, _ := frozenStore(t)
	ctx := context.Background()

	first, err := s.MarkProcessed(ctx, "evt-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.MarkProcessed(ctx, "evt-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, second)

	other, err := s.MarkProcessed(ctx, "evt-2", time.Hour)
	require.NoError(t, err)
	assert.True(t, other)
}

func TestMarkProcessed_ExpiredEntryIsReusable(t *testing.T) {
	s, now := frozenStore(t)
	ctx := context.Background()

	_, err := s.MarkProcessed(ctx, "evt-1", time.Minute)
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)

	again, err := s.MarkProcessed(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, again, "an expired event ID must be claimable again")
}

func TestIsProcessed(t *testing.T) {
	s, now := frozenStore(t)
	ctx := context.Background()

	processed, err := s.IsProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, processed)

	_, err = s.MarkProcessed(ctx, "evt-1", time.Minute)
	require.NoError(t, err)

	processed, err = s.IsProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)

	*now = now.Add(2 * time.Minute)

	processed, err = s.IsProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, processed, "expired events read as unprocessed")
}

func TestPurgeDropsOnlyExpiredEntries(t *testing.T) {
	s, now := frozenStore(t)
	ctx := context.Background()

	_, err := s.MarkProcessed(ctx, "stale", time.Minute)
	require.NoError(t, err)
	_, err = s.MarkProcessed(ctx, "fresh", time.Hour)
	require.NoError(t, err)

	*now = now.Add(10 * time.Minute)
	s.purge()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NotContains(t, s.seen, "stale")
	assert.Contains(t, s.seen, "fresh")
}

func TestClose_Idempotent(t *testing.T) {
	s := NewInMemoryIdempotencyStore()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestMarkProcessed_ConcurrentSingleWinner(t *testing.T) {
	s := NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	const goroutines = 16
	wins := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			ok, err := s.MarkProcessed(ctx, "evt-contended", time.Hour)
			assert.NoError(t, err)
			wins <- ok
		}()
	}

	var winners int
	for i := 0; i < goroutines; i++ {
		if <-wins {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}
