package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keysync/backend/internal/infrastructure/auth"
)

func TestInMemoryTokenBlacklist(t *testing.T) {
	ctx := context.Background()
	blacklist := auth.NewInMemoryTokenBlacklist()

	t.Run("revoked JTI reads back as blacklisted", func(t *testing.T) {
		require.NoError(t, blacklist.AddToBlacklist(ctx, "jti-revoked", time.Hour))

		revoked, err := blacklist.IsBlacklisted(ctx, "jti-revoked")
		require.NoError(t, err)
		assert.True(t, revoked)
	})

	t.Run("unknown JTI is not blacklisted", func(t *testing.T) {
		revoked, err := blacklist.IsBlacklisted(ctx, "jti-never-seen")
		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("revocations are independent", func(t *testing.T) {
		require.NoError(t, blacklist.AddToBlacklist(ctx, "jti-a", time.Hour))
		require.NoError(t, blacklist.AddToBlacklist(ctx, "jti-b", time.Hour))

		for _, jti := range []string{"jti-a", "jti-b"} {
			revoked, err := blacklist.IsBlacklisted(ctx, jti)
			require.NoError(t, err)
			assert.True(t, revoked, jti)
		}
	})
}

func TestInMemoryTokenBlacklist_RevocationExpires(t *testing.T) {
	ctx := context.Background()
	blacklist := auth.NewInMemoryTokenBlacklist()

	require.NoError(t, blacklist.AddToBlacklist(ctx, "jti-short", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	// Once the token itself would be expired, the revocation entry is
	// moot and reads back as not blacklisted.
	revoked, err := blacklist.IsBlacklisted(ctx, "jti-short")
	require.NoError(t, err)
	assert.False(t, revoked)
}
