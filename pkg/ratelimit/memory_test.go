package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AllowsUpToLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := store.Allow(ctx, "ws-1", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(5-i-1), res.Remaining)
	}

	res, err := store.Allow(ctx, "ws-1", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestMemoryStore_KeysAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	res, err := store.Allow(ctx, "ws-1", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = store.Allow(ctx, "ws-1", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = store.Allow(ctx, "ws-2", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "a second key must have its own quota")
}

func TestMemoryStore_WindowResets(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	res, err := store.Allow(ctx, "ws-1", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = store.Allow(ctx, "ws-1", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	assert.Equal(t, time.Minute, res.RetryAfter)

	now = now.Add(time.Minute)
	res, err = store.Allow(ctx, "ws-1", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "quota must reset once the window rolls over")
}
