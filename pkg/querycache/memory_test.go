package querycache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getbeton/inspector-sub003/pkg/models"
)

func sampleResult() *models.QueryResult {
	return &models.QueryResult{
		Columns:         []string{"event", "count"},
		Rows:            [][]any{{"pageview", 42}, {"signup", 7}},
		RowCount:        2,
		ExecutionTimeMs: 120,
	}
}

func TestHash_StableAndWhitespaceInsensitive(t *testing.T) {
	a := Hash("SELECT event, count() FROM events GROUP BY event")
	b := Hash("  SELECT event, count() FROM events GROUP BY event\n")
	c := Hash("SELECT event FROM events")

	assert.Equal(t, a, b, "surrounding whitespace must not change the key")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	workspaceID := uuid.New()
	hash := Hash("SELECT 1")

	got, err := store.Get(ctx, workspaceID, hash)
	require.NoError(t, err)
	assert.Nil(t, got, "a cold cache must miss")

	require.NoError(t, store.Put(ctx, workspaceID, hash, sampleResult(), time.Minute))

	got, err = store.Get(ctx, workspaceID, hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sampleResult(), got)
}

func TestMemoryStore_WorkspaceIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	hash := Hash("SELECT 1")

	require.NoError(t, store.Put(ctx, uuid.New(), hash, sampleResult(), time.Minute))

	got, err := store.Get(ctx, uuid.New(), hash)
	require.NoError(t, err)
	assert.Nil(t, got, "an identical query from another workspace must miss")
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()
	workspaceID := uuid.New()
	hash := Hash("SELECT 1")

	require.NoError(t, store.Put(ctx, workspaceID, hash, sampleResult(), time.Minute))

	now = now.Add(2 * time.Minute)
	got, err := store.Get(ctx, workspaceID, hash)
	require.NoError(t, err)
	assert.Nil(t, got, "expired entries must never be served")

	removed, err := store.InvalidateExpired(ctx, workspaceID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = store.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed, "already purged")
}
