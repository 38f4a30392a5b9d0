package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/getbeton/inspector-sub003/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakeCache struct {
	sweeps atomic.Int64
}

func (f *fakeCache) Get(ctx context.Context, workspaceID uuid.UUID, queryHash string) (*models.QueryResult, error) {
	return nil, nil
}

func (f *fakeCache) Put(ctx context.Context, workspaceID uuid.UUID, queryHash string, result *models.QueryResult, ttl time.Duration) error {
	return nil
}

func (f *fakeCache) InvalidateExpired(ctx context.Context, workspaceID uuid.UUID) (int64, error) {
	return 0, nil
}

func (f *fakeCache) SweepExpired(ctx context.Context) (int64, error) {
	f.sweeps.Add(1)
	return 3, nil
}

func TestSweeper_RunsOnStartAndStopsCleanly(t *testing.T) {
	cache := &fakeCache{}
	s := NewSweeper(cache, 10*time.Millisecond, getTestLogger())
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(ctx), ErrSweeperAlreadyRunning)

	assert.Eventually(t, func() bool {
		return cache.sweeps.Load() >= 2
	}, time.Second, 5*time.Millisecond, "the sweeper must run immediately and then on the interval")

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.False(t, s.IsRunning())

	swept := cache.sweeps.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, swept, cache.sweeps.Load(), "no sweeps may run after stop")
}
