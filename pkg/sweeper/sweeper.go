// Package sweeper runs the periodic purge of expired cache entries.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/getbeton/inspector-sub003/pkg/metrics"
	"github.com/getbeton/inspector-sub003/pkg/querycache"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
)

// ErrSweeperAlreadyRunning is returned when trying to start a running sweeper
var ErrSweeperAlreadyRunning = errors.New("sweeper already running")

// DefaultInterval is the default interval between sweeps
const DefaultInterval = 5 * time.Minute

// Sweeper purges expired cache entries on an interval. Lookups already
// filter expiry themselves; the sweep only reclaims storage.
type Sweeper struct {
	cache    querycache.Store
	interval time.Duration
	logger   ectologger.Logger

	// Coordination
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewSweeper creates a new cache sweeper
func NewSweeper(cache querycache.Store, interval time.Duration, logger ectologger.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Sweeper{
		cache:    cache,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start starts the sweep loop
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSweeperAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithContext(ctx).Infof("Starting cache sweeper: interval=%s", s.interval)

	go s.loop(ctx)

	return nil
}

// Stop stops the sweeper gracefully
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Cache sweeper stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Cache sweeper shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the sweeper is running
func (s *Sweeper) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.sweep(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Sweeper.sweep")
	defer span.End()

	purged, err := s.cache.SweepExpired(ctx)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("cache sweep failed")
		return
	}

	metrics.CacheSweepPurgedTotal.Add(float64(purged))
	if purged > 0 {
		s.logger.WithContext(ctx).Infof("Cache sweep purged %d expired entries", purged)
	}
}
