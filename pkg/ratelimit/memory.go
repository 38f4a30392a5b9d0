package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	start time.Time
	count int64
}

// MemoryStore is a fixed-window limiter held in process memory. It is the
// default when no Redis is configured; counts are per instance, so a
// multi-instance deployment should use the Redis store instead.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryStore creates an in-process rate limit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow admits the request if fewer than limit requests have been admitted
// in the current window. The window resets limit slots at once when it rolls
// over rather than sliding.
func (s *MemoryStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.buckets[key]
	if !ok || now.Sub(w.start) >= window {
		w = &bucket{start: now}
		s.buckets[key] = w
	}

	if w.count >= limit {
		retryAfter := w.start.Add(window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Millisecond
		}
		return &Result{
			Allowed:    false,
			Remaining:  0,
			Limit:      limit,
			RetryAfter: retryAfter,
		}, nil
	}

	w.count++
	return &Result{
		Allowed:   true,
		Remaining: limit - w.count,
		Limit:     limit,
	}, nil
}
