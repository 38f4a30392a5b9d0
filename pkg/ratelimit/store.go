package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a single admission check.
type Result struct {
	Allowed    bool
	Remaining  int64
	Limit      int64
	RetryAfter time.Duration
}

// Store admits or rejects a request against a per-key quota. Implementations
// must be safe for concurrent use. Admission consumes quota only when the
// request is allowed.
type Store interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*Result, error)
}
