package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/getbeton/inspector-sub003/pkg/models"
)

type entry struct {
	result    models.QueryResult
	expiresAt time.Time
}

type cacheKey struct {
	workspaceID uuid.UUID
	queryHash   string
}

// MemoryStore is an in-process result cache. Entries are scoped by workspace
// in the key itself, so one workspace can never observe another's results.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[cacheKey]entry
	now     func() time.Time
}

// NewMemoryStore creates an in-process cache store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[cacheKey]entry),
		now:     time.Now,
	}
}

// Get returns the cached result, or (nil, nil) on a miss or expired entry.
func (s *MemoryStore) Get(ctx context.Context, workspaceID uuid.UUID, queryHash string) (*models.QueryResult, error) {
	s.mu.RLock()
	e, ok := s.entries[cacheKey{workspaceID: workspaceID, queryHash: queryHash}]
	s.mu.RUnlock()

	if !ok || s.now().After(e.expiresAt) {
		return nil, nil
	}

	result := e.result
	return &result, nil
}

// Put stores a result, replacing any prior entry for the same key.
func (s *MemoryStore) Put(ctx context.Context, workspaceID uuid.UUID, queryHash string, result *models.QueryResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[cacheKey{workspaceID: workspaceID, queryHash: queryHash}] = entry{
		result:    *result,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// InvalidateExpired drops one workspace's expired entries and reports how many.
func (s *MemoryStore) InvalidateExpired(ctx context.Context, workspaceID uuid.UUID) (int64, error) {
	return s.purge(func(key cacheKey) bool { return key.workspaceID == workspaceID }), nil
}

// SweepExpired drops expired entries across every workspace.
func (s *MemoryStore) SweepExpired(ctx context.Context) (int64, error) {
	return s.purge(func(cacheKey) bool { return true }), nil
}

func (s *MemoryStore) purge(match func(cacheKey) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed int64
	for key, e := range s.entries {
		if match(key) && now.After(e.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
