package querycache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/getbeton/inspector-sub003/pkg/database"
	"github.com/getbeton/inspector-sub003/pkg/models"
	"github.com/getbeton/inspector-sub003/pkg/repositories"
)

// PostgresStore persists cached results so they survive restarts and are
// shared across instances. It delegates to the result cache repository;
// expiry is enforced in the queries themselves.
type PostgresStore struct {
	repo *repositories.ResultCacheRepository
}

// NewPostgresStore creates a database-backed cache store.
func NewPostgresStore(repo *repositories.ResultCacheRepository) *PostgresStore {
	return &PostgresStore{repo: repo}
}

// Get returns the cached result, or (nil, nil) on a miss.
func (s *PostgresStore) Get(ctx context.Context, workspaceID uuid.UUID, queryHash string) (*models.QueryResult, error) {
	cached, err := s.repo.Get(ctx, workspaceID, queryHash)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, nil
	}
	return cached.Result(), nil
}

// Put stores a result, replacing any prior entry for the same key.
func (s *PostgresStore) Put(ctx context.Context, workspaceID uuid.UUID, queryHash string, result *models.QueryResult, ttl time.Duration) error {
	now := time.Now()
	return s.repo.Upsert(ctx, &models.CachedResult{
		WorkspaceID:     workspaceID,
		QueryHash:       queryHash,
		Columns:         database.NewJSONB(result.Columns),
		Rows:            database.NewJSONB(result.Rows),
		RowCount:        result.RowCount,
		ExecutionTimeMs: result.ExecutionTimeMs,
		CachedAt:        now,
		ExpiresAt:       now.Add(ttl),
	})
}

// InvalidateExpired purges one workspace's expired rows.
func (s *PostgresStore) InvalidateExpired(ctx context.Context, workspaceID uuid.UUID) (int64, error) {
	return s.repo.DeleteExpired(ctx, workspaceID)
}

// SweepExpired purges expired rows across all workspaces.
func (s *PostgresStore) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteAllExpired(ctx)
}
