package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/getbeton/inspector-sub003/pkg/models"
)

// Hash derives the cache key for a query text. Leading and trailing
// whitespace is not significant; anything else is, so two queries that
// differ only in formatting inside the text hash apart.
func Hash(queryText string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(queryText)))
	return hex.EncodeToString(sum[:])
}

// Store caches query results keyed by (workspace, query hash). A miss is
// (nil, nil); entries past their TTL must never be returned. Implementations
// must be safe for concurrent use.
//
// InvalidateExpired purges one workspace's expired entries; SweepExpired is
// the cross-workspace variant used by the background sweep.
type Store interface {
	Get(ctx context.Context, workspaceID uuid.UUID, queryHash string) (*models.QueryResult, error)
	Put(ctx context.Context, workspaceID uuid.UUID, queryHash string, result *models.QueryResult, ttl time.Duration) error
	InvalidateExpired(ctx context.Context, workspaceID uuid.UUID) (int64, error)
	SweepExpired(ctx context.Context) (int64, error)
}
