package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/getbeton/inspector-sub003/pkg/database"
	"github.com/getbeton/inspector-sub003/pkg/models"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
)

const resultCacheTable = "query_result_cache"

var cachedResultStruct = database.NewStruct(new(models.CachedResult))

// ResultCacheRepository persists query results keyed by (workspace_id, query_hash)
type ResultCacheRepository struct {
	*Repository
}

// NewResultCacheRepository creates a new result cache repository
func NewResultCacheRepository(db database.DB, logger ectologger.Logger) *ResultCacheRepository {
	return &ResultCacheRepository{
		Repository: NewRepository(db, logger),
	}
}

// Get returns the live cache entry for the workspace and hash, or (nil, nil)
// on a miss. Expiry is applied in the query itself rather than trusting the
// background sweep to have run.
func (r *ResultCacheRepository) Get(ctx context.Context, workspaceID uuid.UUID, queryHash string) (*models.CachedResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ResultCacheRepository.Get")
	defer span.End()

	sb := cachedResultStruct.SelectFrom(resultCacheTable)
	sb.Where(
		sb.Equal("workspace_id", workspaceID),
		sb.Equal("query_hash", queryHash),
		sb.GreaterThan("expires_at", sqlbuilder.Raw("NOW()")),
	)

	query, args := sb.Build()
	var cached models.CachedResult
	err := r.DB().GetContext(ctx, &cached, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"workspace_id": workspaceID,
		}).Error("failed to read result cache")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read result cache")
	}

	return &cached, nil
}

// Upsert writes a cache entry, replacing any prior entry for the same key.
// Concurrent writers for the same key are allowed; last writer wins.
func (r *ResultCacheRepository) Upsert(ctx context.Context, cached *models.CachedResult) error {
	ctx, span := tracing.StartSpan(ctx, "ResultCacheRepository.Upsert")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(resultCacheTable).
		Cols("workspace_id", "query_hash", "columns", "rows", "row_count", "execution_time_ms", "cached_at", "expires_at").
		Values(cached.WorkspaceID, cached.QueryHash, cached.Columns, cached.Rows, cached.RowCount,
			cached.ExecutionTimeMs, cached.CachedAt, cached.ExpiresAt)
	ub := ib.OnConflict("workspace_id", "query_hash")
	ub.Set(
		ub.Assign("columns", database.Excluded("columns")),
		ub.Assign("rows", database.Excluded("rows")),
		ub.Assign("row_count", database.Excluded("row_count")),
		ub.Assign("execution_time_ms", database.Excluded("execution_time_ms")),
		ub.Assign("cached_at", database.Excluded("cached_at")),
		ub.Assign("expires_at", database.Excluded("expires_at")),
	)

	query, args := ib.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"workspace_id": cached.WorkspaceID,
		}).Error("failed to write result cache")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to write result cache")
	}

	return nil
}

// DeleteExpired removes expired entries for one workspace.
func (r *ResultCacheRepository) DeleteExpired(ctx context.Context, workspaceID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "ResultCacheRepository.DeleteExpired")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(resultCacheTable).
		Where(
			db.Equal("workspace_id", workspaceID),
			db.LessEqualThan("expires_at", sqlbuilder.Raw("NOW()")),
		)

	return r.deleteAndCount(ctx, db)
}

// DeleteAllExpired removes expired entries across every workspace. This is a
// system sweep, not a caller-facing operation.
func (r *ResultCacheRepository) DeleteAllExpired(ctx context.Context) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "ResultCacheRepository.DeleteAllExpired")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(resultCacheTable).
		Where(db.LessEqualThan("expires_at", sqlbuilder.Raw("NOW()")))

	return r.deleteAndCount(ctx, db)
}

func (r *ResultCacheRepository) deleteAndCount(ctx context.Context, db *database.DeleteBuilder) (int64, error) {
	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to purge expired cache entries")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to purge expired cache entries")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}
