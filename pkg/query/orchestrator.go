// Package query wires admission control, caching, credential resolution, and
// remote execution into the single entry point every caller surface uses.
package query

import (
	"context"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/getbeton/inspector-sub003/pkg/credentials"
	qerrors "github.com/getbeton/inspector-sub003/pkg/errors"
	"github.com/getbeton/inspector-sub003/pkg/models"
	"github.com/getbeton/inspector-sub003/pkg/posthog"
	"github.com/getbeton/inspector-sub003/pkg/querycache"
	"github.com/getbeton/inspector-sub003/pkg/ratelimit"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
)

// Engine is the remote analytics surface the orchestrator drives.
// *posthog.Client satisfies it.
type Engine interface {
	Query(ctx context.Context, conn *models.Connection, queryText string) (*models.QueryResult, error)
	ListTables(ctx context.Context, conn *models.Connection) ([]posthog.Table, error)
}

// CredentialResolver resolves a scope into a live connection.
// *credentials.Store satisfies it.
type CredentialResolver interface {
	Resolve(ctx context.Context, scope credentials.Scope, integration string) (*models.Connection, error)
}

// Options tune a single execution.
type Options struct {
	// SkipCache forces a fresh remote read; used by setup flows that need to
	// confirm live connectivity. The fresh result still refreshes the cache.
	SkipCache bool
}

// Config holds the per-call-site quotas and the cache TTL.
type Config struct {
	QueryLimit       int64
	EnumerationLimit int64
	Window           time.Duration
	CacheTTL         time.Duration
}

// Orchestrator is the composition root for query execution. The order is
// fixed: validate, admit, cache lookup, resolve credentials, execute, cache
// store. A rejected request never costs a credential decrypt or a network
// round trip.
type Orchestrator struct {
	credentials CredentialResolver
	limiter     ratelimit.Store
	cache       querycache.Store
	engine      Engine
	logger      ectologger.Logger
	cfg         Config
}

// NewOrchestrator creates a query orchestrator.
func NewOrchestrator(creds CredentialResolver, limiter ratelimit.Store, cache querycache.Store, engine Engine, cfg Config, logger ectologger.Logger) *Orchestrator {
	return &Orchestrator{
		credentials: creds,
		limiter:     limiter,
		cache:       cache,
		engine:      engine,
		logger:      logger,
		cfg:         cfg,
	}
}

// Execute runs query text for the scoped workspace and returns the uniform
// envelope all caller surfaces share.
func (o *Orchestrator) Execute(ctx context.Context, scope credentials.Scope, queryText string, opts Options) (*models.ExecutionResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.Execute")
	defer span.End()

	if strings.TrimSpace(queryText) == "" {
		return nil, qerrors.NewInvalidQueryError("query text is empty")
	}

	workspaceID, err := scope.WorkspaceID(ctx)
	if err != nil {
		return nil, err
	}

	rate, err := o.admit(ctx, "query:"+workspaceID.String(), o.cfg.QueryLimit)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	hash := querycache.Hash(queryText)

	if !opts.SkipCache {
		cached, err := o.cache.Get(ctx, workspaceID, hash)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return envelope(cached, models.ExecutionStatusCompleted, true, time.Since(start).Milliseconds(), rate), nil
		}
	}

	conn, err := o.credentials.Resolve(ctx, scope, models.IntegrationPostHog)
	if err != nil {
		return nil, err
	}

	result, err := o.engine.Query(ctx, conn, queryText)
	if err != nil {
		return nil, err
	}

	if err := o.cache.Put(ctx, workspaceID, hash, result, o.cfg.CacheTTL); err != nil {
		// A dead cache store degrades latency, not correctness.
		o.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"workspace_id": workspaceID,
		}).Warn("failed to store query result in cache")
	}

	return envelope(result, models.ExecutionStatusCompleted, false, result.ExecutionTimeMs, rate), nil
}

// ListTables returns the merged schema listing for the scoped workspace.
// It draws from the lower enumeration quota since the listing fans out to
// two upstream calls.
func (o *Orchestrator) ListTables(ctx context.Context, scope credentials.Scope) ([]posthog.Table, error) {
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.ListTables")
	defer span.End()

	workspaceID, err := scope.WorkspaceID(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := o.admit(ctx, "tables:"+workspaceID.String(), o.cfg.EnumerationLimit); err != nil {
		return nil, err
	}

	conn, err := o.credentials.Resolve(ctx, scope, models.IntegrationPostHog)
	if err != nil {
		return nil, err
	}

	return o.engine.ListTables(ctx, conn)
}

// admit checks the per-workspace quota. A limiter backend failure fails
// open with a warning: the remote engine applies its own hard limits, and
// an unavailable Redis must not take query execution down with it.
func (o *Orchestrator) admit(ctx context.Context, key string, limit int64) (models.RateLimitInfo, error) {
	res, err := o.limiter.Allow(ctx, key, limit, o.cfg.Window)
	if err != nil {
		o.logger.WithContext(ctx).WithError(err).Warn("rate limit check failed, allowing request")
		return models.RateLimitInfo{Remaining: limit, Limit: limit}, nil
	}
	if !res.Allowed {
		return models.RateLimitInfo{}, qerrors.NewRateLimitError(res.RetryAfter)
	}
	return models.RateLimitInfo{Remaining: res.Remaining, Limit: res.Limit}, nil
}

func envelope(result *models.QueryResult, status models.ExecutionStatus, cached bool, elapsedMs int64, rate models.RateLimitInfo) *models.ExecutionResult {
	return &models.ExecutionResult{
		QueryID:         uuid.New(),
		Status:          status,
		ExecutionTimeMs: elapsedMs,
		RowCount:        result.RowCount,
		Columns:         result.Columns,
		Results:         result.Rows,
		Cached:          cached,
		RateLimit:       rate,
	}
}
