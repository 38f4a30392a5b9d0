package posthog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmespath/go-jmespath"

	qerrors "github.com/getbeton/inspector-sub003/pkg/errors"
	"github.com/getbeton/inspector-sub003/pkg/models"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
)

// Source reports which path produced a count and whether it is complete.
type Source string

const (
	SourcePrimary          Source = "primary"
	SourceFallbackComplete Source = "fallback_complete"
	SourceFallbackPartial  Source = "fallback_partial"
)

// CountResult is the outcome of an aggregate count.
type CountResult struct {
	Count  int64  `json:"count"`
	Source Source `json:"source"`
}

// Engine is the remote surface the aggregator needs. *Client satisfies it.
type Engine interface {
	Query(ctx context.Context, conn *models.Connection, queryText string) (*models.QueryResult, error)
	ListPersons(ctx context.Context, conn *models.Connection, limit, offset int) (*PersonsPage, error)
}

// AggregatorConfig bounds the fallback path. The caps exist to keep total
// work and wall-clock time bounded no matter how many persons a project has.
type AggregatorConfig struct {
	MaxPages   int
	PageSize   int
	TimeBudget time.Duration
}

// DefaultAggregatorConfig returns the default fallback caps
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		MaxPages:   100,
		PageSize:   100,
		TimeBudget: 50 * time.Second,
	}
}

// Aggregator computes a scalar count, preferring a single aggregate query
// and degrading to paginated enumeration when the primary path fails or
// returns nothing usable.
type Aggregator struct {
	engine Engine
	logger ectologger.Logger
	cfg    AggregatorConfig
	now    func() time.Time
}

// NewAggregator creates an aggregator over the given engine.
func NewAggregator(engine Engine, cfg AggregatorConfig, logger ectologger.Logger) *Aggregator {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.TimeBudget <= 0 {
		cfg.TimeBudget = 50 * time.Second
	}
	return &Aggregator{
		engine: engine,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// CountMatching tries countQuery first and falls back to enumerating
// persons, counting those matched by the jmespath predicate. The fallback
// never fails once it has accumulated a non-zero partial count; hitting a
// page or wall-clock cap reports SourceFallbackPartial, never a silent
// "complete".
func (a *Aggregator) CountMatching(ctx context.Context, conn *models.Connection, countQuery, predicate string) (*CountResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Aggregator.CountMatching")
	defer span.End()

	result, err := a.engine.Query(ctx, conn, countQuery)
	if err == nil {
		if count, ok := scalarCount(result); ok {
			return &CountResult{Count: count, Source: SourcePrimary}, nil
		}
		a.logger.WithContext(ctx).WithFields(map[string]any{
			"workspace_id": conn.WorkspaceID,
		}).Warn("aggregate query returned no usable scalar, falling back to enumeration")
	} else {
		a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"workspace_id": conn.WorkspaceID,
		}).Warn("aggregate query failed, falling back to enumeration")
	}

	return a.countByEnumeration(ctx, conn, predicate)
}

func (a *Aggregator) countByEnumeration(ctx context.Context, conn *models.Connection, predicate string) (*CountResult, error) {
	matcher, err := jmespath.Compile(predicate)
	if err != nil {
		return nil, qerrors.NewInvalidQueryError("invalid filter predicate")
	}

	deadline := a.now().Add(a.cfg.TimeBudget)
	var count int64
	offset := 0

	for page := 0; ; page++ {
		if page >= a.cfg.MaxPages || a.now().After(deadline) {
			a.logger.WithContext(ctx).WithFields(map[string]any{
				"workspace_id": conn.WorkspaceID,
				"pages":        page,
				"count":        count,
			}).Warn("enumeration cap reached, returning partial count")
			return &CountResult{Count: count, Source: SourceFallbackPartial}, nil
		}

		p, err := a.fetchPage(ctx, conn, offset)
		if err != nil {
			if count > 0 {
				a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
					"workspace_id": conn.WorkspaceID,
					"count":        count,
				}).Warn("enumeration failed mid-pagination, returning partial count")
				return &CountResult{Count: count, Source: SourceFallbackPartial}, nil
			}
			return nil, err
		}

		for _, person := range p.Results {
			matched, err := matcher.Search(map[string]any(person))
			if err != nil {
				continue
			}
			if truthy(matched) {
				count++
			}
		}

		if !p.HasMore() || len(p.Results) == 0 {
			return &CountResult{Count: count, Source: SourceFallbackComplete}, nil
		}
		offset += len(p.Results)
	}
}

// fetchPage retries a failed fetch once. One retry keeps a transient blip
// from discarding the whole batch without amplifying a real outage.
func (a *Aggregator) fetchPage(ctx context.Context, conn *models.Connection, offset int) (*PersonsPage, error) {
	page, err := a.engine.ListPersons(ctx, conn, a.cfg.PageSize, offset)
	if err == nil {
		return page, nil
	}
	return a.engine.ListPersons(ctx, conn, a.cfg.PageSize, offset)
}

// scalarCount extracts a numeric count from the first cell of an aggregate
// result. Anything else is treated as ambiguous.
func scalarCount(result *models.QueryResult) (int64, bool) {
	if result == nil || len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return 0, false
	}
	switch v := result.Rows[0][0].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
