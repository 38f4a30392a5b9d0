package handlers

import (
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/getbeton/inspector-sub003/pkg/appctx"
	qerrors "github.com/getbeton/inspector-sub003/pkg/errors"
	"github.com/getbeton/inspector-sub003/pkg/metrics"
	"github.com/getbeton/inspector-sub003/pkg/posthog"
	"github.com/getbeton/inspector-sub003/pkg/query"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
)

var validate = validator.New()

// QueryHandler serves the query execution and schema listing surfaces.
type QueryHandler struct {
	orchestrator *query.Orchestrator
	logger       ectologger.Logger
}

// NewQueryHandler creates a new query handler
func NewQueryHandler(orchestrator *query.Orchestrator, logger ectologger.Logger) *QueryHandler {
	return &QueryHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// ExecuteQueryRequest is the request body for executing a query
type ExecuteQueryRequest struct {
	Query     string `json:"query" validate:"required"`
	SkipCache bool   `json:"skip_cache"`
}

// TablesResponse wraps the merged schema listing
type TablesResponse struct {
	Tables []posthog.Table `json:"tables"`
}

// RegisterRoutes registers the query routes
func (h *QueryHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/query/execute", h.Execute)
	g.GET("/tables", h.ListTables)
}

// Execute handles POST /query/execute
func (h *QueryHandler) Execute(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "QueryHandler.Execute")
	defer span.End()

	var req ExecuteQueryRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return qerrors.NewInvalidQueryError("query is required")
	}

	scope, err := GetScope(c)
	if err != nil {
		return err
	}

	start := time.Now()
	result, err := h.orchestrator.Execute(ctx, scope, req.Query, query.Options{SkipCache: req.SkipCache})
	if err != nil {
		if qe, ok := qerrors.As(err); ok {
			metrics.QueryErrorsTotal.WithLabelValues(string(qe.Kind)).Inc()
			if qe.Kind == qerrors.KindRateLimited {
				metrics.RateLimitRejectionsTotal.WithLabelValues("query").Inc()
			}
		}
		return err
	}

	cached := strconv.FormatBool(result.Cached)
	metrics.QueryExecutionsTotal.WithLabelValues(string(result.Status), cached, string(appctx.GetActor(ctx))).Inc()
	metrics.QueryExecutionDuration.WithLabelValues(cached).Observe(time.Since(start).Seconds())

	return SuccessResponse(c, result)
}

// ListTables handles GET /tables
func (h *QueryHandler) ListTables(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "QueryHandler.ListTables")
	defer span.End()

	scope, err := GetScope(c)
	if err != nil {
		return err
	}

	tables, err := h.orchestrator.ListTables(ctx, scope)
	if err != nil {
		if qerrors.IsKind(err, qerrors.KindRateLimited) {
			metrics.RateLimitRejectionsTotal.WithLabelValues("tables").Inc()
		}
		return err
	}

	if tables == nil {
		tables = []posthog.Table{}
	}

	return SuccessResponse(c, TablesResponse{Tables: tables})
}
