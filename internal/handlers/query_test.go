package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/getbeton/inspector-sub003/internal/handlers"
	"github.com/getbeton/inspector-sub003/pkg/appctx"
	"github.com/getbeton/inspector-sub003/pkg/credentials"
	"github.com/getbeton/inspector-sub003/pkg/middleware"
	"github.com/getbeton/inspector-sub003/pkg/models"
	"github.com/getbeton/inspector-sub003/pkg/posthog"
	"github.com/getbeton/inspector-sub003/pkg/query"
	"github.com/getbeton/inspector-sub003/pkg/querycache"
	"github.com/getbeton/inspector-sub003/pkg/ratelimit"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakeEngine struct {
	result *models.QueryResult
	tables []posthog.Table
	calls  int
}

func (f *fakeEngine) Query(ctx context.Context, conn *models.Connection, queryText string) (*models.QueryResult, error) {
	f.calls++
	result := *f.result
	return &result, nil
}

func (f *fakeEngine) ListTables(ctx context.Context, conn *models.Connection) ([]posthog.Table, error) {
	return f.tables, nil
}

type fakeResolver struct {
	conn *models.Connection
}

func (f *fakeResolver) Resolve(ctx context.Context, scope credentials.Scope, integration string) (*models.Connection, error) {
	return f.conn, nil
}

type testServer struct {
	echo        *echo.Echo
	engine      *fakeEngine
	workspaceID uuid.UUID
}

func newTestServer(t *testing.T, queryLimit int64) *testServer {
	t.Helper()
	logger := getTestLogger()
	workspaceID := uuid.New()

	engine := &fakeEngine{
		result: &models.QueryResult{
			Columns:         []string{"count"},
			Rows:            [][]any{{float64(9)}},
			RowCount:        1,
			ExecutionTimeMs: 12,
		},
		tables: []posthog.Table{{TableName: "events"}, {TableName: "stripe_charges", SourceType: "Stripe"}},
	}
	resolver := &fakeResolver{conn: &models.Connection{
		WorkspaceID: workspaceID,
		ProjectID:   "12345",
		APIKey:      "phx_key",
		Host:        "https://app.posthog.com",
	}}

	orch := query.NewOrchestrator(resolver, ratelimit.NewMemoryStore(), querycache.NewMemoryStore(), engine, query.Config{
		QueryLimit:       queryLimit,
		EnumerationLimit: queryLimit,
		Window:           time.Minute,
		CacheTTL:         15 * time.Minute,
	}, logger)

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	api := e.Group("/api/v1")
	// Stand in for the auth middleware: inject the authenticated workspace.
	api.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ctx = appctx.SetWorkspaceID(ctx, workspaceID.String())
			ctx = appctx.SetActor(ctx, appctx.ActorUser)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	handlers.NewQueryHandler(orch, logger).RegisterRoutes(api)

	return &testServer{echo: e, engine: engine, workspaceID: workspaceID}
}

func (s *testServer) execute(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query/execute", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestQueryHandler_Execute(t *testing.T) {
	server := newTestServer(t, 20)

	rec := server.execute(t, `{"query": "SELECT count() FROM events"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result models.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEqual(t, uuid.Nil, result.QueryID)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, []string{"count"}, result.Columns)
	assert.Equal(t, 1, result.RowCount)
	assert.False(t, result.Cached)
	assert.Equal(t, int64(20), result.RateLimit.Limit)
	assert.Equal(t, int64(19), result.RateLimit.Remaining)

	rec = server.execute(t, `{"query": "SELECT count() FROM events"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Cached)
	assert.Equal(t, 1, server.engine.calls)
}

func TestQueryHandler_Execute_SkipCache(t *testing.T) {
	server := newTestServer(t, 20)

	rec := server.execute(t, `{"query": "SELECT 1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = server.execute(t, `{"query": "SELECT 1", "skip_cache": true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Cached)
	assert.Equal(t, 2, server.engine.calls)
}

func TestQueryHandler_Execute_MissingQuery(t *testing.T) {
	server := newTestServer(t, 20)

	rec := server.execute(t, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_query", resp.Meta["kind"])
}

func TestQueryHandler_Execute_RateLimited(t *testing.T) {
	server := newTestServer(t, 1)

	rec := server.execute(t, `{"query": "SELECT 1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = server.execute(t, `{"query": "SELECT 2"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var resp middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limited", resp.Meta["kind"])
	assert.NotNil(t, resp.Meta["retry_after_ms"])
}

func TestQueryHandler_Execute_Unauthenticated(t *testing.T) {
	server := newTestServer(t, 20)

	// No auth middleware on this instance's root group
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query/execute", strings.NewReader(`{"query": "SELECT 1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(getTestLogger())
	handlers.NewQueryHandler(nil, getTestLogger()).RegisterRoutes(e.Group("/api/v1"))
	_ = server

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQueryHandler_ListTables(t *testing.T) {
	server := newTestServer(t, 20)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tables", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tables": [
		{"table_name": "events"},
		{"table_name": "stripe_charges", "source_type": "Stripe"}
	]}`, rec.Body.String(), "absent source_type must be omitted, not null")
}
