package posthog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	qerrors "github.com/getbeton/inspector-sub003/pkg/errors"
	"github.com/getbeton/inspector-sub003/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func testConnection(host string) *models.Connection {
	return &models.Connection{
		WorkspaceID: uuid.New(),
		ProjectID:   "12345",
		APIKey:      "phx_test_key",
		Host:        host,
		Mode:        models.CredentialModeCloud,
	}
}

func TestClient_Query(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/projects/12345/query", r.URL.Path)
		assert.Equal(t, "Bearer phx_test_key", r.Header.Get("Authorization"))

		var req queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "HogQLQuery", req.Query.Kind)

		json.NewEncoder(w).Encode(queryResponse{
			Columns: []string{"event", "count"},
			Results: [][]any{{"pageview", float64(42)}},
		})
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(), getTestLogger())
	result, err := client.Query(context.Background(), testConnection(server.URL), "SELECT event, count() FROM events GROUP BY event")
	require.NoError(t, err)

	assert.Equal(t, []string{"event", "count"}, result.Columns)
	assert.Equal(t, 1, result.RowCount)
	assert.Equal(t, int64(1), calls.Load())
}

func TestClient_Query_RejectsEmptyText(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(), getTestLogger())
	_, err := client.Query(context.Background(), testConnection(server.URL), "   \n\t")

	require.Error(t, err)
	assert.True(t, qerrors.IsKind(err, qerrors.KindInvalidQuery))
	assert.Equal(t, int64(0), calls.Load(), "no request may be sent for empty text")
}

func TestClient_Query_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	client := NewClient(cfg, getTestLogger())

	_, err := client.Query(context.Background(), testConnection(server.URL), "SELECT 1")
	require.Error(t, err)
	assert.True(t, qerrors.IsKind(err, qerrors.KindTimeout))
}

func TestClient_Query_UpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"internal secret detail"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(), getTestLogger())
	_, err := client.Query(context.Background(), testConnection(server.URL), "SELECT 1")

	require.Error(t, err)
	assert.True(t, qerrors.IsKind(err, qerrors.KindUpstream))
	assert.NotContains(t, err.Error(), "internal secret detail", "upstream body must not leak")
}

func TestClient_ListTables_MergesSources(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/projects/12345/warehouse_tables/":
			w.Write([]byte(`{"results": [
				{"name": "stripe_charges", "external_data_source": {"source_type": "Stripe"}},
				{"name": "events", "external_data_source": {"source_type": "Warehouse"}},
				{"name": "persons__events", "external_data_source": {"source_type": "Join"}}
			]}`))
		case "/api/projects/12345/query":
			w.Write([]byte(`{"tables": {"events": {"type": "posthog"}, "persons": {"type": "posthog"}, "groups__events": {"type": "join"}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(), getTestLogger())
	tables, err := client.ListTables(context.Background(), testConnection(server.URL))
	require.NoError(t, err)

	assert.Equal(t, []Table{
		{TableName: "events", SourceType: "Warehouse"},
		{TableName: "persons"},
		{TableName: "stripe_charges", SourceType: "Stripe"},
	}, tables, "registry wins collisions and join artifacts are filtered")
}

func TestClient_ListPersons(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects/12345/persons/", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "100", r.URL.Query().Get("offset"))
		w.Write([]byte(`{"results": [{"id": "p1", "properties": {"email": "a@b.co"}}], "next": "https://next.page"}`))
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(), getTestLogger())
	page, err := client.ListPersons(context.Background(), testConnection(server.URL), 50, 100)
	require.NoError(t, err)

	require.Len(t, page.Results, 1)
	assert.True(t, page.HasMore())
}
