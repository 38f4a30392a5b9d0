package posthog

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/getbeton/inspector-sub003/pkg/models"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
)

// joinMarker appears in auto-generated join tables that are not directly
// queryable and must be hidden from the merged listing.
const joinMarker = "__"

// Table is one entry in the merged schema listing. SourceType is present
// only for warehouse tables with a known upstream source.
type Table struct {
	TableName  string `json:"table_name"`
	SourceType string `json:"source_type,omitempty"`
}

type warehouseTable struct {
	Name               string `json:"name"`
	ExternalDataSource *struct {
		SourceType string `json:"source_type"`
	} `json:"external_data_source"`
}

type warehouseTablesResponse struct {
	Results []warehouseTable `json:"results"`
}

type schemaQueryRequest struct {
	Query struct {
		Kind string `json:"kind"`
	} `json:"query"`
}

type schemaQueryResponse struct {
	Tables map[string]struct {
		Type string `json:"type"`
	} `json:"tables"`
}

// ListTables merges the warehouse table registry with a live schema
// introspection. The registry wins on name collisions since it carries the
// accurate source type; join artifacts are filtered from both sources.
func (c *Client) ListTables(ctx context.Context, conn *models.Connection) ([]Table, error) {
	ctx, span := tracing.StartSpan(ctx, "PostHogClient.ListTables")
	defer span.End()

	var registry warehouseTablesResponse
	err := c.doJSON(ctx, conn, http.MethodGet,
		fmt.Sprintf("/api/projects/%s/warehouse_tables/", conn.ProjectID), nil, &registry)
	if err != nil {
		return nil, err
	}

	var schemaReq schemaQueryRequest
	schemaReq.Query.Kind = "DatabaseSchemaQuery"
	var schema schemaQueryResponse
	err = c.doJSON(ctx, conn, http.MethodPost,
		fmt.Sprintf("/api/projects/%s/query", conn.ProjectID), schemaReq, &schema)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]Table)
	for name := range schema.Tables {
		if strings.Contains(name, joinMarker) {
			continue
		}
		merged[name] = Table{TableName: name}
	}
	for _, t := range registry.Results {
		if t.Name == "" || strings.Contains(t.Name, joinMarker) {
			continue
		}
		table := Table{TableName: t.Name}
		if t.ExternalDataSource != nil {
			table.SourceType = t.ExternalDataSource.SourceType
		}
		merged[t.Name] = table
	}

	tables := make([]Table, 0, len(merged))
	for _, t := range merged {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].TableName < tables[j].TableName })

	return tables, nil
}
