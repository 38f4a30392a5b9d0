package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/getbeton/inspector-sub003/pkg/database"
)

// QueryResult is the raw outcome of one remote query execution.
type QueryResult struct {
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	RowCount        int      `json:"row_count"`
	ExecutionTimeMs int64    `json:"execution_time_ms"`
}

// CachedResult is a persisted query result, keyed by (workspace_id, query_hash).
type CachedResult struct {
	WorkspaceID     uuid.UUID                `db:"workspace_id" json:"workspace_id"`
	QueryHash       string                   `db:"query_hash" json:"query_hash"`
	Columns         database.JSONB[[]string] `db:"columns" json:"columns"`
	Rows            database.JSONB[[][]any]  `db:"rows" json:"rows"`
	RowCount        int                      `db:"row_count" json:"row_count"`
	ExecutionTimeMs int64                    `db:"execution_time_ms" json:"execution_time_ms"`
	CachedAt        time.Time                `db:"cached_at" json:"cached_at"`
	ExpiresAt       time.Time                `db:"expires_at" json:"expires_at"`
}

// TableName returns the database table name
func (CachedResult) TableName() string {
	return "query_result_cache"
}

// Result converts the cached row back into a query result.
func (c *CachedResult) Result() *QueryResult {
	return &QueryResult{
		Columns:         c.Columns.GetValue(),
		Rows:            c.Rows.GetValue(),
		RowCount:        c.RowCount,
		ExecutionTimeMs: c.ExecutionTimeMs,
	}
}

// ExecutionStatus describes how far an execution got.
type ExecutionStatus string

const (
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusPartial   ExecutionStatus = "partial"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// RateLimitInfo is echoed to callers so they can pace themselves.
type RateLimitInfo struct {
	Remaining int64 `json:"remaining"`
	Limit     int64 `json:"limit"`
}

// ExecutionResult is the uniform envelope returned to every caller surface.
type ExecutionResult struct {
	QueryID         uuid.UUID       `json:"query_id"`
	Status          ExecutionStatus `json:"status"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	RowCount        int             `json:"row_count"`
	Columns         []string        `json:"columns"`
	Results         [][]any         `json:"results"`
	Cached          bool            `json:"cached"`
	RateLimit       RateLimitInfo   `json:"rate_limit"`
}
