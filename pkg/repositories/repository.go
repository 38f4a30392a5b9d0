package repositories

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/getbeton/inspector-sub003/pkg/appctx"
	"github.com/getbeton/inspector-sub003/pkg/database"
)

// Repository provides common database access for workspace-scoped stores.
//
// Unlike session-bound services, repositories here take the workspace id as
// an explicit argument rather than reading it from context: the agent and
// machine surfaces bypass the session context entirely, and the isolation
// guarantee must hold in the SQL itself on every path.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new base repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB returns the database instance
func (r *Repository) DB() database.DB {
	return r.db
}

// Logger returns the repository logger
func (r *Repository) Logger() ectologger.Logger {
	return r.logger
}

// GetWorkspaceID extracts and validates workspace_id from a session context.
func GetWorkspaceID(ctx context.Context) (uuid.UUID, error) {
	workspaceIDStr := appctx.GetWorkspaceID(ctx)
	if workspaceIDStr == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	workspaceID, err := uuid.Parse(workspaceIDStr)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "invalid authentication token")
	}

	return workspaceID, nil
}
