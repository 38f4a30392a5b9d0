package handlers

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/getbeton/inspector-sub003/pkg/appctx"
	"github.com/getbeton/inspector-sub003/pkg/credentials"
)

// GetWorkspaceID extracts the workspace ID from context
func GetWorkspaceID(c echo.Context) (uuid.UUID, error) {
	ctx := c.Request().Context()
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

// GetScope resolves the caller surface into a credential scope, once per
// request. Session callers stay bound to their context; the agent and
// machine surfaces get an explicit admin scope for the workspace the
// middleware already authenticated.
func GetScope(c echo.Context) (credentials.Scope, error) {
	workspaceID, err := GetWorkspaceID(c)
	if err != nil {
		return credentials.Scope{}, err
	}

	switch appctx.GetActor(c.Request().Context()) {
	case appctx.ActorAgent, appctx.ActorMachine:
		return credentials.AdminScope(workspaceID), nil
	default:
		return credentials.SessionScope(), nil
	}
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// NoContentResponse returns a 204 No Content
func NoContentResponse(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}
