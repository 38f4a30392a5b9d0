package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/getbeton/inspector-sub003/pkg/appctx"
)

const (
	// HeaderUserID is the dev-mode header for user ID
	HeaderUserID = "X-User-ID"
)

// DevAuthentication trusts workspace and user headers directly. Local
// development only; never mount when an issuer is configured.
func DevAuthentication() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			workspaceID := c.Request().Header.Get(HeaderWorkspaceID)
			if _, err := uuid.Parse(workspaceID); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid workspace id")
			}

			ctx := c.Request().Context()
			ctx = appctx.SetWorkspaceID(ctx, workspaceID)
			ctx = appctx.SetUserID(ctx, c.Request().Header.Get(HeaderUserID))
			ctx = appctx.SetActor(ctx, appctx.ActorUser)

			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
