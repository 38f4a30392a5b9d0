package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/getbeton/inspector-sub003/pkg/appctx"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
)

const (
	// HeaderAgentSecret authenticates the background agent surface
	HeaderAgentSecret = "X-Agent-Secret"
	// HeaderWorkspaceID carries the explicit workspace on the agent surface
	HeaderWorkspaceID = "X-Workspace-ID"
)

type UserClaims struct {
	Sub         string `json:"sub"`
	Email       string `json:"email"`
	WorkspaceID string `json:"workspace_id"`
}

// Authentication verifies session and machine bearer tokens against the
// OIDC issuer. The workspace comes from the token claims, never from a
// caller-controlled header. Machine tokens (no email claim) are marked as
// the machine actor so downstream logging can tell the surfaces apart.
func Authentication(logger ectologger.Logger, issuer string, clientID string) (echo.MiddlewareFunc, error) {
	provider, err := oidc.NewProvider(context.Background(), issuer)
	if err != nil {
		return nil, err
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: clientID,
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ctx, span := tracing.StartSpan(ctx, "middleware.Authentication")
			defer span.End()

			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				logger.WithContext(ctx).Warn("request is missing bearer token")
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer")
			}

			raw := strings.TrimPrefix(auth, "Bearer ")
			verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			idToken, err := verifier.Verify(verifyCtx, raw)
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("token is invalid")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			var claims UserClaims
			if err := idToken.Claims(&claims); err != nil {
				logger.WithContext(ctx).WithError(err).Warn("failed to parse claims")
				return echo.NewHTTPError(http.StatusUnauthorized, "cannot parse claims")
			}

			if claims.WorkspaceID == "" {
				logger.WithContext(ctx).Warn("token has no workspace claim")
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no workspace")
			}

			actor := appctx.ActorUser
			if claims.Email == "" {
				actor = appctx.ActorMachine
			}

			ctx = appctx.SetUserID(ctx, claims.Sub)
			ctx = appctx.SetWorkspaceID(ctx, claims.WorkspaceID)
			ctx = appctx.SetActor(ctx, actor)

			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}, nil
}

// AgentAuthentication admits the background agent surface with a shared
// secret. The agent names its workspace explicitly in a header; the
// workspace filter still lands in SQL on every read, so a compromised
// header value cannot cross tenants without the secret.
func AgentAuthentication(logger ectologger.Logger, sharedSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ctx, span := tracing.StartSpan(ctx, "middleware.AgentAuthentication")
			defer span.End()

			secret := c.Request().Header.Get(HeaderAgentSecret)
			if sharedSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(sharedSecret)) != 1 {
				logger.WithContext(ctx).Warn("agent secret is missing or invalid")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid agent secret")
			}

			workspaceID := c.Request().Header.Get(HeaderWorkspaceID)
			if _, err := uuid.Parse(workspaceID); err != nil {
				logger.WithContext(ctx).Warn("agent request has no valid workspace header")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid workspace id")
			}

			ctx = appctx.SetWorkspaceID(ctx, workspaceID)
			ctx = appctx.SetActor(ctx, appctx.ActorAgent)

			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
