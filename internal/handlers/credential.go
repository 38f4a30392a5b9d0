package handlers

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/getbeton/inspector-sub003/pkg/credentials"
	qerrors "github.com/getbeton/inspector-sub003/pkg/errors"
	"github.com/getbeton/inspector-sub003/pkg/models"
	"github.com/getbeton/inspector-sub003/pkg/query"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
)

// probeQuery confirms live connectivity after a configure.
const probeQuery = "SELECT 1"

// CredentialHandler manages the PostHog connection for a workspace. It
// never returns key material, masked or otherwise; the settings page works
// from the non-secret metadata alone.
type CredentialHandler struct {
	store        *credentials.Store
	orchestrator *query.Orchestrator
	logger       ectologger.Logger
}

// NewCredentialHandler creates a new credential handler
func NewCredentialHandler(store *credentials.Store, orchestrator *query.Orchestrator, logger ectologger.Logger) *CredentialHandler {
	return &CredentialHandler{
		store:        store,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// ConfigurePostHogRequest is the request body for connecting PostHog
type ConfigurePostHogRequest struct {
	APIKey    string `json:"api_key" validate:"required"`
	ProjectID string `json:"project_id" validate:"required"`
	Host      string `json:"host" validate:"omitempty,url"`
	Mode      string `json:"mode" validate:"required,oneof=cloud self_hosted"`
}

// CredentialResponse is the non-secret view of a stored credential
type CredentialResponse struct {
	Integration string                  `json:"integration"`
	ProjectID   string                  `json:"project_id"`
	Host        string                  `json:"host,omitempty"`
	Mode        models.CredentialMode   `json:"mode"`
	IsActive    bool                    `json:"is_active"`
	Status      models.CredentialStatus `json:"status"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

func credentialResponse(credential *models.WorkspaceCredential) CredentialResponse {
	return CredentialResponse{
		Integration: credential.Integration,
		ProjectID:   credential.ProjectID,
		Host:        credential.Host,
		Mode:        credential.Mode,
		IsActive:    credential.IsActive,
		Status:      credential.Status,
		UpdatedAt:   credential.UpdatedAt,
	}
}

// RegisterRoutes registers the credential routes
func (h *CredentialHandler) RegisterRoutes(g *echo.Group) {
	posthog := g.Group("/credentials/posthog")
	posthog.POST("", h.Configure)
	posthog.GET("", h.Get)
	posthog.DELETE("", h.Disconnect)
}

// Configure handles POST /credentials/posthog. The credential is stored in
// the validating state, then a fresh probe query (cache skipped) either
// promotes it to connected or parks it in error with the failure surfaced.
func (h *CredentialHandler) Configure(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "CredentialHandler.Configure")
	defer span.End()

	var req ConfigurePostHogRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return qerrors.NewInvalidQueryError("api_key, project_id, and a valid mode are required")
	}

	scope, err := GetScope(c)
	if err != nil {
		return err
	}

	credential, err := h.store.Configure(ctx, scope, models.IntegrationPostHog, credentials.ConfigureInput{
		APIKey:    req.APIKey,
		ProjectID: req.ProjectID,
		Host:      req.Host,
		Mode:      models.CredentialMode(req.Mode),
	})
	if err != nil {
		return err
	}

	if _, err := h.orchestrator.Execute(ctx, scope, probeQuery, query.Options{SkipCache: true}); err != nil {
		if _, statusErr := h.store.SetStatus(ctx, scope, models.IntegrationPostHog, models.CredentialStatusError, true); statusErr != nil {
			h.logger.WithContext(ctx).WithError(statusErr).Error("failed to mark credential as errored")
		}
		return err
	}

	if _, err := h.store.SetStatus(ctx, scope, models.IntegrationPostHog, models.CredentialStatusConnected, true); err != nil {
		return err
	}
	credential.Status = models.CredentialStatusConnected

	return SuccessResponse(c, credentialResponse(credential))
}

// Get handles GET /credentials/posthog
func (h *CredentialHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "CredentialHandler.Get")
	defer span.End()

	scope, err := GetScope(c)
	if err != nil {
		return err
	}

	credential, err := h.store.Get(ctx, scope, models.IntegrationPostHog)
	if err != nil {
		return err
	}
	if credential == nil {
		return qerrors.NewNotFoundError("posthog is not configured")
	}

	return SuccessResponse(c, credentialResponse(credential))
}

// Disconnect handles DELETE /credentials/posthog
func (h *CredentialHandler) Disconnect(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "CredentialHandler.Disconnect")
	defer span.End()

	scope, err := GetScope(c)
	if err != nil {
		return err
	}

	found, err := h.store.Disconnect(ctx, scope, models.IntegrationPostHog)
	if err != nil {
		return err
	}
	if !found {
		return qerrors.NewNotFoundError("posthog is not configured")
	}

	return NoContentResponse(c)
}
