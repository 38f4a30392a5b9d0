package handlers

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/getbeton/inspector-sub003/pkg/billing"
	qerrors "github.com/getbeton/inspector-sub003/pkg/errors"
	"github.com/getbeton/inspector-sub003/pkg/posthog"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
)

// BillingHandler serves the cron surface that computes monthly tracked
// users. It is only mounted behind the agent shared-secret middleware.
type BillingHandler struct {
	mtu    *billing.MTUService
	logger ectologger.Logger
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(mtu *billing.MTUService, logger ectologger.Logger) *BillingHandler {
	return &BillingHandler{
		mtu:    mtu,
		logger: logger,
	}
}

// ComputeMTURequest optionally names the billing period; it defaults to the
// current month.
type ComputeMTURequest struct {
	Period string `json:"period" validate:"omitempty,datetime=2006-01"`
}

// ComputeMTUResponse reports the computed count
type ComputeMTUResponse struct {
	WorkspaceID  string         `json:"workspace_id"`
	Period       string         `json:"period"`
	TrackedUsers int64          `json:"tracked_users"`
	Source       posthog.Source `json:"source"`
}

// RegisterRoutes registers the billing routes
func (h *BillingHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/billing/mtu", h.ComputeMTU)
}

// ComputeMTU handles POST /billing/mtu
func (h *BillingHandler) ComputeMTU(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "BillingHandler.ComputeMTU")
	defer span.End()

	var req ComputeMTURequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return qerrors.NewInvalidQueryError("period must be formatted YYYY-MM")
	}

	workspaceID, err := GetWorkspaceID(c)
	if err != nil {
		return err
	}

	period := time.Now().UTC()
	if req.Period != "" {
		period, err = time.Parse("2006-01", req.Period)
		if err != nil {
			return qerrors.NewInvalidQueryError("period must be formatted YYYY-MM")
		}
	}

	count, err := h.mtu.ComputeMTU(ctx, workspaceID, period)
	if err != nil {
		return err
	}

	return SuccessResponse(c, ComputeMTUResponse{
		WorkspaceID:  workspaceID.String(),
		Period:       time.Date(period.Year(), period.Month(), 1, 0, 0, 0, 0, time.UTC).Format("2006-01"),
		TrackedUsers: count.Count,
		Source:       count.Source,
	})
}
