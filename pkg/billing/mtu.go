package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/getbeton/inspector-sub003/pkg/credentials"
	qerrors "github.com/getbeton/inspector-sub003/pkg/errors"
	"github.com/getbeton/inspector-sub003/pkg/metrics"
	"github.com/getbeton/inspector-sub003/pkg/models"
	"github.com/getbeton/inspector-sub003/pkg/posthog"
	"github.com/getbeton/inspector-sub003/pkg/ratelimit"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
)

// identifiedPredicate matches persons that count as tracked users: anyone
// the workspace has identified with an email property.
const identifiedPredicate = "properties.email"

// Counter computes an aggregate count with fallback. *posthog.Aggregator
// satisfies it.
type Counter interface {
	CountMatching(ctx context.Context, conn *models.Connection, countQuery, predicate string) (*posthog.CountResult, error)
}

// Publisher emits usage events. *Producer satisfies it; a nil publisher
// disables emission (Kafka not configured).
type Publisher interface {
	Publish(ctx context.Context, evt *UsageEvent) error
}

// CredentialResolver resolves a scope into a live connection.
type CredentialResolver interface {
	Resolve(ctx context.Context, scope credentials.Scope, integration string) (*models.Connection, error)
}

// MTUConfig bounds the billing path.
type MTUConfig struct {
	Limit  int64
	Window time.Duration
}

// MTUService computes monthly tracked users for one workspace at a time.
// It runs on the cron surface with the low enumeration quota since the
// fallback path is expensive.
type MTUService struct {
	credentials CredentialResolver
	limiter     ratelimit.Store
	counter     Counter
	publisher   Publisher
	logger      ectologger.Logger
	cfg         MTUConfig
}

// NewMTUService creates an MTU computation service.
func NewMTUService(creds CredentialResolver, limiter ratelimit.Store, counter Counter, publisher Publisher, cfg MTUConfig, logger ectologger.Logger) *MTUService {
	return &MTUService{
		credentials: creds,
		limiter:     limiter,
		counter:     counter,
		publisher:   publisher,
		logger:      logger,
		cfg:         cfg,
	}
}

// ComputeMTU counts the workspace's tracked users for the month containing
// the given time and publishes a usage event. A partial fallback count is
// published as such; downstream billing decides how to treat it.
func (s *MTUService) ComputeMTU(ctx context.Context, workspaceID uuid.UUID, period time.Time) (*posthog.CountResult, error) {
	ctx, span := tracing.StartSpan(ctx, "MTUService.ComputeMTU")
	defer span.End()

	res, err := s.limiter.Allow(ctx, "mtu:"+workspaceID.String(), s.cfg.Limit, s.cfg.Window)
	if err == nil && !res.Allowed {
		metrics.RateLimitRejectionsTotal.WithLabelValues("billing").Inc()
		return nil, qerrors.NewRateLimitError(res.RetryAfter)
	}

	conn, err := s.credentials.Resolve(ctx, credentials.AdminScope(workspaceID), models.IntegrationPostHog)
	if err != nil {
		return nil, err
	}

	monthStart := time.Date(period.Year(), period.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)
	countQuery := fmt.Sprintf(
		"SELECT count(DISTINCT person_id) FROM events WHERE timestamp >= '%s' AND timestamp < '%s'",
		monthStart.Format("2006-01-02"), monthEnd.Format("2006-01-02"))

	count, err := s.counter.CountMatching(ctx, conn, countQuery, identifiedPredicate)
	if err != nil {
		return nil, err
	}
	metrics.FallbackCountsTotal.WithLabelValues(string(count.Source)).Inc()

	if s.publisher != nil {
		evt := &UsageEvent{
			WorkspaceID:  workspaceID.String(),
			Period:       monthStart.Format("2006-01"),
			TrackedUsers: count.Count,
			Source:       string(count.Source),
		}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			// The count is still good; emission is retried on the next run.
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"workspace_id": workspaceID,
			}).Warn("failed to publish usage event")
		}
	}

	return count, nil
}
