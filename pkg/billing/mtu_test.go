package billing

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/getbeton/inspector-sub003/pkg/credentials"
	qerrors "github.com/getbeton/inspector-sub003/pkg/errors"
	"github.com/getbeton/inspector-sub003/pkg/models"
	"github.com/getbeton/inspector-sub003/pkg/posthog"
	"github.com/getbeton/inspector-sub003/pkg/ratelimit"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakeCounter struct {
	result    *posthog.CountResult
	err       error
	lastQuery string
	calls     int
}

func (f *fakeCounter) CountMatching(ctx context.Context, conn *models.Connection, countQuery, predicate string) (*posthog.CountResult, error) {
	f.calls++
	f.lastQuery = countQuery
	return f.result, f.err
}

type fakePublisher struct {
	events []*UsageEvent
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, evt *UsageEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

type fakeResolver struct {
	conn  *models.Connection
	err   error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, scope credentials.Scope, integration string) (*models.Connection, error) {
	f.calls++
	return f.conn, f.err
}

func testMTUService(counter *fakeCounter, publisher *fakePublisher, resolver *fakeResolver, limit int64) *MTUService {
	return NewMTUService(resolver, ratelimit.NewMemoryStore(), counter, publisher,
		MTUConfig{Limit: limit, Window: time.Minute}, getTestLogger())
}

func connectedResolver() *fakeResolver {
	return &fakeResolver{conn: &models.Connection{
		WorkspaceID: uuid.New(),
		ProjectID:   "12345",
		APIKey:      "phx_key",
		Host:        "https://app.posthog.com",
	}}
}

func TestMTUService_PublishesUsageEvent(t *testing.T) {
	counter := &fakeCounter{result: &posthog.CountResult{Count: 321, Source: posthog.SourcePrimary}}
	publisher := &fakePublisher{}
	svc := testMTUService(counter, publisher, connectedResolver(), 15)

	workspaceID := uuid.New()
	period := time.Date(2026, time.July, 14, 12, 0, 0, 0, time.UTC)

	count, err := svc.ComputeMTU(context.Background(), workspaceID, period)
	require.NoError(t, err)
	assert.Equal(t, int64(321), count.Count)

	require.Len(t, publisher.events, 1)
	evt := publisher.events[0]
	assert.Equal(t, workspaceID.String(), evt.WorkspaceID)
	assert.Equal(t, "2026-07", evt.Period)
	assert.Equal(t, int64(321), evt.TrackedUsers)
	assert.Equal(t, "primary", evt.Source)

	assert.Contains(t, counter.lastQuery, "'2026-07-01'")
	assert.Contains(t, counter.lastQuery, "'2026-08-01'")
}

func TestMTUService_RateLimited(t *testing.T) {
	counter := &fakeCounter{result: &posthog.CountResult{Count: 1, Source: posthog.SourcePrimary}}
	resolver := connectedResolver()
	svc := testMTUService(counter, &fakePublisher{}, resolver, 1)

	workspaceID := uuid.New()
	_, err := svc.ComputeMTU(context.Background(), workspaceID, time.Now())
	require.NoError(t, err)

	_, err = svc.ComputeMTU(context.Background(), workspaceID, time.Now())
	require.Error(t, err)
	assert.True(t, qerrors.IsKind(err, qerrors.KindRateLimited))
	assert.Equal(t, 1, resolver.calls, "a rejected run must not resolve credentials")
}

func TestMTUService_PublishFailureDoesNotDropCount(t *testing.T) {
	counter := &fakeCounter{result: &posthog.CountResult{Count: 55, Source: posthog.SourceFallbackPartial}}
	publisher := &fakePublisher{err: qerrors.NewUpstreamError("broker down")}
	svc := testMTUService(counter, publisher, connectedResolver(), 15)

	count, err := svc.ComputeMTU(context.Background(), uuid.New(), time.Now())
	require.NoError(t, err, "the computed count survives a publish failure")
	assert.Equal(t, int64(55), count.Count)
}
