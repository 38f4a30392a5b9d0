package posthog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/getbeton/inspector-sub003/pkg/errors"
	"github.com/getbeton/inspector-sub003/pkg/models"
)

type fakeEngine struct {
	queryResult *models.QueryResult
	queryErr    error
	queryCalls  int

	pages     []*PersonsPage
	pageErrs  []error
	listCalls int
}

func (f *fakeEngine) Query(ctx context.Context, conn *models.Connection, queryText string) (*models.QueryResult, error) {
	f.queryCalls++
	return f.queryResult, f.queryErr
}

func (f *fakeEngine) ListPersons(ctx context.Context, conn *models.Connection, limit, offset int) (*PersonsPage, error) {
	i := f.listCalls
	f.listCalls++
	if i < len(f.pageErrs) && f.pageErrs[i] != nil {
		return nil, f.pageErrs[i]
	}
	if i < len(f.pages) {
		return f.pages[i], nil
	}
	return &PersonsPage{}, nil
}

func personsPage(next string, emails ...string) *PersonsPage {
	page := &PersonsPage{Next: next}
	for _, email := range emails {
		person := Person{"properties": map[string]any{}}
		if email != "" {
			person["properties"] = map[string]any{"email": email}
		}
		page.Results = append(page.Results, person)
	}
	return page
}

const emailPredicate = "properties.email"

func newTestAggregator(engine Engine, cfg AggregatorConfig) *Aggregator {
	return NewAggregator(engine, cfg, getTestLogger())
}

func TestAggregator_PrimaryPath(t *testing.T) {
	engine := &fakeEngine{
		queryResult: &models.QueryResult{
			Columns:  []string{"count"},
			Rows:     [][]any{{float64(1234)}},
			RowCount: 1,
		},
	}
	agg := newTestAggregator(engine, DefaultAggregatorConfig())

	result, err := agg.CountMatching(context.Background(), testConnection("http://unused"), "SELECT count(distinct person_id) FROM events", emailPredicate)
	require.NoError(t, err)

	assert.Equal(t, int64(1234), result.Count)
	assert.Equal(t, SourcePrimary, result.Source)
	assert.Equal(t, 0, engine.listCalls, "primary success must not enumerate")
}

func TestAggregator_FallbackComplete(t *testing.T) {
	engine := &fakeEngine{
		queryErr: qerrors.NewUpstreamError("engine down"),
		pages: []*PersonsPage{
			personsPage("next", "a@x.co", "", "b@x.co"),
			personsPage("", "c@x.co"),
		},
	}
	agg := newTestAggregator(engine, DefaultAggregatorConfig())

	result, err := agg.CountMatching(context.Background(), testConnection("http://unused"), "SELECT count()", emailPredicate)
	require.NoError(t, err)

	assert.Equal(t, int64(3), result.Count, "persons without the attribute are not counted")
	assert.Equal(t, SourceFallbackComplete, result.Source)
}

func TestAggregator_AmbiguousPrimaryFallsBack(t *testing.T) {
	engine := &fakeEngine{
		queryResult: &models.QueryResult{Columns: []string{"count"}, Rows: [][]any{}},
		pages:       []*PersonsPage{personsPage("", "a@x.co")},
	}
	agg := newTestAggregator(engine, DefaultAggregatorConfig())

	result, err := agg.CountMatching(context.Background(), testConnection("http://unused"), "SELECT count()", emailPredicate)
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Count)
	assert.Equal(t, SourceFallbackComplete, result.Source)
}

func TestAggregator_PageCapReportsPartial(t *testing.T) {
	pages := make([]*PersonsPage, 5)
	for i := range pages {
		pages[i] = personsPage("next", "a@x.co")
	}
	engine := &fakeEngine{
		queryErr: qerrors.NewUpstreamError("engine down"),
		pages:    pages,
	}
	cfg := DefaultAggregatorConfig()
	cfg.MaxPages = 3
	agg := newTestAggregator(engine, cfg)

	result, err := agg.CountMatching(context.Background(), testConnection("http://unused"), "SELECT count()", emailPredicate)
	require.NoError(t, err)

	assert.Equal(t, int64(3), result.Count)
	assert.Equal(t, SourceFallbackPartial, result.Source, "a cap hit must never look complete")
	assert.Equal(t, 3, engine.listCalls)
}

func TestAggregator_TimeBudgetReportsPartial(t *testing.T) {
	engine := &fakeEngine{
		queryErr: qerrors.NewUpstreamError("engine down"),
		pages: []*PersonsPage{
			personsPage("next", "a@x.co"),
			personsPage("next", "b@x.co"),
		},
	}
	agg := newTestAggregator(engine, DefaultAggregatorConfig())

	now := time.Now()
	agg.now = func() time.Time {
		// First check passes, then the clock jumps past the budget.
		now = now.Add(agg.cfg.TimeBudget)
		return now
	}

	result, err := agg.CountMatching(context.Background(), testConnection("http://unused"), "SELECT count()", emailPredicate)
	require.NoError(t, err)

	assert.Equal(t, SourceFallbackPartial, result.Source)
}

func TestAggregator_MidPaginationErrorKeepsPartial(t *testing.T) {
	engine := &fakeEngine{
		queryErr: qerrors.NewUpstreamError("engine down"),
		pages:    []*PersonsPage{personsPage("next", "a@x.co", "b@x.co"), nil, nil},
		pageErrs: []error{nil, qerrors.NewUpstreamError("flaky"), qerrors.NewUpstreamError("flaky")},
	}
	agg := newTestAggregator(engine, DefaultAggregatorConfig())

	result, err := agg.CountMatching(context.Background(), testConnection("http://unused"), "SELECT count()", emailPredicate)
	require.NoError(t, err, "an accumulated partial count beats a propagated error")

	assert.Equal(t, int64(2), result.Count)
	assert.Equal(t, SourceFallbackPartial, result.Source)
}

func TestAggregator_ErrorWithNothingAccumulatedPropagates(t *testing.T) {
	engine := &fakeEngine{
		queryErr: qerrors.NewUpstreamError("engine down"),
		pageErrs: []error{qerrors.NewUpstreamError("down"), qerrors.NewUpstreamError("down")},
	}
	agg := newTestAggregator(engine, DefaultAggregatorConfig())

	_, err := agg.CountMatching(context.Background(), testConnection("http://unused"), "SELECT count()", emailPredicate)
	require.Error(t, err)
	assert.True(t, qerrors.IsKind(err, qerrors.KindUpstream))
	assert.Equal(t, 2, engine.listCalls, "one bounded retry per page")
}

func TestAggregator_RetriesFailedPageOnce(t *testing.T) {
	engine := &fakeEngine{
		queryErr: qerrors.NewUpstreamError("engine down"),
		pages:    []*PersonsPage{nil, personsPage("", "a@x.co")},
		pageErrs: []error{qerrors.NewUpstreamError("blip"), nil},
	}
	agg := newTestAggregator(engine, DefaultAggregatorConfig())

	result, err := agg.CountMatching(context.Background(), testConnection("http://unused"), "SELECT count()", emailPredicate)
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Count)
	assert.Equal(t, SourceFallbackComplete, result.Source)
}
