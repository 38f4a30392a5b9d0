package posthog

import (
	"context"
	"fmt"
	"net/http"

	"github.com/getbeton/inspector-sub003/pkg/models"
)

// Person is one record from the enumeration API, kept as loose JSON so
// predicates can inspect arbitrary properties.
type Person map[string]any

// PersonsPage is one page of the enumeration endpoint.
type PersonsPage struct {
	Results []Person `json:"results"`
	Next    string   `json:"next"`
}

// HasMore reports whether another page exists after this one.
func (p *PersonsPage) HasMore() bool {
	return p.Next != ""
}

// ListPersons fetches one page of the persons enumeration API. This is the
// slow path behind the fallback aggregator; callers own the paging loop and
// its budgets.
func (c *Client) ListPersons(ctx context.Context, conn *models.Connection, limit, offset int) (*PersonsPage, error) {
	var page PersonsPage
	err := c.doJSON(ctx, conn, http.MethodGet,
		fmt.Sprintf("/api/projects/%s/persons/?limit=%d&offset=%d", conn.ProjectID, limit, offset), nil, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}
