package posthog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	qerrors "github.com/getbeton/inspector-sub003/pkg/errors"
	"github.com/getbeton/inspector-sub003/pkg/models"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
)

const (
	// DefaultTimeout is the default remote query timeout
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024
)

// Client talks to a PostHog deployment on behalf of one workspace at a time.
// The credential arrives per call; the client itself holds no secrets.
type Client struct {
	httpClient *http.Client
	logger     ectologger.Logger
	timeout    time.Duration
}

// Config holds client configuration
type Config struct {
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// NewClient creates a new PostHog client
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    cfg.MaxIdleConns,
				IdleConnTimeout: cfg.IdleConnTimeout,
			},
		},
		logger:  logger,
		timeout: timeout,
	}
}

type hogQLQuery struct {
	Kind  string `json:"kind"`
	Query string `json:"query"`
}

type queryRequest struct {
	Query hogQLQuery `json:"query"`
}

type queryResponse struct {
	Columns []string `json:"columns"`
	Results [][]any  `json:"results"`
}

// Query runs HogQL text against the workspace's project with a hard
// deadline. A deadline overrun is a TimeoutError; an engine-side failure is
// an UpstreamAPIError. The upstream response body is never attached to the
// returned error.
func (c *Client) Query(ctx context.Context, conn *models.Connection, queryText string) (*models.QueryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "PostHogClient.Query")
	defer span.End()

	if strings.TrimSpace(queryText) == "" {
		return nil, qerrors.NewInvalidQueryError("query text is empty")
	}

	start := time.Now()
	var resp queryResponse
	err := c.doJSON(ctx, conn, http.MethodPost, fmt.Sprintf("/api/projects/%s/query", conn.ProjectID),
		queryRequest{Query: hogQLQuery{Kind: "HogQLQuery", Query: queryText}}, &resp)
	if err != nil {
		return nil, err
	}

	rows := resp.Results
	if rows == nil {
		rows = [][]any{}
	}

	return &models.QueryResult{
		Columns:         resp.Columns,
		Rows:            rows,
		RowCount:        len(rows),
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// doJSON issues one authenticated request and decodes the JSON response.
// All error paths are already classified into the closed taxonomy.
func (c *Client) doJSON(ctx context.Context, conn *models.Connection, method, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return qerrors.NewUpstreamError("failed to encode request").WithCause(err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, conn.Host+path, reqBody)
	if err != nil {
		return qerrors.NewUpstreamError("failed to create request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+conn.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return qerrors.NewTimeoutError("analytics engine did not respond in time")
		}
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"workspace_id": conn.WorkspaceID,
		}).Errorf("PostHog request failed: %s %s", method, path)
		return qerrors.NewUpstreamError("analytics engine is unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return qerrors.NewTimeoutError("analytics engine did not respond in time")
		}
		return qerrors.NewUpstreamError("failed to read response").WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"workspace_id": conn.WorkspaceID,
			"status_code":  resp.StatusCode,
		}).Errorf("PostHog returned an error: %s %s", method, path)
		return qerrors.NewUpstreamError("analytics engine returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return qerrors.NewUpstreamError("analytics engine returned an unexpected response").WithCause(err)
		}
	}

	return nil
}
