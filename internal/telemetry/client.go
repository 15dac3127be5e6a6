package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kiln/internal/api"
	"kiln/internal/config"
)

// Client reads aggregate telemetry back from a kilnd instance. Unlike the
// reporter, read failures are real errors: the caller asked for the data.
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient builds a read client for the configured endpoint.
func NewClient(cfg config.Telemetry) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("telemetry endpoint is not configured")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Counts fetches the per-project flash counters.
func (c *Client) Counts(ctx context.Context) (map[string]api.Counters, error) {
	var counts map[string]api.Counters
	if err := c.get(ctx, "/api/flash-counts", nil, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// Errors fetches one page of recorded failures.
func (c *Client) Errors(ctx context.Context, category, project string, limit, offset int) (api.ErrorLogPage, error) {
	query := url.Values{}
	if category != "" {
		query.Set("category", category)
	}
	if project != "" {
		query.Set("project", project)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}

	var page api.ErrorLogPage
	if err := c.get(ctx, "/api/flash-errors", query, &page); err != nil {
		return api.ErrorLogPage{}, err
	}
	return page, nil
}

// Summary fetches the error log aggregates.
func (c *Client) Summary(ctx context.Context) (api.ErrorSummary, error) {
	query := url.Values{"summary": []string{"true"}}
	var summary api.ErrorSummary
	if err := c.get(ctx, "/api/flash-errors", query, &summary); err != nil {
		return api.ErrorSummary{}, err
	}
	return summary, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
			return fmt.Errorf("fetch %s: %s (HTTP %d)", path, body.Error, resp.StatusCode)
		}
		return fmt.Errorf("fetch %s: HTTP %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
