// Package search adapts an external keyword image-search service, rate
// limited the same way as web fetches.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

const maxResponseBytes = 4 << 20

// Config holds the search service endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements discovery.ImageSearch over HTTP JSON.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter discovery.RateLimiter
	logger  *zap.Logger
}

// New constructs a Client. The limiter paces queries like any other
// outbound fetch.
func New(cfg Config, limiter discovery.RateLimiter, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("search base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger,
	}, nil
}

type searchResponse struct {
	Images []discovery.SearchImage `json:"images"`
}

// SearchImages runs one keyword query and returns up to maxResults
// image results.
func (c *Client) SearchImages(ctx context.Context, query string, maxResults int) ([]discovery.SearchImage, error) {
	endpoint := fmt.Sprintf("%s/images?%s", c.baseURL, url.Values{
		"q":   {query},
		"max": {strconv.Itoa(maxResults)},
	}.Encode())

	if err := c.limiter.WaitForSlot(ctx, endpoint); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.limiter.ReportError(endpoint, 0)
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on read path

	if resp.StatusCode != http.StatusOK {
		c.limiter.ReportError(endpoint, resp.StatusCode)
		return nil, fmt.Errorf("search %q: status %d", query, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.limiter.ReportError(endpoint, 0)
		return nil, fmt.Errorf("read search response: %w", err)
	}
	c.limiter.ReportSuccess(endpoint)

	var parsed searchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(parsed.Images) > maxResults && maxResults > 0 {
		parsed.Images = parsed.Images[:maxResults]
	}
	return parsed.Images, nil
}
