// Package newsapi is a small client for the NewsAPI "everything" search.
package newsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultBaseURL is the public NewsAPI endpoint.
const DefaultBaseURL = "https://newsapi.org/v2/everything"

// ErrNoKey is returned when the client has no API key.
var ErrNoKey = errors.New("news api key not configured")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Article is a single search hit.
type Article struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PublishedAt string `json:"publishedAt"`
}

// Result is one page of search results.
type Result struct {
	TotalResults int       `json:"totalResults"`
	Articles     []Article `json:"articles"`
}

// Client queries NewsAPI.
type Client struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	client  HTTPClient
}

// New creates a Client. An empty apiKey yields a client whose calls fail with ErrNoKey.
func New(apiKey string, client HTTPClient) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		timeout: 10 * time.Second,
		client:  client,
	}
}

// WithBaseURL overrides the endpoint.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// Enabled reports whether the client has credentials.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Everything searches English articles matching query.
func (c *Client) Everything(ctx context.Context, query string, pageSize int) (*Result, error) {
	if !c.Enabled() {
		return nil, ErrNoKey
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("language", "en")
	params.Set("pageSize", strconv.Itoa(pageSize))
	params.Set("apiKey", c.apiKey)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var res Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, 2*1024*1024)).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &res, nil
}
