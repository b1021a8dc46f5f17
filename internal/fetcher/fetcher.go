// Package fetcher handles RSS feed downloading and parsing.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const maxBodyBytes = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Item is a well-formed feed entry: both title and link are present.
type Item struct {
	Title       string
	Link        string
	Description string
}

// Fetcher downloads and parses RSS feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: 10 * time.Second,
	}
}

// WithTimeout sets the per-fetch deadline.
func (f *Fetcher) WithTimeout(d time.Duration) *Fetcher {
	f.timeout = d
	return f
}

// Fetch downloads and parses an RSS feed from the given URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "TrendScout/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// FetchItems fetches url and returns its well-formed items in feed order.
func (f *Fetcher) FetchItems(ctx context.Context, url string) ([]Item, error) {
	feed, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return Items(feed, 0), nil
}

// Items returns up to limit entries of feed that carry both a title and a
// link. A non-positive limit returns all of them.
func Items(feed *gofeed.Feed, limit int) []Item {
	if feed == nil {
		return nil
	}
	var out []Item
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		title := strings.TrimSpace(it.Title)
		link := strings.TrimSpace(it.Link)
		if title == "" || link == "" {
			continue
		}
		out = append(out, Item{Title: title, Link: link, Description: it.Description})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
