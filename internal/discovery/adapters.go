package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"trendscout/internal/llm"
	"trendscout/internal/newsapi"
	"trendscout/internal/processing"
)

// Source tags stored on discovered keywords.
const (
	SourceNewsAPI    = "newsapi"
	SourceReddit     = "reddit"
	SourceHackerNews = "hackernews"
	SourceAI         = "ai"
)

const userAgent = "TrendScout/1.0"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// getJSON performs a GET with its own timeout and decodes a JSON body into v.
func getJSON(ctx context.Context, client HTTPClient, timeout time.Duration, rawURL string, header http.Header, v any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 2*1024*1024)).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// NewsAPIAdapter extracts title terms from NewsAPI search results.
type NewsAPIAdapter struct {
	client  *newsapi.Client
	queries []string
}

// DefaultNewsQueries are the niche searches run against NewsAPI.
var DefaultNewsQueries = []string{
	"email productivity",
	"inbox zero",
	"email automation",
	"time management",
	"executive productivity",
}

// NewNewsAPIAdapter creates an adapter over client.
func NewNewsAPIAdapter(client *newsapi.Client) *NewsAPIAdapter {
	return &NewsAPIAdapter{client: client, queries: DefaultNewsQueries}
}

// Name implements Adapter.
func (a *NewsAPIAdapter) Name() string { return SourceNewsAPI }

// Discover runs up to five queries. Without an API key it returns nothing.
func (a *NewsAPIAdapter) Discover(ctx context.Context) ([]Candidate, error) {
	if !a.client.Enabled() {
		return nil, nil
	}
	queries := a.queries
	if len(queries) > 5 {
		queries = queries[:5]
	}

	var out []Candidate
	var errs []error
	for _, q := range queries {
		res, err := a.client.Everything(ctx, q, 10)
		if err != nil {
			errs = append(errs, fmt.Errorf("query %q: %w", q, err))
			continue
		}
		for _, art := range res.Articles {
			for _, term := range processing.TitleTerms(art.Title, 4, 5, 4) {
				out = append(out, Candidate{Keyword: term, Source: SourceNewsAPI})
			}
		}
	}
	if len(errs) == len(queries) && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// RedditAdapter extracts title terms from popular posts in niche subreddits.
type RedditAdapter struct {
	clientID     string
	clientSecret string
	client       HTTPClient
	tokenURL     string
	apiBase      string
	subreddits   []string
	minUps       int
	timeout      time.Duration
}

// DefaultSubreddits are the communities read by RedditAdapter.
var DefaultSubreddits = []string{"productivity", "email", "GetMotivated", "entrepreneur"}

// NewRedditAdapter creates an adapter using client-credentials OAuth.
func NewRedditAdapter(clientID, clientSecret string, client HTTPClient) *RedditAdapter {
	return &RedditAdapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       client,
		tokenURL:     "https://www.reddit.com/api/v1/access_token",
		apiBase:      "https://oauth.reddit.com",
		subreddits:   DefaultSubreddits,
		minUps:       50,
		timeout:      8 * time.Second,
	}
}

// WithEndpoints overrides the token and API URLs.
func (a *RedditAdapter) WithEndpoints(tokenURL, apiBase string) *RedditAdapter {
	a.tokenURL = tokenURL
	a.apiBase = strings.TrimRight(apiBase, "/")
	return a
}

// Name implements Adapter.
func (a *RedditAdapter) Name() string { return SourceReddit }

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title string `json:"title"`
				Ups   int    `json:"ups"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Discover reads the hot listing of each subreddit. Without credentials it
// returns nothing. A failing subreddit is skipped.
func (a *RedditAdapter) Discover(ctx context.Context) ([]Candidate, error) {
	if a.clientID == "" || a.clientSecret == "" {
		return nil, nil
	}
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	var out []Candidate
	for _, sub := range a.subreddits {
		var listing redditListing
		u := fmt.Sprintf("%s/r/%s/hot?limit=25", a.apiBase, url.PathEscape(sub))
		if err := getJSON(ctx, a.client, a.timeout, u, header, &listing); err != nil {
			continue
		}
		for _, child := range listing.Data.Children {
			post := child.Data
			if post.Ups < a.minUps {
				continue
			}
			for _, term := range processing.TitleTerms(post.Title, 3, 4, 4) {
				out = append(out, Candidate{Keyword: term, Source: SourceReddit, RawScore: float64(post.Ups)})
			}
		}
	}
	return out, nil
}

func (a *RedditAdapter) token(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token status %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("empty access token")
	}
	return body.AccessToken, nil
}

// HackerNewsAdapter extracts title terms from niche-related top stories.
type HackerNewsAdapter struct {
	client      HTTPClient
	baseURL     string
	limit       int
	concurrency int
	listTimeout time.Duration
	itemTimeout time.Duration
}

var hnTopics = []string{"email", "productivity", "inbox", "automation", "management"}

// NewHackerNewsAdapter creates an adapter over the public Firebase API.
func NewHackerNewsAdapter(client HTTPClient) *HackerNewsAdapter {
	return &HackerNewsAdapter{
		client:      client,
		baseURL:     "https://hacker-news.firebaseio.com/v0",
		limit:       30,
		concurrency: 8,
		listTimeout: 5 * time.Second,
		itemTimeout: 3 * time.Second,
	}
}

// WithBaseURL overrides the API root.
func (a *HackerNewsAdapter) WithBaseURL(u string) *HackerNewsAdapter {
	a.baseURL = strings.TrimRight(u, "/")
	return a
}

// Name implements Adapter.
func (a *HackerNewsAdapter) Name() string { return SourceHackerNews }

type hnItem struct {
	Title string `json:"title"`
	Score int    `json:"score"`
}

// Discover fetches the first top stories with bounded concurrency. A failing
// item is skipped and never cancels its siblings.
func (a *HackerNewsAdapter) Discover(ctx context.Context) ([]Candidate, error) {
	var ids []int64
	if err := getJSON(ctx, a.client, a.listTimeout, a.baseURL+"/topstories.json", nil, &ids); err != nil {
		return nil, fmt.Errorf("top stories: %w", err)
	}
	if len(ids) > a.limit {
		ids = ids[:a.limit]
	}

	items := make([]*hnItem, len(ids))
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			var it hnItem
			u := a.baseURL + "/item/" + strconv.FormatInt(id, 10) + ".json"
			if err := getJSON(ctx, a.client, a.itemTimeout, u, nil, &it); err != nil {
				return nil
			}
			items[i] = &it
			return nil
		})
	}
	_ = g.Wait()

	var out []Candidate
	for _, it := range items {
		if it == nil || !processing.ContainsAnyFold(it.Title, hnTopics) {
			continue
		}
		for _, term := range processing.TitleTerms(it.Title, 3, 5, 4) {
			out = append(out, Candidate{Keyword: term, Source: SourceHackerNews, RawScore: float64(it.Score)})
		}
	}
	return out, nil
}

// BrainstormAdapter asks the completion service for emerging keywords.
type BrainstormAdapter struct {
	llm llm.Completer
}

// NewBrainstormAdapter creates an adapter over c.
func NewBrainstormAdapter(c llm.Completer) *BrainstormAdapter {
	return &BrainstormAdapter{llm: c}
}

// Name implements Adapter.
func (a *BrainstormAdapter) Name() string { return "brainstorm" }

// Discover returns the brainstormed keywords tagged SourceAI.
func (a *BrainstormAdapter) Discover(ctx context.Context) ([]Candidate, error) {
	raw, err := a.llm.Complete(ctx, []llm.Message{llm.User(brainstormPrompt)}, true)
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	keywords, err := ParseKeywordList(raw)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(keywords))
	for _, k := range keywords {
		out = append(out, Candidate{Keyword: k, Source: SourceAI})
	}
	return out, nil
}

// ParseKeywordList accepts {"keywords": [...]} or a bare JSON array of
// strings. Non-string entries are skipped.
func ParseKeywordList(raw string) ([]string, error) {
	var doc json.RawMessage
	if err := llm.DecodeJSON(raw, &doc); err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(doc, &items); err != nil {
		var obj struct {
			Keywords []json.RawMessage `json:"keywords"`
		}
		if err := json.Unmarshal(doc, &obj); err != nil || obj.Keywords == nil {
			return nil, fmt.Errorf("no keyword list: %w", llm.ErrMalformed)
		}
		items = obj.Keywords
	}

	var out []string
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
