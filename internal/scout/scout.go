// Package scout turns feed headlines into candidate blog topics.
package scout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"trendscout/internal/fetcher"
	"trendscout/internal/filter"
	"trendscout/internal/llm"
	"trendscout/internal/model"
	"trendscout/internal/sources"
	"trendscout/internal/storage"
)

const (
	perSourceLimit = 20
	fallbackLimit  = 30
	// MinScore is the lowest relevance score a story may carry.
	MinScore = 7
)

// ItemFetcher returns the well-formed items of a feed.
type ItemFetcher interface {
	FetchItems(ctx context.Context, url string) ([]fetcher.Item, error)
}

// Candidate is a scored story proposed as a topic.
type Candidate struct {
	Title            string     `json:"blog_idea_title"`
	Angle            string     `json:"angle"`
	OriginalHeadline string     `json:"original_headline"`
	SourceURL        string     `json:"source_url"`
	RelevanceScore   llm.Number `json:"relevance_score"`
}

// Yield reports how many items a target produced and how many of them
// became candidates.
type Yield struct {
	URL     string
	Keyword string
	Found   int
	Used    int
}

// Result is the outcome of FindCandidates.
type Result struct {
	Candidates []Candidate
	Yields     []Yield
	Errors     []string
}

// SaveResult counts persisted and already-known topics.
type SaveResult struct {
	Created int
	Skipped int
}

// Scout fetches headlines and asks the completion service which are worth writing about.
type Scout struct {
	fetcher ItemFetcher
	llm     llm.Completer
	store   storage.Storage
	rules   []filter.Rule
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// New creates a Scout. rules is the niche pre-filter.
func New(f ItemFetcher, c llm.Completer, store storage.Storage, rules []filter.Rule, logger *slog.Logger) *Scout {
	return &Scout{
		fetcher: f,
		llm:     c,
		store:   store,
		rules:   rules,
		logger:  logger.With("component", "scout"),
		timeout: 10 * time.Second,
		now:     time.Now,
	}
}

type headline struct {
	fetcher.Item
	target int
}

type fetchResult struct {
	items []fetcher.Item
	err   error
}

// FindCandidates fetches every target concurrently, pre-filters the headlines
// and returns the stories the completion service scored at MinScore or above.
// Failures are reported in Result.Errors.
func (s *Scout) FindCandidates(ctx context.Context, targets []sources.Target) Result {
	var res Result

	results := make([]fetchResult, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t sources.Target) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = fetchResult{err: fmt.Errorf("panic: %v", r)}
				}
			}()
			fctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			items, err := s.fetcher.FetchItems(fctx, t.URL)
			if len(items) > perSourceLimit {
				items = items[:perSourceLimit]
			}
			results[i] = fetchResult{items: items, err: err}
		}(i, t)
	}
	wg.Wait()

	var all []headline
	seen := make(map[string]struct{})
	res.Yields = make([]Yield, len(targets))
	for i, t := range targets {
		res.Yields[i] = Yield{URL: t.URL, Keyword: t.Keyword}
		r := results[i]
		if r.err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", targetName(t), r.err))
			s.logger.Warn("fetch failed", "url", t.URL, "error", r.err)
			continue
		}
		res.Yields[i].Found = len(r.items)
		for _, it := range r.items {
			if _, dup := seen[it.Link]; dup {
				continue
			}
			seen[it.Link] = struct{}{}
			all = append(all, headline{Item: it, target: i})
		}
	}

	s.logger.Info("headlines fetched", "targets", len(targets), "items", len(all), "errors", len(res.Errors))
	if len(all) == 0 {
		return res
	}

	selected := s.prefilter(all)

	stories, err := s.analyze(ctx, selected)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("analyze: %v", err))
		s.logger.Warn("headline analysis failed", "error", err)
		return res
	}

	byLink := make(map[string]int, len(all))
	for _, h := range all {
		byLink[h.Link] = h.target
	}
	for _, c := range stories {
		if i, ok := byLink[c.SourceURL]; ok {
			res.Yields[i].Used++
		}
	}
	res.Candidates = stories
	s.logger.Info("candidates found", "analyzed", len(selected), "candidates", len(stories))
	return res
}

// prefilter keeps headlines matching the niche rules, or the first
// fallbackLimit headlines when none match.
func (s *Scout) prefilter(all []headline) []headline {
	var matched []headline
	for _, h := range all {
		if filter.Match(h.Title, s.rules) {
			matched = append(matched, h)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	if len(all) > fallbackLimit {
		return all[:fallbackLimit]
	}
	return all
}

func (s *Scout) analyze(ctx context.Context, items []headline) ([]Candidate, error) {
	var b strings.Builder
	b.WriteString(analystPrompt)
	b.WriteString("\n\nHeadlines:\n")
	for _, h := range items {
		fmt.Fprintf(&b, "- %s | URL: %s\n", h.Title, h.Link)
	}

	raw, err := s.llm.Complete(ctx, []llm.Message{llm.User(b.String())}, true)
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	return ParseStories(raw)
}

// ParseStories decodes {"relevant_stories": [...]} and keeps well-formed
// stories scoring at least MinScore. A document without a story array is
// malformed.
func ParseStories(raw string) ([]Candidate, error) {
	var doc struct {
		Stories json.RawMessage `json:"relevant_stories"`
	}
	if err := llm.DecodeJSON(raw, &doc); err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(doc.Stories, &items); err != nil || doc.Stories == nil {
		return nil, fmt.Errorf("relevant_stories is not an array: %w", llm.ErrMalformed)
	}

	var out []Candidate
	for _, item := range items {
		var c Candidate
		if err := json.Unmarshal(item, &c); err != nil {
			continue
		}
		c.Title = strings.TrimSpace(c.Title)
		c.OriginalHeadline = strings.TrimSpace(c.OriginalHeadline)
		c.SourceURL = strings.TrimSpace(c.SourceURL)
		c.Angle = strings.TrimSpace(c.Angle)
		if c.Title == "" {
			c.Title = c.OriginalHeadline
		}
		if c.Title == "" || c.RelevanceScore < MinScore {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Save stores candidates as pending topics in one transaction. Candidates
// whose source URL is already known are skipped.
func (s *Scout) Save(ctx context.Context, candidates []Candidate) (SaveResult, error) {
	if len(candidates) == 0 {
		return SaveResult{}, nil
	}
	now := s.now()
	topics := make([]model.Topic, 0, len(candidates))
	for _, c := range candidates {
		topics = append(topics, model.Topic{
			Title:          c.Title,
			Angle:          c.Angle,
			SourceURL:      c.SourceURL,
			SourceHeadline: c.OriginalHeadline,
			Status:         model.TopicPending,
			CreatedAt:      now,
		})
	}
	created, skipped, err := s.store.CreateTopics(ctx, topics)
	if err != nil {
		return SaveResult{}, fmt.Errorf("save topics: %w", err)
	}
	s.logger.Info("topics saved", "created", created, "skipped", skipped)
	return SaveResult{Created: created, Skipped: skipped}, nil
}

func targetName(t sources.Target) string {
	if t.Name != "" {
		return t.Name
	}
	return t.URL
}
