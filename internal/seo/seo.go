// Package seo implements content intelligence over published articles: gap
// detection, internal linking, staleness refresh and keyword difficulty.
package seo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trendscout/internal/llm"
	"trendscout/internal/newsapi"
	"trendscout/internal/storage"
)

const (
	defaultGapLimit     = 20
	defaultDifficulty   = 0.5
	difficultyTimeout   = 5 * time.Second
	highOpportunityAt   = 0.8
	mediumOpportunityAt = 0.6
)

// Opportunity ranks a content gap.
type Opportunity string

// Opportunity tiers.
const (
	OpportunityHigh   Opportunity = "high"
	OpportunityMedium Opportunity = "medium"
	OpportunityLow    Opportunity = "low"
)

// Gap is an active keyword no published article targets.
type Gap struct {
	Keyword     string
	Relevance   float64
	Opportunity Opportunity
	Reason      string
}

// Options are the feature flags the service honors.
type Options struct {
	AutoLinking    bool
	ContentRefresh bool
}

// Service provides content intelligence operations.
type Service struct {
	store  storage.Storage
	llm    llm.Completer
	news   *newsapi.Client
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Service. news may be nil, in which case difficulty estimates
// fall back to the default.
func New(store storage.Storage, c llm.Completer, news *newsapi.Client, opts Options, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		llm:    c,
		news:   news,
		opts:   opts,
		logger: logger.With("component", "seo"),
		now:    time.Now,
	}
}

// AutoLinking reports whether links are applied automatically.
func (s *Service) AutoLinking() bool { return s.opts.AutoLinking }

// ContentGaps walks active keywords by relevance and returns up to limit of
// them that no published article targets.
func (s *Service) ContentGaps(ctx context.Context, limit int) ([]Gap, error) {
	if limit <= 0 {
		limit = defaultGapLimit
	}
	keywords, err := s.store.ListActiveKeywords(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}

	var gaps []Gap
	for _, kw := range keywords {
		n, err := s.store.CountPublishedForKeyword(ctx, kw.Text)
		if err != nil {
			return nil, fmt.Errorf("count articles for %q: %w", kw.Text, err)
		}
		if n > 0 {
			continue
		}
		gaps = append(gaps, Gap{
			Keyword:     kw.Text,
			Relevance:   kw.RelevanceScore,
			Opportunity: tier(kw.RelevanceScore),
			Reason:      "No published article targets this keyword",
		})
		if len(gaps) >= limit {
			break
		}
	}
	return gaps, nil
}

func tier(relevance float64) Opportunity {
	switch {
	case relevance >= highOpportunityAt:
		return OpportunityHigh
	case relevance >= mediumOpportunityAt:
		return OpportunityMedium
	default:
		return OpportunityLow
	}
}

// EstimateDifficulty maps the number of search results for keyword to a
// competition score in [0,1]. Without a search client, or on any failure, it
// returns 0.5.
func (s *Service) EstimateDifficulty(ctx context.Context, keyword string) float64 {
	if !s.news.Enabled() {
		return defaultDifficulty
	}
	ctx, cancel := context.WithTimeout(ctx, difficultyTimeout)
	defer cancel()

	res, err := s.news.Everything(ctx, keyword, 1)
	if err != nil {
		s.logger.Debug("difficulty lookup failed", "keyword", keyword, "error", err)
		return defaultDifficulty
	}
	return Difficulty(res.TotalResults)
}

// Difficulty converts a search result count into a difficulty score.
func Difficulty(total int) float64 {
	switch {
	case total <= 10:
		return 0.2
	case total <= 100:
		return 0.4
	case total <= 1000:
		return 0.6
	case total <= 10000:
		return 0.8
	default:
		return 0.95
	}
}

// Dashboard returns the aggregate pipeline snapshot.
func (s *Service) Dashboard(ctx context.Context) (*storage.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	return st, nil
}
