package seo

import (
	"context"
	"errors"
	"fmt"

	"trendscout/internal/llm"
	"trendscout/internal/model"
	"trendscout/internal/processing"
	"trendscout/internal/storage"
)

const (
	staleMonths         = 6
	defaultRefreshBatch = 2
	refreshContentLimit = 12000

	// Larger reported word counts are recomputed from the content.
	maxReportedWordCount = 200000
)

// RefreshResult is the outcome of refreshing one article.
type RefreshResult struct {
	ArticleID int64
	Success   bool
	WordCount int
	MetaScore *float64
	Error     string
}

// RefreshReport summarizes a stale-content refresh batch.
type RefreshReport struct {
	Disabled bool
	Results  []RefreshResult
	Error    string
}

// Refreshed counts successful refreshes.
func (r RefreshReport) Refreshed() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

// StaleArticles returns published articles older than six months that were
// not refreshed in the last six months, oldest first.
func (s *Service) StaleArticles(ctx context.Context, limit int) ([]model.Article, error) {
	if limit <= 0 {
		limit = defaultRefreshBatch
	}
	cutoff := s.now().AddDate(0, -staleMonths, 0)
	articles, err := s.store.StaleArticles(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("stale articles: %w", err)
	}
	return articles, nil
}

type refreshDoc struct {
	Content   *string     `json:"content"`
	WordCount *llm.Number `json:"wordCount"`
	MetaScore *llm.Number `json:"metaScore"`
}

// RefreshArticle asks the completion service to update an article and stores
// the new content. Failures are reported in the result.
func (s *Service) RefreshArticle(ctx context.Context, id int64) RefreshResult {
	res := RefreshResult{ArticleID: id}

	a, err := s.store.GetArticle(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		res.Error = "article not found"
		return res
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}

	prompt := fmt.Sprintf(refreshPrompt, a.Title, processing.Truncate(a.Content, refreshContentLimit))
	raw, err := s.llm.Complete(ctx, []llm.Message{llm.User(prompt)}, true)
	if err != nil {
		res.Error = fmt.Sprintf("complete: %v", err)
		return res
	}
	var doc refreshDoc
	if err := llm.DecodeJSON(raw, &doc); err != nil {
		res.Error = err.Error()
		return res
	}

	content := a.Content
	if doc.Content != nil && *doc.Content != "" {
		content = *doc.Content
	}
	wordCount := processing.WordCount(content)
	if doc.WordCount != nil && *doc.WordCount > 0 && *doc.WordCount <= maxReportedWordCount {
		wordCount = int(*doc.WordCount)
	}
	metaScore := a.MetaScore
	if doc.MetaScore != nil {
		v := llm.Clamp(float64(*doc.MetaScore), 0, 100)
		metaScore = &v
	}

	if err := s.store.UpdateArticleRefresh(ctx, id, content, wordCount, metaScore, s.now()); err != nil {
		res.Error = err.Error()
		return res
	}

	s.logger.Info("article refreshed", "article_id", id, "word_count", wordCount)
	res.Success = true
	res.WordCount = wordCount
	res.MetaScore = metaScore
	return res
}

// RefreshStale refreshes up to limit stale articles when content refresh is
// enabled. Each article is refreshed independently.
func (s *Service) RefreshStale(ctx context.Context, limit int) RefreshReport {
	if !s.opts.ContentRefresh {
		return RefreshReport{Disabled: true}
	}
	var rep RefreshReport
	articles, err := s.StaleArticles(ctx, limit)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	for _, a := range articles {
		rep.Results = append(rep.Results, s.RefreshArticle(ctx, a.ID))
	}
	return rep
}
