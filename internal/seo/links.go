package seo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"trendscout/internal/llm"
	"trendscout/internal/model"
	"trendscout/internal/storage"
)

const (
	defaultMaxLinks = 5
	// MaxAppliedLinks caps the links written by one ApplyLinks call.
	MaxAppliedLinks = 5
	relatedSlack    = 5
	matchKeywords   = 3
)

// LinkSuggestion proposes a link to another published article.
type LinkSuggestion struct {
	ToArticleID int64
	ToSlug      string
	ToTitle     string
	AnchorText  string
	Kind        model.LinkKind
}

// ApplyResult reports what ApplyLinks wrote.
type ApplyResult struct {
	Created  int
	Skipped  int
	Disabled bool
}

// SuggestLinks proposes up to maxLinks links from an article to related
// published articles it does not already link to. An unknown article yields
// no suggestions.
func (s *Service) SuggestLinks(ctx context.Context, articleID int64, maxLinks int) ([]LinkSuggestion, error) {
	if maxLinks <= 0 {
		maxLinks = defaultMaxLinks
	}
	article, err := s.store.GetArticle(ctx, articleID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}

	linked, err := s.store.LinkedTargets(ctx, articleID)
	if err != nil {
		return nil, fmt.Errorf("linked targets: %w", err)
	}

	keywords := article.Keywords
	if len(keywords) > matchKeywords {
		keywords = keywords[:matchKeywords]
	}
	related, err := s.store.RelatedArticles(ctx, storage.RelatedQuery{
		ExcludeIDs:     append([]int64{articleID}, linked...),
		PrimaryKeyword: article.PrimaryKeyword,
		Cluster:        article.Cluster,
		Keywords:       keywords,
		Limit:          maxLinks + relatedSlack,
	})
	if err != nil {
		return nil, fmt.Errorf("related articles: %w", err)
	}
	if len(related) == 0 {
		return nil, nil
	}
	if len(related) > maxLinks {
		related = related[:maxLinks]
	}

	anchors, err := s.anchors(ctx, article.Title, related)
	if err != nil {
		s.logger.Warn("anchor text failed, using titles", "article_id", articleID, "error", err)
	}

	out := make([]LinkSuggestion, 0, len(related))
	for _, r := range related {
		sug := LinkSuggestion{
			ToArticleID: r.ID,
			ToSlug:      r.Slug,
			ToTitle:     r.Title,
			AnchorText:  r.Title,
			Kind:        model.LinkRelated,
		}
		if anchors != nil {
			sug.Kind = model.LinkContextual
			if a := anchors[r.ID]; a != "" {
				sug.AnchorText = a
			}
		}
		out = append(out, sug)
	}
	return out, nil
}

func (s *Service) anchors(ctx context.Context, title string, related []model.Article) (map[int64]string, error) {
	var list strings.Builder
	for _, r := range related {
		fmt.Fprintf(&list, "%d: %s\n", r.ID, r.Title)
	}
	prompt := fmt.Sprintf(anchorPrompt, title, list.String())
	raw, err := s.llm.Complete(ctx, []llm.Message{llm.User(prompt)}, true)
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	return ParseAnchors(raw)
}

// ParseAnchors decodes an {id: anchor} object. Entries whose key is not an
// article ID or whose value is not a string are skipped.
func ParseAnchors(raw string) (map[int64]string, error) {
	var doc map[string]json.RawMessage
	if err := llm.DecodeJSON(raw, &doc); err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(doc))
	for k, v := range doc {
		id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil {
			continue
		}
		var anchor string
		if err := json.Unmarshal(v, &anchor); err != nil {
			continue
		}
		out[id] = strings.TrimSpace(anchor)
	}
	return out, nil
}

// ApplyLinks writes up to MaxAppliedLinks suggestions as internal links from
// fromID. Nothing is written unless automatic linking is enabled.
func (s *Service) ApplyLinks(ctx context.Context, fromID int64, suggestions []LinkSuggestion) ApplyResult {
	if !s.opts.AutoLinking {
		return ApplyResult{Disabled: true}
	}
	var res ApplyResult
	if len(suggestions) > MaxAppliedLinks {
		suggestions = suggestions[:MaxAppliedLinks]
	}
	for _, sug := range suggestions {
		if sug.ToArticleID == fromID {
			res.Skipped++
			continue
		}
		link := &model.InternalLink{
			FromArticleID: fromID,
			ToArticleID:   sug.ToArticleID,
			AnchorText:    sug.AnchorText,
			Kind:          sug.Kind,
			CreatedAt:     s.now(),
		}
		if err := s.store.UpsertInternalLink(ctx, link); err != nil {
			s.logger.Warn("apply link failed", "from", fromID, "to", sug.ToArticleID, "error", err)
			res.Skipped++
			continue
		}
		res.Created++
	}
	return res
}
