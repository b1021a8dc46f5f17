// Package editorial implements the topic and article lifecycles and article
// generation.
package editorial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"trendscout/internal/llm"
	"trendscout/internal/model"
	"trendscout/internal/processing"
	"trendscout/internal/seo"
	"trendscout/internal/storage"
)

var (
	// ErrInvalidTransition is returned when an entity is not in the state an
	// operation requires.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidArticle is returned when a generated article fails validation.
	ErrInvalidArticle = errors.New("invalid article")
	// ErrInvalidRequest is returned for a malformed generation request.
	ErrInvalidRequest = errors.New("invalid generation request")
)

const (
	maxCustomTopicLen = 500
	maxSlugAttempts   = 100
	autoLinkCount     = 5
)

// Linker suggests and applies internal links for a new article.
type Linker interface {
	AutoLinking() bool
	SuggestLinks(ctx context.Context, articleID int64, maxLinks int) ([]seo.LinkSuggestion, error)
	ApplyLinks(ctx context.Context, fromID int64, suggestions []seo.LinkSuggestion) seo.ApplyResult
}

// GenerateRequest selects what to write about. Exactly one field must be set.
type GenerateRequest struct {
	TopicID     int64
	CustomTopic string
}

// GenerateResult is a stored draft and the links created for it.
type GenerateResult struct {
	Article *model.Article
	Links   int
}

// Service runs editorial operations.
type Service struct {
	store  storage.Storage
	llm    llm.Completer
	linker Linker
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Service. linker may be nil.
func New(store storage.Storage, c llm.Completer, linker Linker, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		llm:    c,
		linker: linker,
		logger: logger.With("component", "editorial"),
		now:    time.Now,
	}
}

// Approve moves a pending topic to approved.
func (s *Service) Approve(ctx context.Context, id int64, approver string) (*model.Topic, error) {
	if err := s.store.ApproveTopic(ctx, id, approver, s.now()); err != nil {
		return nil, transitionErr("approve topic", id, err)
	}
	s.logger.Info("topic approved", "topic_id", id, "by", approver)
	return s.store.GetTopic(ctx, id)
}

// Reject moves a pending topic to rejected.
func (s *Service) Reject(ctx context.Context, id int64, reason string) (*model.Topic, error) {
	if err := s.store.RejectTopic(ctx, id, strings.TrimSpace(reason)); err != nil {
		return nil, transitionErr("reject topic", id, err)
	}
	s.logger.Info("topic rejected", "topic_id", id)
	return s.store.GetTopic(ctx, id)
}

// Publish moves a draft article to published and stamps PublishedAt.
func (s *Service) Publish(ctx context.Context, id int64) (*model.Article, error) {
	now := s.now()
	if err := s.store.SetArticleStatus(ctx, id, model.ArticleDraft, model.ArticlePublished, &now); err != nil {
		return nil, transitionErr("publish article", id, err)
	}
	s.logger.Info("article published", "article_id", id)
	return s.store.GetArticle(ctx, id)
}

// Unpublish moves a published article back to draft and clears PublishedAt.
func (s *Service) Unpublish(ctx context.Context, id int64) (*model.Article, error) {
	if err := s.store.SetArticleStatus(ctx, id, model.ArticlePublished, model.ArticleDraft, nil); err != nil {
		return nil, transitionErr("unpublish article", id, err)
	}
	s.logger.Info("article unpublished", "article_id", id)
	return s.store.GetArticle(ctx, id)
}

func transitionErr(op string, id int64, err error) error {
	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("%s %d: %w", op, id, ErrInvalidTransition)
	}
	return fmt.Errorf("%s %d: %w", op, id, err)
}

// Generate writes a draft article for an approved topic or a custom topic.
// A topic-backed draft is stored together with the topic's move to generated.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	subject, topic, err := s.subject(ctx, req)
	if err != nil {
		return nil, err
	}

	raw, err := s.llm.Complete(ctx, []llm.Message{
		llm.System(writerPrompt),
		llm.User("Topic: " + subject),
	}, true)
	if err != nil {
		return nil, fmt.Errorf("generate article: %w", err)
	}
	draft, err := ParseDraft(raw)
	if err != nil {
		return nil, err
	}

	slug, err := s.uniqueSlug(ctx, draft.Slug)
	if err != nil {
		return nil, err
	}

	words := processing.WordCount(draft.Content)
	a := &model.Article{
		Title:          draft.Title,
		Slug:           slug,
		Content:        draft.Content,
		SEOTitle:       draft.SEOTitle,
		SEODescription: draft.SEODescription,
		Status:         model.ArticleDraft,
		PrimaryKeyword: draft.PrimaryKeyword,
		Keywords:       cleanKeywords(draft.Keywords),
		WordCount:      words,
		ReadingTime:    processing.ReadingTime(words),
		CreatedAt:      s.now(),
	}
	if draft.MetaScore != nil {
		v := float64(*draft.MetaScore)
		a.MetaScore = &v
	}

	if topic != nil {
		if err := s.store.CreateArticleFromTopic(ctx, a, topic.ID); err != nil {
			return nil, s.generationConflict(ctx, topic.ID, err)
		}
	} else if err := s.store.CreateArticle(ctx, a); err != nil {
		return nil, fmt.Errorf("store article: %w", err)
	}
	s.logger.Info("article generated", "article_id", a.ID, "slug", a.Slug, "words", words)

	if a.PrimaryKeyword != "" {
		kw := processing.NormalizeKeyword(a.PrimaryKeyword)
		if _, err := s.store.IncrementKeywordUsage(ctx, kw); err != nil {
			s.logger.Warn("increment keyword usage", "keyword", kw, "error", err)
		}
	}

	return &GenerateResult{Article: a, Links: s.autoLink(ctx, a.ID)}, nil
}

// subject returns the text the writer is asked about and, for topic-backed
// requests, the approved topic.
func (s *Service) subject(ctx context.Context, req GenerateRequest) (string, *model.Topic, error) {
	custom := strings.TrimSpace(req.CustomTopic)
	switch {
	case req.TopicID != 0 && custom != "":
		return "", nil, fmt.Errorf("%w: set either a topic or a custom topic", ErrInvalidRequest)
	case req.TopicID != 0:
		t, err := s.store.GetTopic(ctx, req.TopicID)
		if err != nil {
			return "", nil, fmt.Errorf("get topic %d: %w", req.TopicID, err)
		}
		if t.Status != model.TopicApproved {
			return "", nil, fmt.Errorf("topic %d is %s: %w", t.ID, t.Status, ErrInvalidTransition)
		}
		angle := t.Angle
		if angle == "" {
			angle = "General coverage"
		}
		return t.Title + ". Angle: " + angle, t, nil
	case custom != "":
		if utf8.RuneCountInString(custom) > maxCustomTopicLen {
			return "", nil, fmt.Errorf("%w: custom topic exceeds %d characters", ErrInvalidRequest, maxCustomTopicLen)
		}
		return custom, nil, nil
	default:
		return "", nil, fmt.Errorf("%w: a topic or a custom topic is required", ErrInvalidRequest)
	}
}

// uniqueSlug returns base, or base with the first free -1..-100 suffix.
func (s *Service) uniqueSlug(ctx context.Context, base string) (string, error) {
	slug := base
	for i := 1; ; i++ {
		exists, err := s.store.SlugExists(ctx, slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
		if i > maxSlugAttempts {
			return "", fmt.Errorf("no free slug for %q after %d attempts", base, maxSlugAttempts)
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

// generationConflict tells a topic that left approved apart from a slug taken
// between the check and the insert.
func (s *Service) generationConflict(ctx context.Context, topicID int64, err error) error {
	if !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("store article: %w", err)
	}
	t, getErr := s.store.GetTopic(ctx, topicID)
	if getErr == nil && t.Status != model.TopicApproved {
		return fmt.Errorf("topic %d is %s: %w", topicID, t.Status, ErrInvalidTransition)
	}
	return fmt.Errorf("store article: %w", err)
}

func (s *Service) autoLink(ctx context.Context, articleID int64) int {
	if s.linker == nil || !s.linker.AutoLinking() {
		return 0
	}
	suggestions, err := s.linker.SuggestLinks(ctx, articleID, autoLinkCount)
	if err != nil {
		s.logger.Warn("internal linking failed", "article_id", articleID, "error", err)
		return 0
	}
	res := s.linker.ApplyLinks(ctx, articleID, suggestions)
	return res.Created
}
