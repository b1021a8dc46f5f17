// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"trendscout/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write loses against a unique index or a
	// conditional state change.
	ErrConflict = errors.New("conflict")
)

// RelatedQuery selects published articles that share something with a source article.
type RelatedQuery struct {
	ExcludeIDs     []int64
	PrimaryKeyword string
	Cluster        string
	Keywords       []string
	Limit          int
}

// Stats is the aggregate snapshot shown on the dashboard.
type Stats struct {
	ActiveKeywords    int
	ActiveSources     int
	PendingTopics     int
	PublishedArticles int
	AvgMetaScore      float64
	InternalLinks     int
}

// Storage is the interface for all persistence operations.
type Storage interface {
	UpsertKeyword(ctx context.Context, kw *model.Keyword) (created bool, err error)
	GetKeyword(ctx context.Context, text string) (*model.Keyword, error)
	ListActiveKeywords(ctx context.Context, limit int) ([]model.Keyword, error)
	CountActiveKeywords(ctx context.Context) (int, error)
	LeastValuableKeywords(ctx context.Context, limit int) ([]model.Keyword, error)
	StaleKeywords(ctx context.Context, cutoff time.Time, limit int) ([]model.Keyword, error)
	DeactivateKeywords(ctx context.Context, ids []int64) (int, error)
	IncrementKeywordUsage(ctx context.Context, text string) (bool, error)

	CreateSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, id int64) (*model.Source, error)
	GetSourceByURL(ctx context.Context, url string) (*model.Source, error)
	ListSources(ctx context.Context, activeOnly bool) ([]model.Source, error)
	UpdateSource(ctx context.Context, src *model.Source) error
	AddSourceYield(ctx context.Context, url string, found, used int) (bool, error)
	SetSourceActive(ctx context.Context, id int64, active bool) error

	CreateTopic(ctx context.Context, t *model.Topic) error
	CreateTopics(ctx context.Context, topics []model.Topic) (created, skipped int, err error)
	GetTopic(ctx context.Context, id int64) (*model.Topic, error)
	ListTopics(ctx context.Context, status model.TopicStatus, limit int) ([]model.Topic, error)
	ApproveTopic(ctx context.Context, id int64, approver string, at time.Time) error
	RejectTopic(ctx context.Context, id int64, reason string) error

	CreateArticle(ctx context.Context, a *model.Article) error
	CreateArticleFromTopic(ctx context.Context, a *model.Article, topicID int64) error
	GetArticle(ctx context.Context, id int64) (*model.Article, error)
	ListArticles(ctx context.Context, status model.ArticleStatus, limit int) ([]model.Article, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	SetArticleStatus(ctx context.Context, id int64, from, to model.ArticleStatus, publishedAt *time.Time) error
	CountPublishedForKeyword(ctx context.Context, keyword string) (int, error)
	RelatedArticles(ctx context.Context, q RelatedQuery) ([]model.Article, error)
	StaleArticles(ctx context.Context, cutoff time.Time, limit int) ([]model.Article, error)
	UpdateArticleRefresh(ctx context.Context, id int64, content string, wordCount int, metaScore *float64, at time.Time) error

	LinkedTargets(ctx context.Context, fromID int64) ([]int64, error)
	UpsertInternalLink(ctx context.Context, l *model.InternalLink) error
	ListInternalLinks(ctx context.Context, fromID int64) ([]model.InternalLink, error)

	AcquireLease(ctx context.Context, name, holder string, now, expiresAt time.Time) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error

	Stats(ctx context.Context) (*Stats, error)

	Close() error
}
