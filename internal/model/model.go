// Package model defines the domain types used across the application.
package model

import "time"

// Keyword is a tracked search term that drives discovery and content planning.
type Keyword struct {
	ID              int64
	Text            string
	RelevanceScore  float64
	IsActive        bool
	DiscoverySource string
	UsageCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SourceKind classifies a fetch endpoint.
type SourceKind string

// Supported source kinds.
const (
	SourceFeed   SourceKind = "feed"
	SourceAPI    SourceKind = "api"
	SourceSocial SourceKind = "social"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceFeed, SourceAPI, SourceSocial:
		return true
	}
	return false
}

// Source is a configured fetch endpoint with yield statistics.
type Source struct {
	ID            int64
	Name          string
	Kind          SourceKind
	URL           string
	IsActive      bool
	Priority      int
	ArticlesFound int
	ArticlesUsed  int
	CreatedAt     time.Time
}

// SuccessRate returns ArticlesUsed/ArticlesFound, or 0 when nothing was found.
func (s Source) SuccessRate() float64 {
	if s.ArticlesFound <= 0 {
		return 0
	}
	return float64(s.ArticlesUsed) / float64(s.ArticlesFound)
}

// TopicStatus is the lifecycle state of a topic.
type TopicStatus string

// Topic states. Approved topics may be generated; generated and rejected are terminal.
const (
	TopicPending   TopicStatus = "pending"
	TopicApproved  TopicStatus = "approved"
	TopicRejected  TopicStatus = "rejected"
	TopicGenerated TopicStatus = "generated"
)

// Topic is a candidate article idea awaiting editorial review.
type Topic struct {
	ID             int64
	Title          string
	Angle          string
	SourceURL      string
	SourceHeadline string
	Status         TopicStatus
	ApprovedBy     string
	ApprovedAt     *time.Time
	RejectedReason string
	CreatedAt      time.Time
}

// ArticleStatus is the lifecycle state of an article.
type ArticleStatus string

// Article states. Review and archived exist in the schema but no operation
// moves an article into them yet.
const (
	ArticleDraft     ArticleStatus = "draft"
	ArticleReview    ArticleStatus = "review"
	ArticlePublished ArticleStatus = "published"
	ArticleArchived  ArticleStatus = "archived"
)

// Article is a generated long-form post.
type Article struct {
	ID              int64
	Title           string
	Slug            string
	Content         string
	SEOTitle        string
	SEODescription  string
	Status          ArticleStatus
	PrimaryKeyword  string
	Keywords        []string
	Cluster         string
	WordCount       int
	ReadingTime     int
	MetaScore       *float64
	LastRefreshedAt *time.Time
	PublishedAt     *time.Time
	TopicID         *int64
	CreatedAt       time.Time
}

// LinkKind describes how an internal link was produced.
type LinkKind string

// Link kinds: contextual anchors come from the completion service, related
// links fall back to the target title.
const (
	LinkContextual LinkKind = "contextual"
	LinkRelated    LinkKind = "related"
)

// InternalLink is a directed link from one article to another.
type InternalLink struct {
	ID            int64
	FromArticleID int64
	ToArticleID   int64
	AnchorText    string
	Kind          LinkKind
	CreatedAt     time.Time
}
