package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"trendscout/internal/model"
)

const articleColumns = "id, title, slug, content, seo_title, seo_description, status, primary_keyword, cluster, " +
	"word_count, reading_time, meta_score, last_refreshed_at, published_at, topic_id, created_at"

// CreateArticle inserts an article with its ordered keywords. A duplicate slug
// yields ErrConflict.
func (s *SQLite) CreateArticle(ctx context.Context, a *model.Article) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertArticle(ctx, tx, a); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateArticleFromTopic inserts a and moves topic topicID from approved to
// generated in one transaction. A topic that is no longer approved yields
// ErrConflict and nothing is written.
func (s *SQLite) CreateArticleFromTopic(ctx context.Context, a *model.Article, topicID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE topics SET status = 'generated' WHERE id = ? AND status = 'approved'`, topicID)
	if err != nil {
		return fmt.Errorf("mark topic generated: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("topic %d not approved: %w", topicID, ErrConflict)
	}

	a.TopicID = &topicID
	if err := insertArticle(ctx, tx, a); err != nil {
		return err
	}
	return tx.Commit()
}

func insertArticle(ctx context.Context, tx *sql.Tx, a *model.Article) error {
	if a.Status == "" {
		a.Status = model.ArticleDraft
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO articles (title, slug, content, seo_title, seo_description, status, primary_keyword,
		   cluster, word_count, reading_time, meta_score, last_refreshed_at, published_at, topic_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Title, a.Slug, a.Content, a.SEOTitle, a.SEODescription, string(a.Status), a.PrimaryKeyword,
		a.Cluster, a.WordCount, a.ReadingTime, a.MetaScore, formatNullTime(a.LastRefreshedAt),
		formatNullTime(a.PublishedAt), a.TopicID, formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("slug %q: %w", a.Slug, ErrConflict)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	for i, kw := range a.Keywords {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO article_keywords (article_id, position, keyword) VALUES (?, ?, ?)`,
			a.ID, i, kw,
		); err != nil {
			return fmt.Errorf("insert article keyword: %w", err)
		}
	}
	return nil
}

// GetArticle returns a single article with its keywords.
func (s *SQLite) GetArticle(ctx context.Context, id int64) (*model.Article, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)
	a, err := scanArticle(row)
	if err != nil {
		return nil, err
	}
	articles := []model.Article{a}
	if err := s.attachKeywords(ctx, articles); err != nil {
		return nil, err
	}
	return &articles[0], nil
}

// ListArticles returns articles newest first, optionally filtered by status.
func (s *SQLite) ListArticles(ctx context.Context, status model.ArticleStatus, limit int) ([]model.Article, error) {
	q := sq.Select(articleColumns).From("articles").OrderBy("created_at DESC", "id DESC")
	if status != "" {
		q = q.Where(sq.Eq{"status": string(status)})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.queryArticles(ctx, q)
}

// SlugExists reports whether an article already uses slug.
func (s *SQLite) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles WHERE slug = ?`, slug).Scan(&n); err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return n > 0, nil
}

// SetArticleStatus moves an article from one status to another and sets its
// publishedAt. An article not in from yields ErrConflict.
func (s *SQLite) SetArticleStatus(ctx context.Context, id int64, from, to model.ArticleStatus, publishedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE articles SET status = ?, published_at = ? WHERE id = ? AND status = ?`,
		string(to), formatNullTime(publishedAt), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("set article status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetArticle(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("article %d: %w", id, ErrConflict)
}

// CountPublishedForKeyword counts published articles whose primary keyword or
// keyword set matches keyword, ignoring case.
func (s *SQLite) CountPublishedForKeyword(ctx context.Context, keyword string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles a
		 WHERE a.status = 'published'
		   AND (lower(a.primary_keyword) = lower(?)
		        OR EXISTS (SELECT 1 FROM article_keywords k
		                   WHERE k.article_id = a.id AND lower(k.keyword) = lower(?)))`,
		keyword, keyword,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count articles for keyword: %w", err)
	}
	return n, nil
}

// RelatedArticles returns published articles sharing the primary keyword
// (ignoring case), the cluster or any of the given keywords, most recently
// published first.
func (s *SQLite) RelatedArticles(ctx context.Context, rq RelatedQuery) ([]model.Article, error) {
	var match sq.Or
	if rq.PrimaryKeyword != "" {
		match = append(match, sq.Expr("lower(primary_keyword) = lower(?)", rq.PrimaryKeyword))
	}
	if rq.Cluster != "" {
		match = append(match, sq.Eq{"cluster": rq.Cluster})
	}
	if len(rq.Keywords) > 0 {
		sub, args, err := sq.Select("1").From("article_keywords k").
			Where("k.article_id = articles.id").
			Where(sq.Eq{"k.keyword": rq.Keywords}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build keyword match: %w", err)
		}
		match = append(match, sq.Expr("EXISTS ("+sub+")", args...))
	}
	if len(match) == 0 {
		return nil, nil
	}

	q := sq.Select(articleColumns).From("articles").
		Where(sq.Eq{"status": string(model.ArticlePublished)}).
		Where(match).
		OrderBy("published_at DESC", "id DESC")
	if len(rq.ExcludeIDs) > 0 {
		q = q.Where(sq.NotEq{"id": rq.ExcludeIDs})
	}
	if rq.Limit > 0 {
		q = q.Limit(uint64(rq.Limit))
	}
	return s.queryArticles(ctx, q)
}

// StaleArticles returns published articles published before cutoff that were
// never refreshed or last refreshed before cutoff, oldest first.
func (s *SQLite) StaleArticles(ctx context.Context, cutoff time.Time, limit int) ([]model.Article, error) {
	c := formatTime(cutoff)
	q := sq.Select(articleColumns).From("articles").
		Where(sq.Eq{"status": string(model.ArticlePublished)}).
		Where(sq.Lt{"published_at": c}).
		Where(sq.Or{sq.Eq{"last_refreshed_at": nil}, sq.Lt{"last_refreshed_at": c}}).
		OrderBy("published_at ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.queryArticles(ctx, q)
}

// UpdateArticleRefresh stores refreshed content and marks the refresh time.
func (s *SQLite) UpdateArticleRefresh(ctx context.Context, id int64, content string, wordCount int, metaScore *float64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE articles SET content = ?, word_count = ?, meta_score = ?, last_refreshed_at = ? WHERE id = ?`,
		content, wordCount, metaScore, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("update article refresh: %w", err)
	}
	return expectOne(res, "article")
}

func (s *SQLite) queryArticles(ctx context.Context, q sq.SelectBuilder) ([]model.Article, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build article query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}

	var out []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, a)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}

	if err := s.attachKeywords(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachKeywords loads keyword lists for articles in one query. The article
// rows must already be closed since the pool holds a single connection.
func (s *SQLite) attachKeywords(ctx context.Context, articles []model.Article) error {
	if len(articles) == 0 {
		return nil
	}
	ids := make([]int64, len(articles))
	index := make(map[int64]int, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
		index[a.ID] = i
	}

	query, args, err := sq.Select("article_id", "keyword").From("article_keywords").
		Where(sq.Eq{"article_id": ids}).
		OrderBy("article_id", "position").
		ToSql()
	if err != nil {
		return fmt.Errorf("build keyword query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query article keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id int64
		var kw string
		if err := rows.Scan(&id, &kw); err != nil {
			return fmt.Errorf("scan article keyword: %w", err)
		}
		if i, ok := index[id]; ok {
			articles[i].Keywords = append(articles[i].Keywords, kw)
		}
	}
	return rows.Err()
}

func scanArticle(row scannable) (model.Article, error) {
	var a model.Article
	var status, created string
	var meta sql.NullFloat64
	var refreshed, published sql.NullString
	var topicID sql.NullInt64
	err := row.Scan(&a.ID, &a.Title, &a.Slug, &a.Content, &a.SEOTitle, &a.SEODescription, &status,
		&a.PrimaryKeyword, &a.Cluster, &a.WordCount, &a.ReadingTime, &meta, &refreshed, &published,
		&topicID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("article: %w", ErrNotFound)
	}
	if err != nil {
		return a, fmt.Errorf("scan article: %w", err)
	}
	a.Status = model.ArticleStatus(status)
	if meta.Valid {
		v := meta.Float64
		a.MetaScore = &v
	}
	a.LastRefreshedAt = parseNullTime(refreshed)
	a.PublishedAt = parseNullTime(published)
	if topicID.Valid {
		v := topicID.Int64
		a.TopicID = &v
	}
	a.CreatedAt = parseTime(created)
	return a, nil
}
