package storage

import (
	"context"
	"fmt"
	"time"

	"trendscout/internal/model"
)

// LinkedTargets returns the IDs of articles that fromID already links to.
func (s *SQLite) LinkedTargets(ctx context.Context, fromID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT to_article_id FROM internal_links WHERE from_article_id = ? ORDER BY to_article_id`, fromID)
	if err != nil {
		return nil, fmt.Errorf("query linked targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan linked target: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertInternalLink creates the link or replaces the anchor and kind of the
// existing link between the same pair.
func (s *SQLite) UpsertInternalLink(ctx context.Context, l *model.InternalLink) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO internal_links (from_article_id, to_article_id, anchor_text, kind, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (from_article_id, to_article_id)
		 DO UPDATE SET anchor_text = excluded.anchor_text, kind = excluded.kind`,
		l.FromArticleID, l.ToArticleID, l.AnchorText, string(l.Kind), formatTime(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert internal link: %w", err)
	}
	return nil
}

// ListInternalLinks returns the outgoing links of an article.
func (s *SQLite) ListInternalLinks(ctx context.Context, fromID int64) ([]model.InternalLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_article_id, to_article_id, anchor_text, kind, created_at
		 FROM internal_links WHERE from_article_id = ? ORDER BY id`, fromID)
	if err != nil {
		return nil, fmt.Errorf("query internal links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.InternalLink
	for rows.Next() {
		var l model.InternalLink
		var kind, created string
		if err := rows.Scan(&l.ID, &l.FromArticleID, &l.ToArticleID, &l.AnchorText, &kind, &created); err != nil {
			return nil, fmt.Errorf("scan internal link: %w", err)
		}
		l.Kind = model.LinkKind(kind)
		l.CreatedAt = parseTime(created)
		out = append(out, l)
	}
	return out, rows.Err()
}
