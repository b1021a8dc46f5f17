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

const topicColumns = "id, title, angle, source_url, source_headline, status, approved_by, approved_at, rejected_reason, created_at"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateTopic inserts a single topic. A duplicate source URL yields ErrConflict.
func (s *SQLite) CreateTopic(ctx context.Context, t *model.Topic) error {
	ok, err := insertTopic(ctx, s.db, t)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("insert topic %q: %w", t.SourceURL, ErrConflict)
	}
	return nil
}

// CreateTopics inserts topics in one transaction. Topics whose source URL is
// already stored are skipped; topics without a source URL are always inserted.
func (s *SQLite) CreateTopics(ctx context.Context, topics []model.Topic) (int, int, error) {
	if len(topics) == 0 {
		return 0, 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var created, skipped int
	for i := range topics {
		ok, err := insertTopic(ctx, tx, &topics[i])
		if err != nil {
			return 0, 0, err
		}
		if ok {
			created++
		} else {
			skipped++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit topics: %w", err)
	}
	return created, skipped, nil
}

func insertTopic(ctx context.Context, db execer, t *model.Topic) (bool, error) {
	if t.Status == "" {
		t.Status = model.TopicPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	var sourceURL *string
	if t.SourceURL != "" {
		sourceURL = &t.SourceURL
	}
	res, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO topics (title, angle, source_url, source_headline, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.Title, t.Angle, sourceURL, t.SourceHeadline, string(t.Status), formatTime(t.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert topic: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	return true, nil
}

// GetTopic returns a single topic by its ID.
func (s *SQLite) GetTopic(ctx context.Context, id int64) (*model.Topic, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = ?`, id)
	t, err := scanTopic(row)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTopics returns topics newest first, optionally filtered by status.
func (s *SQLite) ListTopics(ctx context.Context, status model.TopicStatus, limit int) ([]model.Topic, error) {
	q := sq.Select(topicColumns).From("topics").OrderBy("created_at DESC", "id DESC")
	if status != "" {
		q = q.Where(sq.Eq{"status": string(status)})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build topic query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ApproveTopic moves a pending topic to approved.
func (s *SQLite) ApproveTopic(ctx context.Context, id int64, approver string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE topics SET status = 'approved', approved_by = ?, approved_at = ?
		 WHERE id = ? AND status = 'pending'`,
		approver, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("approve topic: %w", err)
	}
	return s.transitionResult(ctx, res, id)
}

// RejectTopic moves a pending topic to rejected.
func (s *SQLite) RejectTopic(ctx context.Context, id int64, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE topics SET status = 'rejected', rejected_reason = ?
		 WHERE id = ? AND status = 'pending'`,
		reason, id,
	)
	if err != nil {
		return fmt.Errorf("reject topic: %w", err)
	}
	return s.transitionResult(ctx, res, id)
}

// transitionResult maps a conditional update that touched no rows to
// ErrNotFound or ErrConflict.
func (s *SQLite) transitionResult(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetTopic(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("topic %d: %w", id, ErrConflict)
}

func scanTopic(row scannable) (model.Topic, error) {
	var t model.Topic
	var status, created string
	var sourceURL, approvedBy, approvedAt, rejected sql.NullString
	err := row.Scan(&t.ID, &t.Title, &t.Angle, &sourceURL, &t.SourceHeadline, &status,
		&approvedBy, &approvedAt, &rejected, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("topic: %w", ErrNotFound)
	}
	if err != nil {
		return t, fmt.Errorf("scan topic: %w", err)
	}
	t.SourceURL = sourceURL.String
	t.Status = model.TopicStatus(status)
	t.ApprovedBy = approvedBy.String
	t.ApprovedAt = parseNullTime(approvedAt)
	t.RejectedReason = rejected.String
	t.CreatedAt = parseTime(created)
	return t, nil
}
