package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"trendscout/internal/model"
	"trendscout/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const keywordColumns = "id, keyword, relevance_score, is_active, discovery_source, usage_count, created_at, updated_at"

// UpsertKeyword inserts kw or, when the text is already tracked, updates its
// relevance score, discovery source and UpdatedAt. Activity and usage are kept.
func (s *SQLite) UpsertKeyword(ctx context.Context, kw *model.Keyword) (bool, error) {
	if kw.UpdatedAt.IsZero() {
		kw.UpdatedAt = time.Now()
	}
	if kw.CreatedAt.IsZero() {
		kw.CreatedAt = kw.UpdatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM keywords WHERE keyword = ?`, kw.Text).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO keywords (keyword, relevance_score, is_active, discovery_source, usage_count, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			kw.Text, kw.RelevanceScore, boolToInt(kw.IsActive), kw.DiscoverySource, kw.UsageCount,
			formatTime(kw.CreatedAt), formatTime(kw.UpdatedAt),
		)
		if err != nil {
			return false, fmt.Errorf("insert keyword: %w", err)
		}
		if kw.ID, err = res.LastInsertId(); err != nil {
			return false, fmt.Errorf("last insert id: %w", err)
		}
		return true, tx.Commit()
	case err != nil:
		return false, fmt.Errorf("lookup keyword: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE keywords SET relevance_score = ?, discovery_source = ?, updated_at = ? WHERE id = ?`,
		kw.RelevanceScore, kw.DiscoverySource, formatTime(kw.UpdatedAt), id,
	)
	if err != nil {
		return false, fmt.Errorf("update keyword: %w", err)
	}
	kw.ID = id
	return false, tx.Commit()
}

// GetKeyword returns the keyword with the given normalized text.
func (s *SQLite) GetKeyword(ctx context.Context, text string) (*model.Keyword, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+keywordColumns+` FROM keywords WHERE keyword = ?`, text)
	kw, err := scanKeyword(row)
	if err != nil {
		return nil, err
	}
	return &kw, nil
}

// ListActiveKeywords returns active keywords by relevance, highest first.
// A non-positive limit returns all of them.
func (s *SQLite) ListActiveKeywords(ctx context.Context, limit int) ([]model.Keyword, error) {
	q := sq.Select(keywordColumns).From("keywords").
		Where(sq.Eq{"is_active": 1}).
		OrderBy("relevance_score DESC", "keyword ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.queryKeywords(ctx, q)
}

// CountActiveKeywords returns the number of active keywords.
func (s *SQLite) CountActiveKeywords(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM keywords WHERE is_active = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count keywords: %w", err)
	}
	return n, nil
}

// LeastValuableKeywords returns active keywords ordered by usage then age,
// the first candidates for capacity pruning.
func (s *SQLite) LeastValuableKeywords(ctx context.Context, limit int) ([]model.Keyword, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := sq.Select(keywordColumns).From("keywords").
		Where(sq.Eq{"is_active": 1}).
		OrderBy("usage_count ASC", "updated_at ASC", "id ASC").
		Limit(uint64(limit))
	return s.queryKeywords(ctx, q)
}

// StaleKeywords returns active, never-used keywords last updated before cutoff.
func (s *SQLite) StaleKeywords(ctx context.Context, cutoff time.Time, limit int) ([]model.Keyword, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := sq.Select(keywordColumns).From("keywords").
		Where(sq.Eq{"is_active": 1, "usage_count": 0}).
		Where(sq.Lt{"updated_at": formatTime(cutoff)}).
		OrderBy("updated_at ASC", "id ASC").
		Limit(uint64(limit))
	return s.queryKeywords(ctx, q)
}

// DeactivateKeywords marks the given keywords inactive and returns how many changed.
func (s *SQLite) DeactivateKeywords(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sq.Update("keywords").
		Set("is_active", 0).
		Where(sq.Eq{"id": ids, "is_active": 1}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build deactivate: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deactivate keywords: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// IncrementKeywordUsage bumps the usage counter of a tracked keyword.
// It reports false when the keyword is not tracked.
func (s *SQLite) IncrementKeywordUsage(ctx context.Context, text string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE keywords SET usage_count = usage_count + 1 WHERE keyword = ?`, text)
	if err != nil {
		return false, fmt.Errorf("increment usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) queryKeywords(ctx context.Context, q sq.SelectBuilder) ([]model.Keyword, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build keyword query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Keyword
	for rows.Next() {
		kw, err := scanKeyword(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, kw)
	}
	return out, rows.Err()
}

const sourceColumns = "id, name, kind, url, is_active, priority, articles_found, articles_used, created_at"

// CreateSource inserts a new source. A duplicate URL yields ErrConflict.
func (s *SQLite) CreateSource(ctx context.Context, src *model.Source) error {
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sources (name, kind, url, is_active, priority, articles_found, articles_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		src.Name, string(src.Kind), src.URL, boolToInt(src.IsActive), src.Priority,
		src.ArticlesFound, src.ArticlesUsed, formatTime(src.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("insert source %q: %w", src.URL, ErrConflict)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	src.ID = id
	return nil
}

// GetSource returns a single source by its ID.
func (s *SQLite) GetSource(ctx context.Context, id int64) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// GetSourceByURL returns the source registered for url.
func (s *SQLite) GetSourceByURL(ctx context.Context, url string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE url = ?`, url)
	src, err := scanSource(row)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// ListSources returns sources ordered by priority desc, then name.
func (s *SQLite) ListSources(ctx context.Context, activeOnly bool) ([]model.Source, error) {
	q := sq.Select(sourceColumns).From("sources").OrderBy("priority DESC", "name ASC", "id ASC")
	if activeOnly {
		q = q.Where(sq.Eq{"is_active": 1})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build source query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// UpdateSource persists the editable fields of an existing source.
func (s *SQLite) UpdateSource(ctx context.Context, src *model.Source) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET name = ?, kind = ?, is_active = ?, priority = ? WHERE id = ?`,
		src.Name, string(src.Kind), boolToInt(src.IsActive), src.Priority, src.ID,
	)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	return expectOne(res, "source")
}

// AddSourceYield increments the yield counters of the source with the given URL.
// It reports false when no source matches.
func (s *SQLite) AddSourceYield(ctx context.Context, url string, found, used int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET articles_found = articles_found + ?, articles_used = articles_used + ? WHERE url = ?`,
		found, used, url,
	)
	if err != nil {
		return false, fmt.Errorf("record yield: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// SetSourceActive toggles a source on or off.
func (s *SQLite) SetSourceActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sources SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set source active: %w", err)
	}
	return expectOne(res, "source")
}

// AcquireLease takes or renews the named lease for holder. It reports false
// when another holder owns an unexpired lease.
func (s *SQLite) AcquireLease(ctx context.Context, name, holder string, now, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_leases (name, holder, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		 WHERE run_leases.expires_at <= ? OR run_leases.holder = excluded.holder`,
		name, holder, formatTime(expiresAt), formatTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ReleaseLease drops the named lease if holder still owns it.
func (s *SQLite) ReleaseLease(ctx context.Context, name, holder string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM run_leases WHERE name = ? AND holder = ?`, name, holder); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Stats returns aggregate counts across the pipeline tables.
func (s *SQLite) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM keywords WHERE is_active = 1),
			(SELECT COUNT(*) FROM sources WHERE is_active = 1),
			(SELECT COUNT(*) FROM topics WHERE status = 'pending'),
			(SELECT COUNT(*) FROM articles WHERE status = 'published'),
			(SELECT AVG(meta_score) FROM articles WHERE status = 'published' AND meta_score IS NOT NULL),
			(SELECT COUNT(*) FROM internal_links)`,
	).Scan(&st.ActiveKeywords, &st.ActiveSources, &st.PendingTopics, &st.PublishedArticles, &avg, &st.InternalLinks)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	if avg.Valid {
		st.AvgMetaScore = avg.Float64
	}
	return &st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func formatNullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanKeyword(row scannable) (model.Keyword, error) {
	var kw model.Keyword
	var isActive int
	var created, updated string
	err := row.Scan(&kw.ID, &kw.Text, &kw.RelevanceScore, &isActive, &kw.DiscoverySource, &kw.UsageCount, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return kw, fmt.Errorf("keyword: %w", ErrNotFound)
	}
	if err != nil {
		return kw, fmt.Errorf("scan keyword: %w", err)
	}
	kw.IsActive = isActive == 1
	kw.CreatedAt = parseTime(created)
	kw.UpdatedAt = parseTime(updated)
	return kw, nil
}

func scanSource(row scannable) (model.Source, error) {
	var src model.Source
	var kind, created string
	var isActive int
	err := row.Scan(&src.ID, &src.Name, &kind, &src.URL, &isActive, &src.Priority, &src.ArticlesFound, &src.ArticlesUsed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return src, fmt.Errorf("source: %w", ErrNotFound)
	}
	if err != nil {
		return src, fmt.Errorf("scan source: %w", err)
	}
	src.Kind = model.SourceKind(kind)
	src.IsActive = isActive == 1
	src.CreatedAt = parseTime(created)
	return src, nil
}
