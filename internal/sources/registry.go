// Package sources tracks fetch endpoints, builds the scout's target list and
// prunes sources that stop yielding usable stories.
package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"trendscout/internal/config"
	"trendscout/internal/model"
	"trendscout/internal/processing"
	"trendscout/internal/storage"
)

const (
	googleNewsSearch = "https://news.google.com/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en"

	// DefaultDynamicLimit is how many top keywords become search feeds.
	DefaultDynamicLimit = 10
	// DefaultMinSeen is the number of found items before a source is judged.
	DefaultMinSeen = 20
	// DefaultMinRate is the used/found ratio below which a source is paused.
	DefaultMinRate = 0.1

	seedRelevance = 0.8
	seedOrigin    = "seed"
)

// ErrInvalidSource is returned for unusable source input.
var ErrInvalidSource = errors.New("invalid source")

// Target is a URL the scout should fetch. Keyword is set for targets built
// from a tracked keyword.
type Target struct {
	URL     string
	Name    string
	Keyword string
}

// FetchOptions tunes FetchTargets.
type FetchOptions struct {
	SkipDynamic  bool
	DynamicLimit int
}

// Update lists the source fields to change. Nil fields are left alone.
type Update struct {
	Name     *string
	Priority *int
	Active   *bool
}

// SeedResult counts rows created by SeedFoundation.
type SeedResult struct {
	Keywords int
	Sources  int
}

// Registry manages sources and keyword-driven search feeds.
type Registry struct {
	store  storage.Storage
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a Registry.
func NewRegistry(store storage.Storage, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger.With("component", "sources"),
		now:    time.Now,
	}
}

// DynamicURL returns the Google News RSS search URL for keyword.
func DynamicURL(keyword string) string {
	return fmt.Sprintf(googleNewsSearch, url.QueryEscape(keyword))
}

// FetchTargets returns active static sources by priority, followed by search
// feeds for the most relevant active keywords. URLs are unique.
func (r *Registry) FetchTargets(ctx context.Context, opts FetchOptions) ([]Target, error) {
	srcs, err := r.store.ListSources(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	seen := make(map[string]struct{}, len(srcs))
	targets := make([]Target, 0, len(srcs))
	for _, s := range srcs {
		if _, dup := seen[s.URL]; dup {
			continue
		}
		seen[s.URL] = struct{}{}
		targets = append(targets, Target{URL: s.URL, Name: s.Name})
	}

	if opts.SkipDynamic {
		return targets, nil
	}

	limit := opts.DynamicLimit
	if limit <= 0 {
		limit = DefaultDynamicLimit
	}
	keywords, err := r.store.ListActiveKeywords(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	for _, kw := range keywords {
		u := DynamicURL(kw.Text)
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		targets = append(targets, Target{URL: u, Name: "Google News (" + kw.Text + ")", Keyword: kw.Text})
	}
	return targets, nil
}

// RecordYield adds found and used counts to the source registered for url.
// Unknown URLs are ignored.
func (r *Registry) RecordYield(ctx context.Context, url string, found, used int) error {
	if found < 0 {
		found = 0
	}
	if used < 0 {
		used = 0
	}
	if found == 0 && used == 0 {
		return nil
	}
	ok, err := r.store.AddSourceYield(ctx, url, found, used)
	if err != nil {
		return fmt.Errorf("record yield: %w", err)
	}
	if !ok {
		r.logger.Debug("yield for unregistered url ignored", "url", url)
	}
	return nil
}

// DeactivateUnderperformers pauses active sources that have produced at least
// minSeen items with a used/found ratio below minRate.
func (r *Registry) DeactivateUnderperformers(ctx context.Context, minSeen int, minRate float64) (int, error) {
	srcs, err := r.store.ListSources(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list sources: %w", err)
	}

	var n int
	for _, s := range srcs {
		if s.ArticlesFound < minSeen || s.SuccessRate() >= minRate {
			continue
		}
		if err := r.store.SetSourceActive(ctx, s.ID, false); err != nil {
			return n, fmt.Errorf("deactivate source %d: %w", s.ID, err)
		}
		r.logger.Info("source deactivated",
			"source_id", s.ID, "url", s.URL, "found", s.ArticlesFound, "used", s.ArticlesUsed)
		n++
	}
	return n, nil
}

// AddSource registers a new active source. An empty name defaults to the host.
func (r *Registry) AddSource(ctx context.Context, kind model.SourceKind, rawURL, name string, priority int) (*model.Source, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSource, kind)
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: bad url %q", ErrInvalidSource, rawURL)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = u.Host
	}

	src := &model.Source{
		Name:      name,
		Kind:      kind,
		URL:       u.String(),
		IsActive:  true,
		Priority:  priority,
		CreatedAt: r.now(),
	}
	if err := r.store.CreateSource(ctx, src); err != nil {
		return nil, fmt.Errorf("add source: %w", err)
	}
	return src, nil
}

// UpdateSource applies upd to the source with the given ID.
func (r *Registry) UpdateSource(ctx context.Context, id int64, upd Update) (*model.Source, error) {
	src, err := r.store.GetSource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidSource)
		}
		src.Name = name
	}
	if upd.Priority != nil {
		src.Priority = *upd.Priority
	}
	if upd.Active != nil {
		src.IsActive = *upd.Active
	}
	if err := r.store.UpdateSource(ctx, src); err != nil {
		return nil, fmt.Errorf("update source: %w", err)
	}
	return src, nil
}

// ListSources returns sources by priority.
func (r *Registry) ListSources(ctx context.Context, activeOnly bool) ([]model.Source, error) {
	srcs, err := r.store.ListSources(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return srcs, nil
}

// SeedFoundation inserts the default feeds and niche keywords that are not
// already present. Existing rows are left untouched.
func (r *Registry) SeedFoundation(ctx context.Context, feeds []config.FeedConfig, keywords []string) (SeedResult, error) {
	var res SeedResult
	now := r.now()

	for _, text := range keywords {
		text = processing.NormalizeKeyword(text)
		if text == "" {
			continue
		}
		_, err := r.store.GetKeyword(ctx, text)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return res, fmt.Errorf("lookup keyword %q: %w", text, err)
		}
		kw := &model.Keyword{
			Text:            text,
			RelevanceScore:  seedRelevance,
			IsActive:        true,
			DiscoverySource: seedOrigin,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if _, err := r.store.UpsertKeyword(ctx, kw); err != nil {
			return res, fmt.Errorf("seed keyword %q: %w", text, err)
		}
		res.Keywords++
	}

	for _, f := range feeds {
		src := &model.Source{
			Name:      f.Name,
			Kind:      model.SourceFeed,
			URL:       f.URL,
			IsActive:  true,
			Priority:  f.Priority,
			CreatedAt: now,
		}
		err := r.store.CreateSource(ctx, src)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("seed source %q: %w", f.URL, err)
		}
		res.Sources++
	}

	r.logger.Info("foundation seeded", "keywords", res.Keywords, "sources", res.Sources)
	return res, nil
}
