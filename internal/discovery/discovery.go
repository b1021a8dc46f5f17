// Package discovery gathers candidate keywords from several sources, scores
// them for niche relevance and maintains the active keyword set.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"trendscout/internal/llm"
	"trendscout/internal/model"
	"trendscout/internal/processing"
	"trendscout/internal/storage"
)

const (
	maxScored      = 80
	minKeywordLen  = 3
	staleAfter     = 60 * 24 * time.Hour
	staleBatchSize = 20
)

// DryRunMessage is reported when persistence is disabled.
const DryRunMessage = "ENABLE_DYNAMIC_KEYWORDS is not true; skipping persist"

// Candidate is a raw keyword proposed by an adapter.
type Candidate struct {
	Keyword string
	Source  string
	// RawScore is the adapter's own popularity signal, when it has one.
	RawScore float64
}

// Adapter is a keyword source.
type Adapter interface {
	Name() string
	Discover(ctx context.Context) ([]Candidate, error)
}

// Report summarizes a discovery run.
type Report struct {
	Discovered  int
	Scored      int
	Persisted   int
	Deactivated int
	Errors      []string
}

// Options control admission and persistence.
type Options struct {
	MinRelevance float64
	MaxActive    int
	// Persist enables writes. When false a run only scores.
	Persist bool
}

// Engine runs keyword discovery.
type Engine struct {
	adapters []Adapter
	llm      llm.Completer
	store    storage.Storage
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an Engine over the given adapters.
func NewEngine(store storage.Storage, c llm.Completer, opts Options, logger *slog.Logger, adapters ...Adapter) *Engine {
	return &Engine{
		adapters: adapters,
		llm:      c,
		store:    store,
		opts:     opts,
		logger:   logger.With("component", "discovery"),
		now:      time.Now,
	}
}

type adapterResult struct {
	candidates []Candidate
	err        error
}

// RunDiscovery collects, scores, admits and prunes keywords. Failures are
// reported in Report.Errors and never abort the run.
func (e *Engine) RunDiscovery(ctx context.Context) Report {
	var rep Report

	results := make([]adapterResult, len(e.adapters))
	var wg sync.WaitGroup
	for i, a := range e.adapters {
		wg.Add(1)
		go func(i int, a Adapter) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = adapterResult{err: fmt.Errorf("panic: %v", r)}
				}
			}()
			c, err := a.Discover(ctx)
			results[i] = adapterResult{candidates: c, err: err}
		}(i, a)
	}
	wg.Wait()

	var all []Candidate
	for i, a := range e.adapters {
		r := results[i]
		if r.err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", a.Name(), r.err))
			e.logger.Warn("adapter failed", "adapter", a.Name(), "error", r.err)
		}
		all = append(all, r.candidates...)
	}
	rep.Discovered = len(all)

	sourceOf := make(map[string]string)
	var batch []string
	for _, c := range all {
		k := processing.NormalizeKeyword(c.Keyword)
		if utf8.RuneCountInString(k) < minKeywordLen {
			continue
		}
		if _, ok := sourceOf[k]; ok {
			continue
		}
		sourceOf[k] = c.Source
		batch = append(batch, k)
	}
	if len(batch) > maxScored {
		batch = batch[:maxScored]
	}
	rep.Scored = len(batch)

	scores, err := e.score(ctx, batch)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("score: %v", err))
		e.logger.Warn("keyword scoring failed", "error", err)
	}

	var admitted []string
	for _, k := range batch {
		if scores[k] >= e.opts.MinRelevance {
			admitted = append(admitted, k)
		}
	}
	e.logger.Info("keywords scored", "discovered", rep.Discovered, "scored", rep.Scored, "admitted", len(admitted))

	if !e.opts.Persist {
		rep.Errors = append(rep.Errors, DryRunMessage)
		return rep
	}

	now := e.now()
	for _, k := range admitted {
		kw := &model.Keyword{
			Text:            k,
			RelevanceScore:  scores[k],
			IsActive:        true,
			DiscoverySource: sourceOf[k],
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if _, err := e.store.UpsertKeyword(ctx, kw); err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("upsert %s: %v", k, err))
			continue
		}
		rep.Persisted++
	}

	n, err := e.pruneCapacity(ctx)
	rep.Deactivated += n
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("capacity prune: %v", err))
	}
	n, err = e.pruneStale(ctx, now)
	rep.Deactivated += n
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("stale prune: %v", err))
	}

	e.logger.Info("discovery finished", "persisted", rep.Persisted, "deactivated", rep.Deactivated, "errors", len(rep.Errors))
	return rep
}

func (e *Engine) score(ctx context.Context, batch []string) (map[string]float64, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	prompt := scorePrompt + "\n\nKeywords to score (one per line):\n" + strings.Join(batch, "\n")
	raw, err := e.llm.Complete(ctx, []llm.Message{llm.User(prompt)}, true)
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	return ParseScores(raw)
}

// ParseScores decodes a {keyword: score} object. Keys are normalized, scores
// are clamped to [0,1] and entries with non-numeric scores are skipped.
func ParseScores(raw string) (map[string]float64, error) {
	var doc map[string]json.RawMessage
	if err := llm.DecodeJSON(raw, &doc); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(doc))
	for k, v := range doc {
		var n llm.Number
		if err := json.Unmarshal(v, &n); err != nil {
			continue
		}
		out[processing.NormalizeKeyword(k)] = llm.Clamp(float64(n), 0, 1)
	}
	return out, nil
}

func (e *Engine) pruneCapacity(ctx context.Context) (int, error) {
	if e.opts.MaxActive <= 0 {
		return 0, nil
	}
	active, err := e.store.CountActiveKeywords(ctx)
	if err != nil {
		return 0, err
	}
	if active <= e.opts.MaxActive {
		return 0, nil
	}
	kws, err := e.store.LeastValuableKeywords(ctx, active-e.opts.MaxActive)
	if err != nil {
		return 0, err
	}
	return e.store.DeactivateKeywords(ctx, keywordIDs(kws))
}

func (e *Engine) pruneStale(ctx context.Context, now time.Time) (int, error) {
	kws, err := e.store.StaleKeywords(ctx, now.Add(-staleAfter), staleBatchSize)
	if err != nil {
		return 0, err
	}
	return e.store.DeactivateKeywords(ctx, keywordIDs(kws))
}

func keywordIDs(kws []model.Keyword) []int64 {
	ids := make([]int64, 0, len(kws))
	for _, kw := range kws {
		ids = append(ids, kw.ID)
	}
	return ids
}
