package editorial

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"trendscout/internal/llm"
	"trendscout/internal/processing"
)

// Draft limits.
const (
	MaxTitleLen          = 200
	MaxSlugLen           = 100
	MinContentLen        = 100
	MaxSEOTitleLen       = 60
	MaxSEODescriptionLen = 160
)

// Draft is a generated article before it is stored.
type Draft struct {
	Title          string      `json:"title"`
	Slug           string      `json:"slug"`
	Content        string      `json:"content"`
	SEOTitle       string      `json:"seoTitle"`
	SEODescription string      `json:"seoDescription"`
	PrimaryKeyword string      `json:"primaryKeyword"`
	Keywords       []string    `json:"keywords"`
	MetaScore      *llm.Number `json:"metaScore"`
}

// ParseDraft decodes and validates a generated article. Every failure wraps
// ErrInvalidArticle.
func ParseDraft(raw string) (*Draft, error) {
	var d Draft
	if err := llm.DecodeJSON(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArticle, err)
	}
	d.Title = strings.TrimSpace(d.Title)
	d.Slug = strings.TrimSpace(d.Slug)
	d.SEOTitle = strings.TrimSpace(d.SEOTitle)
	d.SEODescription = strings.TrimSpace(d.SEODescription)
	d.PrimaryKeyword = strings.TrimSpace(d.PrimaryKeyword)

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks the draft against the article limits.
func (d *Draft) Validate() error {
	var errs []error
	if n := utf8.RuneCountInString(d.Title); n == 0 || n > MaxTitleLen {
		errs = append(errs, fmt.Errorf("title must be 1-%d characters", MaxTitleLen))
	}
	if !processing.IsKebabCase(d.Slug) || len(d.Slug) > MaxSlugLen {
		errs = append(errs, fmt.Errorf("slug %q must be kebab-case and at most %d characters", d.Slug, MaxSlugLen))
	}
	if utf8.RuneCountInString(d.Content) < MinContentLen {
		errs = append(errs, fmt.Errorf("content must be at least %d characters", MinContentLen))
	}
	if utf8.RuneCountInString(d.SEOTitle) > MaxSEOTitleLen {
		errs = append(errs, fmt.Errorf("seoTitle exceeds %d characters", MaxSEOTitleLen))
	}
	if utf8.RuneCountInString(d.SEODescription) > MaxSEODescriptionLen {
		errs = append(errs, fmt.Errorf("seoDescription exceeds %d characters", MaxSEODescriptionLen))
	}
	if d.MetaScore != nil && (*d.MetaScore < 0 || *d.MetaScore > 100) {
		errs = append(errs, errors.New("metaScore must be between 0 and 100"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidArticle, errors.Join(errs...))
	}
	return nil
}

// cleanKeywords trims, drops empties and removes case-insensitive duplicates.
func cleanKeywords(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, k := range in {
		k = strings.TrimSpace(k)
		key := strings.ToLower(k)
		if k == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, k)
	}
	return out
}
