package bot

import (
	"fmt"
	"strings"

	"trendscout/internal/editorial"
	"trendscout/internal/model"
	"trendscout/internal/seo"
	"trendscout/internal/storage"
)

const (
	statusActive = "active"
	statusPaused = "paused"
)

// FormatTopicList formats topics in the given status for display.
func FormatTopicList(status model.TopicStatus, topics []model.Topic) string {
	if len(topics) == 0 {
		return fmt.Sprintf("No %s topics.", status)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Topics (%s):\n", status)
	for _, t := range topics {
		fmt.Fprintf(&b, "\n#%d %s\n", t.ID, t.Title)
		if t.Angle != "" {
			fmt.Fprintf(&b, "   Angle: %s\n", t.Angle)
		}
		if t.SourceURL != "" {
			fmt.Fprintf(&b, "   %s\n", t.SourceURL)
		}
		if t.RejectedReason != "" {
			fmt.Fprintf(&b, "   Rejected: %s\n", t.RejectedReason)
		}
	}
	return b.String()
}

// FormatTopic formats a topic after a state change.
func FormatTopic(t *model.Topic) string {
	return fmt.Sprintf("Topic #%d \"%s\" is now %s.", t.ID, t.Title, t.Status)
}

// FormatGenerated formats the outcome of article generation.
func FormatGenerated(res *editorial.GenerateResult) string {
	a := res.Article
	var b strings.Builder
	fmt.Fprintf(&b, "Draft #%d created: %s\n", a.ID, a.Title)
	fmt.Fprintf(&b, "Slug: %s\n", a.Slug)
	fmt.Fprintf(&b, "%d words, %d min read", a.WordCount, a.ReadingTime)
	if a.MetaScore != nil {
		fmt.Fprintf(&b, ", meta score %.0f", *a.MetaScore)
	}
	if res.Links > 0 {
		fmt.Fprintf(&b, "\n%d internal links added", res.Links)
	}
	return b.String()
}

// FormatArticle formats an article after a status change.
func FormatArticle(a *model.Article) string {
	return fmt.Sprintf("Article #%d \"%s\" is now %s.", a.ID, a.Title, a.Status)
}

// FormatKeywordList formats tracked keywords by relevance.
func FormatKeywordList(keywords []model.Keyword) string {
	if len(keywords) == 0 {
		return "No active keywords. Run discovery or seed the foundation keywords."
	}
	var b strings.Builder
	b.WriteString("Active keywords:\n")
	for _, k := range keywords {
		fmt.Fprintf(&b, "\n%s  %.2f (used %d, %s)", k.Text, k.RelevanceScore, k.UsageCount, k.DiscoverySource)
	}
	return b.String()
}

// FormatSourceList formats sources with their yield statistics.
func FormatSourceList(srcs []model.Source) string {
	if len(srcs) == 0 {
		return "No sources yet. Use /addsource <kind> <url> to add one."
	}
	var b strings.Builder
	b.WriteString("Sources:\n")
	for _, s := range srcs {
		status := statusActive
		if !s.IsActive {
			status = statusPaused
		}
		fmt.Fprintf(&b, "\n#%d %s (%s, priority %d) [%s]\n", s.ID, s.Name, s.Kind, s.Priority, status)
		fmt.Fprintf(&b, "   %d found, %d used (%.0f%%)\n", s.ArticlesFound, s.ArticlesUsed, s.SuccessRate()*100)
	}
	return b.String()
}

// FormatSource formats a source after it was added or updated.
func FormatSource(s *model.Source) string {
	status := statusActive
	if !s.IsActive {
		status = statusPaused
	}
	return fmt.Sprintf("Source #%d \"%s\" [%s]\nURL: %s", s.ID, s.Name, status, s.URL)
}

// FormatGaps formats content gaps with their difficulty estimates.
func FormatGaps(gaps []seo.Gap, difficulty map[string]float64) string {
	if len(gaps) == 0 {
		return "No content gaps: every active keyword has a published article."
	}
	var b strings.Builder
	b.WriteString("Content gaps:\n")
	for _, g := range gaps {
		fmt.Fprintf(&b, "\n%s  relevance %.2f, %s opportunity", g.Keyword, g.Relevance, g.Opportunity)
		if d, ok := difficulty[g.Keyword]; ok {
			fmt.Fprintf(&b, ", difficulty %.2f", d)
		}
	}
	return b.String()
}

// FormatLinks formats link suggestions and what was applied.
func FormatLinks(articleID int64, suggestions []seo.LinkSuggestion, res seo.ApplyResult) string {
	if len(suggestions) == 0 {
		return fmt.Sprintf("No link suggestions for article #%d.", articleID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Links for article #%d:\n", articleID)
	for _, s := range suggestions {
		fmt.Fprintf(&b, "\n-> #%d /%s \"%s\" (%s)", s.ToArticleID, s.ToSlug, s.AnchorText, s.Kind)
	}
	b.WriteString("\n\n")
	if res.Disabled {
		b.WriteString("Auto-linking is disabled; suggestions were not applied.")
	} else {
		fmt.Fprintf(&b, "Applied: %d created, %d skipped.", res.Created, res.Skipped)
	}
	return b.String()
}

// FormatRefresh formats the outcome of a single article refresh.
func FormatRefresh(r seo.RefreshResult) string {
	if !r.Success {
		return fmt.Sprintf("Refresh of article #%d failed: %s", r.ArticleID, r.Error)
	}
	s := fmt.Sprintf("Article #%d refreshed: %d words", r.ArticleID, r.WordCount)
	if r.MetaScore != nil {
		s += fmt.Sprintf(", meta score %.0f", *r.MetaScore)
	}
	return s
}

// FormatStats formats the dashboard snapshot.
func FormatStats(st *storage.Stats) string {
	var b strings.Builder
	b.WriteString("Pipeline stats:\n")
	fmt.Fprintf(&b, "\nActive keywords: %d", st.ActiveKeywords)
	fmt.Fprintf(&b, "\nActive sources: %d", st.ActiveSources)
	fmt.Fprintf(&b, "\nPending topics: %d", st.PendingTopics)
	fmt.Fprintf(&b, "\nPublished articles: %d", st.PublishedArticles)
	fmt.Fprintf(&b, "\nAverage meta score: %.1f", st.AvgMetaScore)
	fmt.Fprintf(&b, "\nInternal links: %d", st.InternalLinks)
	return b.String()
}
