package editorial

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"trendscout/internal/llm"
	"trendscout/internal/model"
	"trendscout/internal/seo"
	"trendscout/internal/storage"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

var longContent = "## Why inbox zero matters\n\n" + strings.Repeat("Executives who batch email twice a day reclaim hours every week. ", 3)

type fakeLinker struct {
	enabled    bool
	suggestErr error
	from       int64
	applied    []seo.LinkSuggestion
}

func (f *fakeLinker) AutoLinking() bool { return f.enabled }

func (f *fakeLinker) SuggestLinks(_ context.Context, id int64, maxLinks int) ([]seo.LinkSuggestion, error) {
	if f.suggestErr != nil {
		return nil, f.suggestErr
	}
	return []seo.LinkSuggestion{{ToArticleID: 100, AnchorText: "a"}, {ToArticleID: 101, AnchorText: "b"}}[:min(2, maxLinks)], nil
}

func (f *fakeLinker) ApplyLinks(_ context.Context, from int64, s []seo.LinkSuggestion) seo.ApplyResult {
	f.from = from
	f.applied = s
	return seo.ApplyResult{Created: len(s)}
}

func draftJSON(t *testing.T, mutate func(m map[string]any)) string {
	t.Helper()
	m := map[string]any{
		"title":          "Inbox Zero for Busy Executives",
		"slug":           "inbox-zero-guide",
		"content":        longContent,
		"seoTitle":       "Inbox Zero Guide",
		"seoDescription": "Reach inbox zero in fifteen minutes a day.",
		"primaryKeyword": "Inbox Zero",
		"keywords":       []string{"inbox zero", "email batching", "Inbox Zero", " "},
		"metaScore":      82,
	}
	if mutate != nil {
		mutate(m)
	}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal draft: %v", err)
	}
	return string(b)
}

func newTestService(t *testing.T, c llm.Completer, linker Linker) (*Service, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	s := New(store, c, linker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return testNow }
	return s, store
}

func addTopic(t *testing.T, store *storage.SQLite, title, sourceURL string) *model.Topic {
	t.Helper()
	topic := &model.Topic{Title: title, Angle: "Frame it for executives.", SourceURL: sourceURL}
	if err := store.CreateTopic(context.Background(), topic); err != nil {
		t.Fatalf("create topic: %v", err)
	}
	return topic
}

func TestTopicTransitions(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t, nil, nil)
	a := addTopic(t, store, "A", "https://a.example")
	b := addTopic(t, store, "B", "https://b.example")

	got, err := s.Approve(ctx, a.ID, "operator")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != model.TopicApproved || got.ApprovedBy != "operator" || got.ApprovedAt == nil || !got.ApprovedAt.Equal(testNow) {
		t.Errorf("approved topic = %+v", got)
	}

	rejected, err := s.Reject(ctx, b.ID, "  off niche ")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != model.TopicRejected || rejected.RejectedReason != "off niche" {
		t.Errorf("rejected topic = %+v", rejected)
	}

	tests := []struct {
		name    string
		op      func() error
		wantErr error
	}{
		{name: "approve approved", op: func() error { _, err := s.Approve(ctx, a.ID, "x"); return err }, wantErr: ErrInvalidTransition},
		{name: "reject approved", op: func() error { _, err := s.Reject(ctx, a.ID, "late"); return err }, wantErr: ErrInvalidTransition},
		{name: "approve rejected", op: func() error { _, err := s.Approve(ctx, b.ID, "x"); return err }, wantErr: ErrInvalidTransition},
		{name: "approve missing", op: func() error { _, err := s.Approve(ctx, 999, "x"); return err }, wantErr: storage.ErrNotFound},
		{name: "reject missing", op: func() error { _, err := s.Reject(ctx, 999, "x"); return err }, wantErr: storage.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateFromTopic(t *testing.T) {
	ctx := context.Background()
	var msgs []llm.Message
	c := llm.CompleterFunc(func(_ context.Context, m []llm.Message, strict bool) (string, error) {
		if !strict {
			return "", errors.New("not strict")
		}
		msgs = m
		return draftJSON(t, nil), nil
	})
	linker := &fakeLinker{enabled: true}
	s, store := newTestService(t, c, linker)

	topic := addTopic(t, store, "CEOs and email", "https://news.example/ceo")
	if _, err := s.Approve(ctx, topic.ID, "op"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := store.UpsertKeyword(ctx, &model.Keyword{Text: "inbox zero", IsActive: true, RelevanceScore: 0.9}); err != nil {
		t.Fatalf("keyword: %v", err)
	}
	if err := store.CreateArticle(ctx, &model.Article{Title: "taken", Slug: "inbox-zero-guide"}); err != nil {
		t.Fatalf("seed slug: %v", err)
	}

	res, err := s.Generate(ctx, GenerateRequest{TopicID: topic.ID})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(msgs) != 2 || msgs[1].Content != "Topic: CEOs and email. Angle: Frame it for executives." {
		t.Errorf("messages = %+v", msgs)
	}

	score := 82.0
	topicID := topic.ID
	want := &model.Article{
		Title:          "Inbox Zero for Busy Executives",
		Slug:           "inbox-zero-guide-1",
		Content:        longContent,
		SEOTitle:       "Inbox Zero Guide",
		SEODescription: "Reach inbox zero in fifteen minutes a day.",
		Status:         model.ArticleDraft,
		PrimaryKeyword: "Inbox Zero",
		Keywords:       []string{"inbox zero", "email batching"},
		WordCount:      len(strings.Fields(longContent)),
		ReadingTime:    1,
		MetaScore:      &score,
		TopicID:        &topicID,
		CreatedAt:      testNow,
	}
	stored, err := store.GetArticle(ctx, res.Article.ID)
	if err != nil {
		t.Fatalf("get article: %v", err)
	}
	if diff := cmp.Diff(want, stored, cmpopts.IgnoreFields(model.Article{}, "ID")); diff != "" {
		t.Errorf("stored article mismatch (-want +got):\n%s", diff)
	}

	gotTopic, _ := store.GetTopic(ctx, topic.ID)
	if gotTopic.Status != model.TopicGenerated {
		t.Errorf("topic status = %s, want generated", gotTopic.Status)
	}
	kw, _ := store.GetKeyword(ctx, "inbox zero")
	if kw.UsageCount != 1 {
		t.Errorf("usage count = %d, want 1", kw.UsageCount)
	}
	if res.Links != 2 || linker.from != res.Article.ID {
		t.Errorf("links = %d from %d, want 2 from %d", res.Links, linker.from, res.Article.ID)
	}

	if _, err := s.Generate(ctx, GenerateRequest{TopicID: topic.ID}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second generate error = %v, want ErrInvalidTransition", err)
	}
}

func TestGenerateRequiresApprovedTopic(t *testing.T) {
	ctx := context.Background()
	calls := 0
	c := llm.CompleterFunc(func(context.Context, []llm.Message, bool) (string, error) {
		calls++
		return draftJSON(t, nil), nil
	})
	s, store := newTestService(t, c, nil)
	pending := addTopic(t, store, "pending", "https://p.example")
	rejected := addTopic(t, store, "rejected", "https://r.example")
	if _, err := s.Reject(ctx, rejected.ID, "no"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	for _, id := range []int64{pending.ID, rejected.ID} {
		if _, err := s.Generate(ctx, GenerateRequest{TopicID: id}); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("topic %d: error = %v, want ErrInvalidTransition", id, err)
		}
	}
	if _, err := s.Generate(ctx, GenerateRequest{TopicID: 999}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing topic error = %v, want ErrNotFound", err)
	}
	if calls != 0 {
		t.Errorf("completion called %d times", calls)
	}
	articles, _ := store.ListArticles(ctx, "", 0)
	if len(articles) != 0 {
		t.Errorf("articles written: %d", len(articles))
	}
}

func TestGenerateLosesRaceForTopic(t *testing.T) {
	ctx := context.Background()
	var store *storage.SQLite
	var topicID int64
	c := llm.CompleterFunc(func(ctx context.Context, _ []llm.Message, _ bool) (string, error) {
		// Another generation finishes while this one waits on the writer.
		other := &model.Article{Title: "other", Slug: "other"}
		if err := store.CreateArticleFromTopic(ctx, other, topicID); err != nil {
			return "", err
		}
		return draftJSON(t, nil), nil
	})
	var s *Service
	s, store = newTestService(t, c, nil)
	topic := addTopic(t, store, "contested", "https://c.example")
	topicID = topic.ID
	if _, err := s.Approve(ctx, topic.ID, "op"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, err := s.Generate(ctx, GenerateRequest{TopicID: topic.ID}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
	if exists, _ := store.SlugExists(ctx, "inbox-zero-guide"); exists {
		t.Error("losing generation stored its article")
	}
}

func TestGenerateCustomTopic(t *testing.T) {
	ctx := context.Background()
	var msgs []llm.Message
	c := llm.CompleterFunc(func(_ context.Context, m []llm.Message, _ bool) (string, error) {
		msgs = m
		return draftJSON(t, func(m map[string]any) { delete(m, "metaScore"); delete(m, "primaryKeyword") }), nil
	})
	linker := &fakeLinker{enabled: false}
	s, _ := newTestService(t, c, linker)

	res, err := s.Generate(ctx, GenerateRequest{CustomTopic: "  Email SLAs for leadership teams "})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if msgs[1].Content != "Topic: Email SLAs for leadership teams" {
		t.Errorf("user message = %q", msgs[1].Content)
	}
	if res.Article.TopicID != nil || res.Article.MetaScore != nil || res.Article.Slug != "inbox-zero-guide" {
		t.Errorf("article = %+v", res.Article)
	}
	if res.Links != 0 || linker.applied != nil {
		t.Errorf("links applied while disabled")
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		req     GenerateRequest
		reply   string
		wantErr error
	}{
		{name: "empty request", req: GenerateRequest{}, wantErr: ErrInvalidRequest},
		{name: "both set", req: GenerateRequest{TopicID: 1, CustomTopic: "x"}, wantErr: ErrInvalidRequest},
		{name: "custom too long", req: GenerateRequest{CustomTopic: strings.Repeat("a", 501)}, wantErr: ErrInvalidRequest},
		{name: "prose reply", req: GenerateRequest{CustomTopic: "x"}, reply: "Here is your article!", wantErr: ErrInvalidArticle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := llm.CompleterFunc(func(context.Context, []llm.Message, bool) (string, error) { return tt.reply, nil })
			s, _ := newTestService(t, c, nil)
			if _, err := s.Generate(context.Background(), tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDraft(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m map[string]any)
		wantErr bool
	}{
		{name: "valid"},
		{name: "optional fields absent", mutate: func(m map[string]any) {
			delete(m, "seoTitle")
			delete(m, "keywords")
			delete(m, "metaScore")
		}},
		{name: "empty title", mutate: func(m map[string]any) { m["title"] = " " }, wantErr: true},
		{name: "long title", mutate: func(m map[string]any) { m["title"] = strings.Repeat("t", 201) }, wantErr: true},
		{name: "slug not kebab", mutate: func(m map[string]any) { m["slug"] = "Inbox_Zero" }, wantErr: true},
		{name: "slug double hyphen", mutate: func(m map[string]any) { m["slug"] = "inbox--zero" }, wantErr: true},
		{name: "short content", mutate: func(m map[string]any) { m["content"] = "too short" }, wantErr: true},
		{name: "long seo title", mutate: func(m map[string]any) { m["seoTitle"] = strings.Repeat("s", 61) }, wantErr: true},
		{name: "long seo description", mutate: func(m map[string]any) { m["seoDescription"] = strings.Repeat("d", 161) }, wantErr: true},
		{name: "meta score out of range", mutate: func(m map[string]any) { m["metaScore"] = 120 }, wantErr: true},
		{name: "meta score not a number", mutate: func(m map[string]any) { m["metaScore"] = "NaN" }, wantErr: true},
		{name: "meta score infinite", mutate: func(m map[string]any) { m["metaScore"] = "-Inf" }, wantErr: true},
		{name: "keywords not strings", mutate: func(m map[string]any) { m["keywords"] = []int{1, 2} }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDraft(draftJSON(t, tt.mutate))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArticle) {
					t.Errorf("error = %v, want ErrInvalidArticle", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestPublishToggle(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t, nil, nil)
	draft := &model.Article{Title: "d", Slug: "d"}
	review := &model.Article{Title: "r", Slug: "r", Status: model.ArticleReview}
	for _, a := range []*model.Article{draft, review} {
		if err := store.CreateArticle(ctx, a); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	pub, err := s.Publish(ctx, draft.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if pub.Status != model.ArticlePublished || pub.PublishedAt == nil || !pub.PublishedAt.Equal(testNow) {
		t.Errorf("published = %+v", pub)
	}

	unpub, err := s.Unpublish(ctx, draft.ID)
	if err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	if unpub.Status != model.ArticleDraft || unpub.PublishedAt != nil {
		t.Errorf("unpublished = %+v", unpub)
	}

	tests := []struct {
		name    string
		op      func() error
		wantErr error
	}{
		{name: "unpublish draft", op: func() error { _, err := s.Unpublish(ctx, draft.ID); return err }, wantErr: ErrInvalidTransition},
		{name: "publish review", op: func() error { _, err := s.Publish(ctx, review.ID); return err }, wantErr: ErrInvalidTransition},
		{name: "unpublish review", op: func() error { _, err := s.Unpublish(ctx, review.ID); return err }, wantErr: ErrInvalidTransition},
		{name: "publish missing", op: func() error { _, err := s.Publish(ctx, 999); return err }, wantErr: storage.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
