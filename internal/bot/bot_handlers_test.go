package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"trendscout/internal/config"
	"trendscout/internal/editorial"
	"trendscout/internal/llm"
	"trendscout/internal/model"
	"trendscout/internal/seo"
	"trendscout/internal/sources"
	"trendscout/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
	Markup any
}

type mockAPI struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.mu.Lock()
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Markup: msg.ReplyMarkup})
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) last() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) lastText() string {
	return m.last().Text
}

func (m *mockAPI) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// --- helpers ---

var articleContent = "## Batch your email\n\n" + strings.Repeat("Check email twice a day and close the tab in between. ", 4)

func draftReply(slug string) string {
	return fmt.Sprintf(`{"title": "Inbox Zero for Executives", "slug": %q, "content": %q,
		"seoTitle": "Inbox Zero Guide", "seoDescription": "Reach inbox zero daily.",
		"primaryKeyword": "inbox zero", "keywords": ["inbox zero"], "metaScore": 80}`, slug, articleContent)
}

func newTestBot(t *testing.T, c llm.Completer, cfg *config.Config) (*Bot, *mockAPI, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if c == nil {
		c = llm.CompleterFunc(func(context.Context, []llm.Message, bool) (string, error) {
			return "", errors.New("completion unavailable")
		})
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	seoSvc := seo.New(store, c, nil, seo.Options{AutoLinking: true}, log)

	api := &mockAPI{}
	b := &Bot{
		api:       api,
		store:     store,
		editorial: editorial.New(store, c, seoSvc, log),
		seo:       seoSvc,
		sources:   sources.NewRegistry(store, log),
		cfg:       cfg,
		log:       log,
	}
	return b, api, store
}

func seedTopic(t *testing.T, store *storage.SQLite, title string) *model.Topic {
	t.Helper()
	topic := &model.Topic{Title: title, Angle: "Executive angle", SourceURL: "https://news.example/" + strings.ReplaceAll(title, " ", "-")}
	if err := store.CreateTopic(context.Background(), topic); err != nil {
		t.Fatalf("seed topic: %v", err)
	}
	return topic
}

func seedArticle(t *testing.T, store *storage.SQLite, a model.Article) *model.Article {
	t.Helper()
	if err := store.CreateArticle(context.Background(), &a); err != nil {
		t.Fatalf("seed article: %v", err)
	}
	return &a
}

func commandUpdate(userID, chatID int64, text string) tgbotapi.Update {
	cmdLen := len(strings.Fields(text)[0])
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID},
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	b, api, _ := newTestBot(t, nil, nil)
	b.handleStart(100)
	requireContains(t, api.lastText(), "Welcome to TrendScout")
}

func TestHandleHelp(t *testing.T) {
	b, api, _ := newTestBot(t, nil, nil)
	b.handleHelp(100)
	for _, cmd := range []string{"/topics", "/approve", "/generate", "/addsource", "/gaps", "/links", "/refresh", "/stats"} {
		requireContains(t, api.lastText(), cmd)
	}
}

func TestHandleUpdateAccess(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Telegram: config.TelegramConfig{AllowedUsers: []int64{1}}}

	t.Run("denied", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil, cfg)
		b.handleUpdate(ctx, commandUpdate(2, 100, "/stats"))
		if diff := cmp.Diff("Access denied.", api.lastText()); diff != "" {
			t.Errorf("reply mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("allowed", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil, cfg)
		b.handleUpdate(ctx, commandUpdate(1, 100, "/stats"))
		requireContains(t, api.lastText(), "Pipeline stats")
	})

	t.Run("plain text ignored", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil, cfg)
		b.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 1},
			Chat: &tgbotapi.Chat{ID: 100},
			Text: "hello",
		}})
		if api.count() != 0 {
			t.Errorf("sent %d messages for plain text", api.count())
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil, cfg)
		b.handleUpdate(ctx, commandUpdate(1, 100, "/feeds"))
		requireContains(t, api.lastText(), "Unknown command")
	})
}

func TestHandleTopics(t *testing.T) {
	ctx := context.Background()

	t.Run("pending with buttons", func(t *testing.T) {
		b, api, store := newTestBot(t, nil, nil)
		seedTopic(t, store, "Inbox zero for CEOs")
		seedTopic(t, store, "Email SLAs")

		b.handleTopics(ctx, 100, "")
		last := api.last()
		requireContains(t, last.Text, "Topics (pending)")
		requireContains(t, last.Text, "Inbox zero for CEOs")

		kb, ok := last.Markup.(tgbotapi.InlineKeyboardMarkup)
		if !ok {
			t.Fatalf("markup = %T, want inline keyboard", last.Markup)
		}
		var data []string
		for _, row := range kb.InlineKeyboard {
			for _, btn := range row {
				data = append(data, *btn.CallbackData)
			}
		}
		if len(data) != 4 {
			t.Fatalf("buttons = %v, want 4", data)
		}
		for _, want := range []string{"approve:1", "reject:1", "approve:2", "reject:2"} {
			found := false
			for _, d := range data {
				if d == want {
					found = true
				}
			}
			if !found {
				t.Errorf("missing button %q in %v", want, data)
			}
		}
	})

	t.Run("other status has no buttons", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil, nil)
		b.handleTopics(ctx, 100, "approved")
		last := api.last()
		if diff := cmp.Diff("No approved topics.", last.Text); diff != "" {
			t.Errorf("reply mismatch (-want +got):\n%s", diff)
		}
		if last.Markup != nil {
			t.Errorf("unexpected markup %v", last.Markup)
		}
	})

	t.Run("bad status", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil, nil)
		b.handleTopics(ctx, 100, "published")
		requireContains(t, api.lastText(), "invalid status")
	})
}

func TestHandleApproveReject(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, nil, nil)
	a := seedTopic(t, store, "Inbox zero for CEOs")
	r := seedTopic(t, store, "Celebrity inbox")

	b.handleApprove(ctx, 100, "", "@ed")
	requireContains(t, api.lastText(), "Usage: /approve")

	b.handleApprove(ctx, 100, fmt.Sprint(a.ID), "@ed")
	requireContains(t, api.lastText(), "is now approved")

	b.handleApprove(ctx, 100, fmt.Sprint(a.ID), "@ed")
	requireContains(t, api.lastText(), "cannot make that change")

	b.handleApprove(ctx, 100, "999", "@ed")
	requireContains(t, api.lastText(), "Topic #999 not found")

	b.handleReject(ctx, 100, fmt.Sprintf("%d off niche", r.ID))
	requireContains(t, api.lastText(), "is now rejected")

	got, err := store.GetTopic(ctx, r.ID)
	if err != nil {
		t.Fatalf("get topic: %v", err)
	}
	if diff := cmp.Diff("off niche", got.RejectedReason); diff != "" {
		t.Errorf("reason mismatch (-want +got):\n%s", diff)
	}
	approved, _ := store.GetTopic(ctx, a.ID)
	if diff := cmp.Diff("@ed", approved.ApprovedBy); diff != "" {
		t.Errorf("approver mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, nil, nil)
	topic := seedTopic(t, store, "Inbox zero for CEOs")

	b.handleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 5, UserName: "ed"},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		Data:    fmt.Sprintf("approve:%d", topic.ID),
	}})
	requireContains(t, api.lastText(), "is now approved")

	got, _ := store.GetTopic(ctx, topic.ID)
	if diff := cmp.Diff("@ed", got.ApprovedBy); diff != "" {
		t.Errorf("approver mismatch (-want +got):\n%s", diff)
	}

	before := api.count()
	b.handleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb2",
		From:    &tgbotapi.User{ID: 5},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		Data:    "approve:abc",
	}})
	if api.count() != before {
		t.Errorf("malformed callback produced a reply")
	}
}

func TestHandleGenerate(t *testing.T) {
	ctx := context.Background()
	c := llm.CompleterFunc(func(_ context.Context, msgs []llm.Message, _ bool) (string, error) {
		if strings.Contains(msgs[len(msgs)-1].Content, "nonsense") {
			return "I cannot write that.", nil
		}
		return draftReply("inbox-zero-for-executives"), nil
	})

	t.Run("approved topic", func(t *testing.T) {
		b, api, store := newTestBot(t, c, nil)
		topic := seedTopic(t, store, "Inbox zero for CEOs")
		if err := store.ApproveTopic(ctx, topic.ID, "@ed", time.Now()); err != nil {
			t.Fatalf("approve: %v", err)
		}

		b.handleGenerate(ctx, 100, fmt.Sprint(topic.ID))
		requireContains(t, api.lastText(), "Draft #1 created: Inbox Zero for Executives")
		requireContains(t, api.lastText(), "meta score 80")

		got, _ := store.GetTopic(ctx, topic.ID)
		if got.Status != model.TopicGenerated {
			t.Errorf("topic status = %s, want generated", got.Status)
		}
	})

	t.Run("pending topic", func(t *testing.T) {
		b, api, store := newTestBot(t, c, nil)
		topic := seedTopic(t, store, "Inbox zero for CEOs")
		b.handleGenerate(ctx, 100, fmt.Sprint(topic.ID))
		requireContains(t, api.lastText(), "must be approved")
	})

	t.Run("unknown topic", func(t *testing.T) {
		b, api, _ := newTestBot(t, c, nil)
		b.handleGenerate(ctx, 100, "42")
		requireContains(t, api.lastText(), "Topic #42 not found")
	})

	t.Run("custom topic", func(t *testing.T) {
		b, api, _ := newTestBot(t, c, nil)
		b.handleGenerate(ctx, 100, "Email rules for leadership teams")
		requireContains(t, api.lastText(), "Draft #1 created")
	})

	t.Run("invalid article", func(t *testing.T) {
		b, api, _ := newTestBot(t, c, nil)
		b.handleGenerate(ctx, 100, "nonsense request")
		requireContains(t, api.lastText(), "Generation failed")
	})

	t.Run("usage", func(t *testing.T) {
		b, api, _ := newTestBot(t, c, nil)
		b.handleGenerate(ctx, 100, "")
		requireContains(t, api.lastText(), "Usage: /generate")
	})
}

func TestHandlePublishToggle(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, nil, nil)
	a := seedArticle(t, store, model.Article{Title: "Inbox Zero", Slug: "inbox-zero"})
	id := fmt.Sprint(a.ID)

	b.handlePublish(ctx, 100, id)
	requireContains(t, api.lastText(), "is now published")

	b.handlePublish(ctx, 100, id)
	requireContains(t, api.lastText(), "cannot make that change")

	b.handleUnpublish(ctx, 100, id)
	requireContains(t, api.lastText(), "is now draft")

	b.handleUnpublish(ctx, 100, "77")
	requireContains(t, api.lastText(), "Article #77 not found")
}

func TestHandleSources(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t, nil, nil)

	b.handleSources(ctx, 100)
	requireContains(t, api.lastText(), "No sources yet")

	b.handleAddSource(ctx, 100, "feed https://lifehacker.com/rss Life hacker")
	requireContains(t, api.lastText(), "Source added")
	requireContains(t, api.lastText(), "\"Life hacker\" [active]")

	b.handleAddSource(ctx, 100, "feed https://lifehacker.com/rss")
	requireContains(t, api.lastText(), "already registered")

	b.handleAddSource(ctx, 100, "podcast https://example.com")
	requireContains(t, api.lastText(), "invalid kind")

	b.handleAddSource(ctx, 100, "feed ftp://example.com/rss")
	requireContains(t, api.lastText(), "invalid source")

	b.handleSetSourceActive(ctx, 100, "1", false)
	requireContains(t, api.lastText(), "Source #1 \"Life hacker\" paused.")

	b.handleSources(ctx, 100)
	requireContains(t, api.lastText(), "#1 Life hacker (feed, priority 0) [paused]")

	b.handleSetSourceActive(ctx, 100, "1", true)
	requireContains(t, api.lastText(), "resumed")

	b.handleSetSourceActive(ctx, 100, "99", false)
	requireContains(t, api.lastText(), "Source #99 not found")

	b.handleSetSourceActive(ctx, 100, "", true)
	requireContains(t, api.lastText(), "Usage: /resume")
}

func TestHandleKeywordsAndGaps(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, nil, nil)

	b.handleKeywords(ctx, 100)
	requireContains(t, api.lastText(), "No active keywords")

	for _, kw := range []model.Keyword{
		{Text: "inbox zero", RelevanceScore: 0.9, IsActive: true, DiscoverySource: "seed"},
		{Text: "email batching", RelevanceScore: 0.65, IsActive: true, DiscoverySource: "reddit"},
	} {
		if _, err := store.UpsertKeyword(ctx, &kw); err != nil {
			t.Fatalf("upsert keyword: %v", err)
		}
	}
	seedArticle(t, store, model.Article{
		Title: "Batching", Slug: "batching", Status: model.ArticlePublished,
		PrimaryKeyword: "email batching", PublishedAt: ptrTime(time.Now()),
	})

	b.handleKeywords(ctx, 100)
	requireContains(t, api.lastText(), "inbox zero  0.90 (used 0, seed)")

	b.handleGaps(ctx, 100, "")
	reply := api.lastText()
	requireContains(t, reply, "inbox zero  relevance 0.90, high opportunity, difficulty 0.50")
	if strings.Contains(reply, "email batching") {
		t.Errorf("covered keyword listed as a gap:\n%s", reply)
	}

	b.handleGaps(ctx, 100, "zero")
	requireContains(t, api.lastText(), "Usage: /gaps")
}

func TestHandleLinks(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, nil, nil)

	from := seedArticle(t, store, model.Article{Title: "Inbox Zero", Slug: "inbox-zero", PrimaryKeyword: "inbox zero"})
	to := seedArticle(t, store, model.Article{
		Title: "Inbox Zero in Practice", Slug: "inbox-zero-practice", Status: model.ArticlePublished,
		PrimaryKeyword: "inbox zero", PublishedAt: ptrTime(time.Now()),
	})

	b.handleLinks(ctx, 100, fmt.Sprint(from.ID))
	reply := api.lastText()
	requireContains(t, reply, fmt.Sprintf("-> #%d /inbox-zero-practice \"Inbox Zero in Practice\" (related)", to.ID))
	requireContains(t, reply, "Applied: 1 created, 0 skipped.")

	links, err := store.ListInternalLinks(ctx, from.ID)
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 1 || links[0].ToArticleID != to.ID {
		t.Errorf("links = %+v", links)
	}

	b.handleLinks(ctx, 100, fmt.Sprint(from.ID))
	requireContains(t, api.lastText(), "No link suggestions")

	b.handleLinks(ctx, 100, "")
	requireContains(t, api.lastText(), "Usage: /links")
}

func TestHandleRefresh(t *testing.T) {
	b, api, _ := newTestBot(t, nil, nil)
	b.handleRefresh(context.Background(), 100, "99")
	if diff := cmp.Diff("Refresh of article #99 failed: article not found", api.lastText()); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleStats(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, nil, nil)
	seedTopic(t, store, "Inbox zero for CEOs")

	b.handleStats(ctx, 100)
	requireContains(t, api.lastText(), "Pending topics: 1")
}

func TestNotify(t *testing.T) {
	t.Run("no report chat", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil, nil)
		b.Notify("scout: 0 targets")
		if api.count() != 0 {
			t.Errorf("sent %d messages without a report chat", api.count())
		}
	})

	t.Run("report chat", func(t *testing.T) {
		cfg := &config.Config{Telegram: config.TelegramConfig{ReportChatID: 42}}
		b, api, _ := newTestBot(t, nil, cfg)
		b.Notify("scout: 0 targets")
		want := sentMsg{ChatID: 42, Text: "scout: 0 targets"}
		if diff := cmp.Diff(want, api.last()); diff != "" {
			t.Errorf("message mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("long reports are truncated", func(t *testing.T) {
		cfg := &config.Config{Telegram: config.TelegramConfig{ReportChatID: 42}}
		b, api, _ := newTestBot(t, nil, cfg)
		b.Notify(strings.Repeat("x", 5000))
		if got := len(api.lastText()); got != maxMessageLen {
			t.Errorf("length = %d, want %d", got, maxMessageLen)
		}
	})
}

func ptrTime(t time.Time) *time.Time { return &t }
