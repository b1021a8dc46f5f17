package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"trendscout/internal/editorial"
	"trendscout/internal/model"
	"trendscout/internal/seo"
	"trendscout/internal/sources"
	"trendscout/internal/storage"
)

const (
	topicListLimit   = 20
	keywordListLimit = 30
	defaultGapLimit  = 10
	maxGapLimit      = 50
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to TrendScout!

Headlines are scouted into topic ideas for you to review.

Quick start:
1. /topics - review pending topics
2. /approve <id> - approve a topic
3. /generate <id> - write a draft for an approved topic

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Topics and articles:
/topics [status] - list topics (pending, approved, rejected, generated)
/approve <id> - approve a pending topic
/reject <id> [reason] - reject a pending topic
/generate <topic_id | custom topic> - write a draft article
/publish <id> - publish a draft
/unpublish <id> - move a published article back to draft

Sources and keywords:
/keywords - active keywords by relevance
/sources - sources with yield statistics
/addsource <feed|api|social> <url> [name] - add a source
/pause <source_id> - stop fetching a source
/resume <source_id> - resume fetching a source

Content intelligence:
/gaps [limit] - keywords without a published article
/links <article_id> - suggest and apply internal links
/refresh <article_id> - refresh an article
/stats - pipeline dashboard`)
}

func (b *Bot) handleTopics(ctx context.Context, chatID int64, args string) {
	status, err := ParseTopicStatus(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	topics, err := b.store.ListTopics(ctx, status, topicListLimit)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatTopicList(status, topics))
	msg.DisableWebPagePreview = true
	if status == model.TopicPending && len(topics) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(topics))
		for _, t := range topics {
			rows = append(rows, topicButtonRow(t.ID))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send topic list", "error", err)
	}
}

func (b *Bot) handleApprove(ctx context.Context, chatID int64, args, approver string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /approve <id>")
		return
	}

	t, err := b.editorial.Approve(ctx, id, approver)
	if err != nil {
		b.reply(chatID, describeErr("Topic", id, err))
		return
	}
	b.reply(chatID, FormatTopic(t))
}

func (b *Bot) handleReject(ctx context.Context, chatID int64, args string) {
	id, reason, err := ParseIDText(args)
	if err != nil {
		b.reply(chatID, "Usage: /reject <id> [reason]")
		return
	}

	t, err := b.editorial.Reject(ctx, id, reason)
	if err != nil {
		b.reply(chatID, describeErr("Topic", id, err))
		return
	}
	b.reply(chatID, FormatTopic(t))
}

func (b *Bot) handleGenerate(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /generate <topic_id | custom topic>")
		return
	}

	var req editorial.GenerateRequest
	if id, err := strconv.ParseInt(args, 10, 64); err == nil {
		req.TopicID = id
	} else {
		req.CustomTopic = args
	}

	b.reply(chatID, "Generating article, this can take a minute...")
	res, err := b.editorial.Generate(ctx, req)
	switch {
	case err == nil:
		b.reply(chatID, FormatGenerated(res))
	case errors.Is(err, editorial.ErrInvalidTransition):
		b.reply(chatID, fmt.Sprintf("Topic #%d must be approved before generation.", req.TopicID))
	case errors.Is(err, storage.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Topic #%d not found.", req.TopicID))
	default:
		b.log.Warn("generation failed", "topic_id", req.TopicID, "error", err)
		b.reply(chatID, fmt.Sprintf("Generation failed: %v", err))
	}
}

func (b *Bot) handlePublish(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /publish <id>")
		return
	}

	a, err := b.editorial.Publish(ctx, id)
	if err != nil {
		b.reply(chatID, describeErr("Article", id, err))
		return
	}
	b.reply(chatID, FormatArticle(a))
}

func (b *Bot) handleUnpublish(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /unpublish <id>")
		return
	}

	a, err := b.editorial.Unpublish(ctx, id)
	if err != nil {
		b.reply(chatID, describeErr("Article", id, err))
		return
	}
	b.reply(chatID, FormatArticle(a))
}

func (b *Bot) handleKeywords(ctx context.Context, chatID int64) {
	keywords, err := b.store.ListActiveKeywords(ctx, keywordListLimit)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatKeywordList(keywords))
}

func (b *Bot) handleSources(ctx context.Context, chatID int64) {
	srcs, err := b.sources.ListSources(ctx, false)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatSourceList(srcs))
}

func (b *Bot) handleAddSource(ctx context.Context, chatID int64, args string) {
	parsed, err := ParseAddSourceArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	src, err := b.sources.AddSource(ctx, parsed.Kind, parsed.URL, parsed.Name, 0)
	switch {
	case err == nil:
		b.reply(chatID, "Source added!\n"+FormatSource(src))
	case errors.Is(err, storage.ErrConflict):
		b.reply(chatID, fmt.Sprintf("Source %s is already registered.", parsed.URL))
	case errors.Is(err, sources.ErrInvalidSource):
		b.reply(chatID, err.Error())
	default:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	}
}

func (b *Bot) handleSetSourceActive(ctx context.Context, chatID int64, args string, active bool) {
	id, err := ParseIDArg(args)
	if err != nil {
		if active {
			b.reply(chatID, "Usage: /resume <source_id>")
		} else {
			b.reply(chatID, "Usage: /pause <source_id>")
		}
		return
	}

	src, err := b.sources.UpdateSource(ctx, id, sources.Update{Active: &active})
	if err != nil {
		b.reply(chatID, describeErr("Source", id, err))
		return
	}
	verb := "resumed"
	if !active {
		verb = "paused"
	}
	b.reply(chatID, fmt.Sprintf("Source #%d \"%s\" %s.", src.ID, src.Name, verb))
}

func (b *Bot) handleGaps(ctx context.Context, chatID int64, args string) {
	limit, err := ParseLimitArg(args, defaultGapLimit, maxGapLimit)
	if err != nil {
		b.reply(chatID, "Usage: /gaps [limit]")
		return
	}

	gaps, err := b.seo.ContentGaps(ctx, limit)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	difficulty := make(map[string]float64, len(gaps))
	for _, g := range gaps {
		difficulty[g.Keyword] = b.seo.EstimateDifficulty(ctx, g.Keyword)
	}
	b.reply(chatID, FormatGaps(gaps, difficulty))
}

func (b *Bot) handleLinks(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /links <article_id>")
		return
	}

	suggestions, err := b.seo.SuggestLinks(ctx, id, 0)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(suggestions) == 0 {
		b.reply(chatID, FormatLinks(id, nil, seo.ApplyResult{}))
		return
	}
	res := b.seo.ApplyLinks(ctx, id, suggestions)
	b.reply(chatID, FormatLinks(id, suggestions, res))
}

func (b *Bot) handleRefresh(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /refresh <article_id>")
		return
	}

	b.reply(chatID, "Refreshing article, this can take a minute...")
	b.reply(chatID, FormatRefresh(b.seo.RefreshArticle(ctx, id)))
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	st, err := b.seo.Dashboard(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatStats(st))
}

func describeErr(what string, id int64, err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Sprintf("%s #%d not found.", what, id)
	case errors.Is(err, editorial.ErrInvalidTransition):
		return fmt.Sprintf("%s #%d cannot make that change from its current status.", what, id)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
