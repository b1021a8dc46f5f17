// Package bot implements the Telegram operator bot and the run-report notifier.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"trendscout/internal/config"
	"trendscout/internal/editorial"
	"trendscout/internal/processing"
	"trendscout/internal/seo"
	"trendscout/internal/sources"
	"trendscout/internal/storage"
)

// maxMessageLen keeps replies under the Telegram limit of 4096 characters.
const maxMessageLen = 4000

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Services are the operations the bot exposes.
type Services struct {
	Editorial *editorial.Service
	SEO       *seo.Service
	Sources   *sources.Registry
}

// Bot is the Telegram bot that handles operator commands and sends run reports.
type Bot struct {
	api       telegramAPI
	store     storage.Storage
	editorial *editorial.Service
	seo       *seo.Service
	sources   *sources.Registry
	cfg       *config.Config
	log       *slog.Logger
}

// New creates a Bot with the given Telegram token, storage, services, and config.
func New(token string, store storage.Storage, svc Services, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:       api,
		store:     store,
		editorial: svc.Editorial,
		seo:       svc.SEO,
		sources:   svc.Sources,
		cfg:       cfg,
		log:       log.With("component", "bot"),
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From == nil || cb.Message == nil || !b.cfg.IsUserAllowed(cb.From.ID) {
			return
		}
		b.handleCallback(ctx, cb)
		return
	}
	msg := update.Message
	if msg == nil || msg.From == nil || !msg.IsCommand() {
		return
	}
	if !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, msg)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, processing.Truncate(text, maxMessageLen))
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

// Notify sends a run report to the configured report chat.
func (b *Bot) Notify(text string) {
	if b.cfg.Telegram.ReportChatID == 0 {
		b.log.Debug("report chat not configured, report dropped")
		return
	}
	b.SendMessage(b.cfg.Telegram.ReportChatID, text)
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "topics":
		b.handleTopics(ctx, chatID, args)
	case cmdApprove:
		b.handleApprove(ctx, chatID, args, operatorName(msg.From))
	case cmdReject:
		b.handleReject(ctx, chatID, args)
	case "generate":
		b.handleGenerate(ctx, chatID, args)
	case "publish":
		b.handlePublish(ctx, chatID, args)
	case "unpublish":
		b.handleUnpublish(ctx, chatID, args)
	case "keywords":
		b.handleKeywords(ctx, chatID)
	case "sources":
		b.handleSources(ctx, chatID)
	case "addsource":
		b.handleAddSource(ctx, chatID, args)
	case "pause":
		b.handleSetSourceActive(ctx, chatID, args, false)
	case "resume":
		b.handleSetSourceActive(ctx, chatID, args, true)
	case "gaps":
		b.handleGaps(ctx, chatID, args)
	case "links":
		b.handleLinks(ctx, chatID, args)
	case "refresh":
		b.handleRefresh(ctx, chatID, args)
	case "stats":
		b.handleStats(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func operatorName(u *tgbotapi.User) string {
	if u == nil {
		return "telegram"
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return "telegram:" + strconv.FormatInt(u.ID, 10)
}
