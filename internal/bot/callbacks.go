package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Inline keyboard actions. Callback data is "<action>:<topic id>".
const (
	cmdApprove = "approve"
	cmdReject  = "reject"
)

func topicButtonRow(id int64) []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Approve #%d", id), fmt.Sprintf("%s:%d", cmdApprove, id)),
		tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Reject #%d", id), fmt.Sprintf("%s:%d", cmdReject, id)),
	)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	action, arg, ok := strings.Cut(cb.Data, ":")
	_, idErr := ParseIDArg(arg)
	valid := ok && idErr == nil && (action == cmdApprove || action == cmdReject)

	ack := ""
	if !valid {
		ack = "Unknown action"
	}
	if _, err := b.api.Send(tgbotapi.NewCallback(cb.ID, ack)); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
	if !valid || cb.Message == nil || cb.Message.Chat == nil {
		b.log.Warn("ignored callback", "data", cb.Data, "user_id", cb.From.ID)
		return
	}

	chatID := cb.Message.Chat.ID
	b.log.Info("callback", "action", action, "topic_id", arg, "chat_id", chatID, "user_id", cb.From.ID)

	if action == cmdApprove {
		b.handleApprove(ctx, chatID, arg, operatorName(cb.From))
		return
	}
	b.handleReject(ctx, chatID, arg)
}
