package bot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const callbackRemove = "rm"

// feedKey is a short stable key for url that fits into callback data.
func feedKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}

func removeKeyboard(urls []string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(urls))
	for i, url := range urls {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Remove #%d", i+1), callbackRemove+":"+feedKey(url)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
	if !b.isOwner(cb.From) || cb.Message == nil || cb.Message.Chat == nil {
		b.log.Debug("ignoring callback from non-owner", "data", cb.Data)
		return
	}
	chatID := cb.Message.Chat.ID

	action, key, ok := strings.Cut(cb.Data, ":")
	if !ok || action != callbackRemove {
		return
	}

	b.log.Info("callback", "action", action, "key", key, "chat_id", chatID)

	urls, err := b.tenant.Feeds.List(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	for _, url := range urls {
		if feedKey(url) != key {
			continue
		}
		if err := b.tenant.Feeds.Remove(ctx, url); err != nil {
			b.log.Error("remove feed", "url", url, "error", err)
			b.reply(chatID, fmt.Sprintf("Failed to remove feed: %v", err))
			return
		}
		b.log.Info("feed removed", "url", url)
		b.reply(chatID, "🗑️ Feed removed: "+url)
		return
	}
	b.reply(chatID, "Feed not found. It may have been removed already.")
}
