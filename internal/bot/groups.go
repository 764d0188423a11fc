package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss_fanout/internal/model"
)

// registerChat saves chat as a delivery target and tells the owner when it is new.
func (b *Bot) registerChat(ctx context.Context, chat *tgbotapi.Chat) {
	sub := model.Subscriber{
		ChatID: chat.ID,
		Title:  chat.Title,
		Kind:   chat.Type,
	}
	if sub.Title == "" {
		sub.Title = "Unknown"
	}

	created, err := b.tenant.Subscribers.Add(ctx, sub.ChatID, sub.Title, sub.Kind)
	if err != nil {
		b.log.Error("save group", "chat_id", chat.ID, "error", err)
		return
	}
	if !created {
		return
	}

	b.log.Info("saved new group", "chat_id", sub.ChatID, "title", sub.Title, "type", sub.Kind)
	b.replyMarkdown(b.tenant.OwnerID, FormatNewGroup(sub), nil)
}

// handleMembership follows changes of the bot's own membership.
func (b *Bot) handleMembership(ctx context.Context, upd *tgbotapi.ChatMemberUpdated) {
	if upd.Chat.IsPrivate() {
		return
	}
	switch upd.NewChatMember.Status {
	case "member", "administrator", "creator":
		b.registerChat(ctx, &upd.Chat)
	case "left", "kicked":
		if err := b.tenant.Subscribers.Remove(ctx, upd.Chat.ID); err != nil {
			b.log.Error("remove group", "chat_id", upd.Chat.ID, "error", err)
			return
		}
		b.log.Info("removed group", "chat_id", upd.Chat.ID, "title", upd.Chat.Title, "status", upd.NewChatMember.Status)
	}
}
