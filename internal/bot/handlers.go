package bot

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"rss_fanout/internal/delivery"
	"rss_fanout/internal/format"
	"rss_fanout/internal/model"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to RSS Fanout Bot!

New entries from your feeds are posted to every group this bot is a member of.

Quick start:
1. Add the bot to a group
2. /add <url> to subscribe to a feed

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Feeds:
/add <url> - subscribe to an RSS or Atom feed
/remove <url> - unsubscribe from a feed
/feeds - list feeds

Groups:
/stats - number of groups and feeds
/broadcast <text> - send a message to every group

/alive - check that the bot is running`)
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	url, err := ParseFeedURL(args)
	if err != nil {
		b.reply(chatID, "Usage: /add <rss_url>")
		return
	}

	entries, err := b.source.Parse(ctx, url)
	if err != nil || len(entries) == 0 {
		b.log.Info("rejecting feed", "url", url, "entries", len(entries), "error", err)
		b.reply(chatID, "❌ Invalid or empty RSS feed.")
		return
	}

	if err := b.tenant.Feeds.Add(ctx, url); err != nil {
		b.log.Error("add feed", "url", url, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to save feed: %v", err))
		return
	}
	b.log.Info("feed added", "url", url)
	b.reply(chatID, "✅ Feed added successfully.")
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, args string) {
	url, err := ParseFeedURL(args)
	if err != nil {
		b.reply(chatID, "Usage: /remove <rss_url>")
		return
	}
	if err := b.tenant.Feeds.Remove(ctx, url); err != nil {
		b.log.Error("remove feed", "url", url, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to remove feed: %v", err))
		return
	}
	b.log.Info("feed removed", "url", url)
	b.reply(chatID, "🗑️ Feed removed successfully.")
}

func (b *Bot) handleFeeds(ctx context.Context, chatID int64) {
	urls, err := b.tenant.Feeds.List(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(urls) == 0 {
		b.reply(chatID, "No feeds found.")
		return
	}
	b.replyMarkdown(chatID, FormatFeedList(urls), removeKeyboard(urls))
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	subs, err := b.tenant.Subscribers.List(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	urls, err := b.tenant.Feeds.List(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.replyMarkdown(chatID, FormatStats(len(subs), len(urls)), nil)
}

func (b *Bot) handleAlive(chatID int64) {
	b.reply(chatID, fmt.Sprintf("✅ Bot is alive and running.\nUp since %s (%s).",
		b.started.UTC().Format("2006-01-02 15:04 MST"), humanize.Time(b.started)))
}

func (b *Bot) handleBroadcast(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /broadcast <message>")
		return
	}

	subs, err := b.tenant.Subscribers.List(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := model.Message{Text: format.Escape(args)}
	var sent, failed int
	for _, sub := range subs {
		switch b.engine.Deliver(ctx, sub.ChatID, msg) {
		case delivery.Delivered:
			sent++
		case delivery.Rejected:
			failed++
			if err := b.tenant.Subscribers.Remove(ctx, sub.ChatID); err != nil {
				b.log.Error("remove rejected subscriber", "chat_id", sub.ChatID, "error", err)
			}
		default:
			failed++
		}
	}

	b.log.Info("broadcast", "sent", sent, "failed", failed)
	text := fmt.Sprintf("📢 Message sent to %d groups.", sent)
	if failed > 0 {
		text += fmt.Sprintf(" %d failed.", failed)
	}
	b.reply(chatID, text)
}
