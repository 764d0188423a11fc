// Package bot is the Telegram side of a tenant: it sends deliveries, registers
// groups the bot is added to and serves the owner's commands.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss_fanout/internal/delivery"
	"rss_fanout/internal/model"
	"rss_fanout/internal/tenant"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Source parses a feed URL, used to validate /add.
type Source interface {
	Parse(ctx context.Context, url string) ([]model.Entry, error)
}

// Bot is one tenant's Telegram bot.
type Bot struct {
	api     telegramAPI
	tenant  *tenant.Context
	source  Source
	engine  *delivery.Engine
	log     *slog.Logger
	started time.Time
}

// New connects to Telegram with token and creates a Bot for tc.
func New(token string, tc *tenant.Context, source Source, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log = log.With("tenant", tc.ID)
	log.Info("authorized", "username", api.Self.UserName)
	return newBot(api, tc, source, log), nil
}

func newBot(api telegramAPI, tc *tenant.Context, source Source, log *slog.Logger) *Bot {
	b := &Bot{
		api:     api,
		tenant:  tc,
		source:  source,
		log:     log,
		started: time.Now(),
	}
	b.engine = b.NewEngine()
	return b
}

// NewEngine returns a delivery engine that sends through this bot, paced by
// its own limiter. /broadcast holds one; the feed loop gets another, so the two
// tasks share nothing but the store.
func (b *Bot) NewEngine() *delivery.Engine {
	p := b.tenant.Policy
	return delivery.New(b, delivery.Options{
		Interval: p.SendInterval,
		Retries:  uint64(max(p.SendRetries, 0)),
		Backoff:  p.SendBackoff,
	}, b.log)
}

// Run starts the long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "my_chat_member", "callback_query"}

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.MyChatMember != nil:
		b.handleMembership(ctx, update.MyChatMember)
	case update.Message != nil:
		msg := update.Message
		if msg.Chat != nil && (msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()) {
			b.registerChat(ctx, msg.Chat)
		}
		if msg.IsCommand() {
			b.handleCommand(ctx, msg)
		}
	}
}

// SendText sends a MarkdownV2 message.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	_, err := b.api.Send(msg)
	return classify(err)
}

// SendImage sends a photo by URL with a MarkdownV2 caption.
func (b *Bot) SendImage(ctx context.Context, chatID int64, imageURL, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(imageURL))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeMarkdownV2
	_, err := b.api.Send(photo)
	return classify(err)
}

// classify maps Bot API errors onto the delivery error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return &delivery.FloodError{RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second}
	case apiErr.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", delivery.ErrRejected, apiErr.Message)
	case apiErr.Code == http.StatusBadRequest && apiErr.MigrateToChatID != 0:
		return fmt.Errorf("%w: group migrated to %d", delivery.ErrRejected, apiErr.MigrateToChatID)
	case apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "chat not found"):
		return fmt.Errorf("%w: %s", delivery.ErrRejected, apiErr.Message)
	}
	return err
}

// reply sends a plain text message outside the delivery engine.
func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) replyMarkdown(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) isOwner(u *tgbotapi.User) bool {
	return u != nil && u.ID == b.tenant.OwnerID
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	if !b.isOwner(msg.From) {
		b.log.Debug("ignoring command from non-owner", "cmd", cmd, "chat_id", chatID)
		return
	}
	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	if cmd == "alive" {
		b.handleAlive(chatID)
		return
	}
	if !msg.Chat.IsPrivate() {
		return
	}

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "add":
		b.handleAdd(ctx, chatID, args)
	case "remove":
		b.handleRemove(ctx, chatID, args)
	case "feeds":
		b.handleFeeds(ctx, chatID)
	case "stats":
		b.handleStats(ctx, chatID)
	case "broadcast":
		b.handleBroadcast(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
