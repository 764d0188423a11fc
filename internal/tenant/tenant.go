// Package tenant bundles a bot instance's registries, ledger and policy into one
// value that is passed explicitly to the feed loop and the command handlers.
package tenant

import (
	"context"
	"time"

	"rss_fanout/internal/config"
	"rss_fanout/internal/model"
	"rss_fanout/internal/storage"
)

// Context is everything one tenant owns.
type Context struct {
	ID          string
	OwnerID     int64
	Policy      config.Policy
	Feeds       *Feeds
	Subscribers *Subscribers
	Ledger      *Ledger
}

// New builds a tenant context on top of a shared store.
func New(t config.Tenant, store storage.Storage) *Context {
	return &Context{
		ID:          t.ID,
		OwnerID:     t.OwnerID,
		Policy:      t.Policy,
		Feeds:       &Feeds{store: store, tenant: t.ID},
		Subscribers: &Subscribers{store: store, tenant: t.ID},
		Ledger:      &Ledger{store: store, tenant: t.ID},
	}
}

// Feeds is the tenant's feed registry.
type Feeds struct {
	store  storage.Storage
	tenant string
}

// Add subscribes to url. Duplicate adds are no-ops.
func (f *Feeds) Add(ctx context.Context, url string) error {
	return f.store.AddFeed(ctx, f.tenant, url)
}

// Remove unsubscribes from url. Removing an unknown url is a no-op.
func (f *Feeds) Remove(ctx context.Context, url string) error {
	return f.store.RemoveFeed(ctx, f.tenant, url)
}

// List returns a snapshot of the subscribed URLs.
func (f *Feeds) List(ctx context.Context) ([]string, error) {
	feeds, err := f.store.ListFeeds(ctx, f.tenant)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(feeds))
	for _, fd := range feeds {
		urls = append(urls, fd.URL)
	}
	return urls, nil
}

// Subscribers is the tenant's delivery target registry.
type Subscribers struct {
	store  storage.Storage
	tenant string
}

// Add registers a chat and reports whether it was not known before.
func (s *Subscribers) Add(ctx context.Context, chatID int64, title, kind string) (bool, error) {
	return s.store.AddSubscriber(ctx, model.Subscriber{
		TenantID: s.tenant,
		ChatID:   chatID,
		Title:    title,
		Kind:     kind,
	})
}

// Remove drops a chat from the registry.
func (s *Subscribers) Remove(ctx context.Context, chatID int64) error {
	return s.store.RemoveSubscriber(ctx, s.tenant, chatID)
}

// List returns a snapshot of the registered chats.
func (s *Subscribers) List(ctx context.Context) ([]model.Subscriber, error) {
	return s.store.ListSubscribers(ctx, s.tenant)
}

// Ledger records which entry links were already handed to delivery.
type Ledger struct {
	store  storage.Storage
	tenant string
}

// IsSeen reports whether link was marked before.
func (l *Ledger) IsSeen(ctx context.Context, link string) (bool, error) {
	return l.store.IsSeen(ctx, l.tenant, link)
}

// MarkSeen commits link to the ledger. It must return before delivery of link starts.
func (l *Ledger) MarkSeen(ctx context.Context, link string) error {
	return l.store.MarkSeen(ctx, l.tenant, link)
}

// Cutoff returns the time before which entries are treated as backlog:
// the newest seen-link timestamp when resuming, otherwise now.
func (l *Ledger) Cutoff(ctx context.Context, now time.Time) (time.Time, error) {
	latest, ok, err := l.store.LatestSeen(ctx, l.tenant)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return now, nil
	}
	return latest, nil
}

// Prune deletes records created before the given time and returns how many were removed.
func (l *Ledger) Prune(ctx context.Context, before time.Time) (int64, error) {
	return l.store.PruneSeen(ctx, l.tenant, before)
}
