// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"rss_fanout/internal/model"
)

// Storage is the interface for all persistence operations.
// Every write is idempotent and safe to call concurrently from all tenants.
type Storage interface {
	AddFeed(ctx context.Context, tenantID, url string) error
	RemoveFeed(ctx context.Context, tenantID, url string) error
	ListFeeds(ctx context.Context, tenantID string) ([]model.Feed, error)

	// AddSubscriber inserts the chat if absent and reports whether it was new.
	AddSubscriber(ctx context.Context, sub model.Subscriber) (bool, error)
	RemoveSubscriber(ctx context.Context, tenantID string, chatID int64) error
	ListSubscribers(ctx context.Context, tenantID string) ([]model.Subscriber, error)

	IsSeen(ctx context.Context, tenantID, link string) (bool, error)
	MarkSeen(ctx context.Context, tenantID, link string) error
	// LatestSeen returns the creation time of the newest seen-link record.
	// ok is false when the tenant has none.
	LatestSeen(ctx context.Context, tenantID string) (t time.Time, ok bool, err error)
	PruneSeen(ctx context.Context, tenantID string, before time.Time) (int64, error)

	Close() error
}
