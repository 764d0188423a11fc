// Package model defines the domain types used across the application.
package model

import "time"

// Feed is a subscribed RSS/Atom URL owned by a tenant.
type Feed struct {
	TenantID  string
	URL       string
	CreatedAt time.Time
}

// Chat kinds reported by Telegram.
const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSupergroup = "supergroup"
	ChatChannel    = "channel"
)

// Subscriber is a chat that receives new feed entries.
type Subscriber struct {
	TenantID  string
	ChatID    int64
	Title     string
	Kind      string
	CreatedAt time.Time
}

// Link is a typed entry-level link, such as an enclosure.
type Link struct {
	Href string
	Type string
}

// Entry is a single item parsed from a feed.
type Entry struct {
	Link        string
	Title       string
	Summary     string // may contain HTML
	PublishedAt *time.Time
	Media       []string // media attachment URLs in document order
	Links       []Link
}

// Message is a normalized entry ready for delivery.
// An empty ImageURL means a plain text send.
type Message struct {
	Text     string
	ImageURL string
}
