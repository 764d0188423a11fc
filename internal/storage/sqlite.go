package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"rss_fanout/internal/model"
	"rss_fanout/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases
	// shared between all callers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// AddFeed subscribes the tenant to url. Adding an existing feed is a no-op.
func (s *SQLite) AddFeed(ctx context.Context, tenantID, url string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feeds (tenant_id, url, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (tenant_id, url) DO NOTHING`,
		tenantID, url, now(),
	)
	if err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	return nil
}

// RemoveFeed deletes a feed. Removing an absent feed is a no-op.
func (s *SQLite) RemoveFeed(ctx context.Context, tenantID, url string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM feeds WHERE tenant_id = ? AND url = ?`, tenantID, url,
	)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	return nil
}

// ListFeeds returns a snapshot of the tenant's feeds.
func (s *SQLite) ListFeeds(ctx context.Context, tenantID string) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, url, created_at FROM feeds WHERE tenant_id = ? ORDER BY rowid`, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []model.Feed
	for rows.Next() {
		var f model.Feed
		var created string
		if err := rows.Scan(&f.TenantID, &f.URL, &created); err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		f.CreatedAt, _ = time.Parse(timeLayout, created)
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// AddSubscriber registers a delivery target if it is not known yet.
func (s *SQLite) AddSubscriber(ctx context.Context, sub model.Subscriber) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers (tenant_id, chat_id, title, kind, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, chat_id) DO NOTHING`,
		sub.TenantID, sub.ChatID, sub.Title, sub.Kind, now(),
	)
	if err != nil {
		return false, fmt.Errorf("insert subscriber: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// RemoveSubscriber deletes a delivery target. Removing an absent one is a no-op.
func (s *SQLite) RemoveSubscriber(ctx context.Context, tenantID string, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscribers WHERE tenant_id = ? AND chat_id = ?`, tenantID, chatID,
	)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	return nil
}

// ListSubscribers returns a snapshot of the tenant's delivery targets.
func (s *SQLite) ListSubscribers(ctx context.Context, tenantID string) ([]model.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, chat_id, title, kind, created_at FROM subscribers
		 WHERE tenant_id = ? ORDER BY rowid`, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subscriber
	for rows.Next() {
		var sub model.Subscriber
		var created string
		if err := rows.Scan(&sub.TenantID, &sub.ChatID, &sub.Title, &sub.Kind, &created); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		sub.CreatedAt, _ = time.Parse(timeLayout, created)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// MarkSeen records that a link is about to be delivered.
func (s *SQLite) MarkSeen(ctx context.Context, tenantID, link string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_links (tenant_id, link, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (tenant_id, link) DO NOTHING`,
		tenantID, link, now(),
	)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// IsSeen checks whether a link has already been recorded for the tenant.
func (s *SQLite) IsSeen(ctx context.Context, tenantID, link string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_links WHERE tenant_id = ? AND link = ?`,
		tenantID, link,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return count > 0, nil
}

// LatestSeen returns the newest seen-link timestamp of the tenant.
func (s *SQLite) LatestSeen(ctx context.Context, tenantID string) (time.Time, bool, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM seen_links WHERE tenant_id = ?`, tenantID,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest seen: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(timeLayout, latest.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse latest seen %q: %w", latest.String, err)
	}
	return t, true, nil
}

// PruneSeen deletes seen-link records created before the given time.
func (s *SQLite) PruneSeen(ctx context.Context, tenantID string, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_links WHERE tenant_id = ? AND created_at < ?`,
		tenantID, before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}
