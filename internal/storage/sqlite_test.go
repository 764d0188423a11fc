package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"rss_fanout/internal/model"
)

var ignoreFeedTS = cmpopts.IgnoreFields(model.Feed{}, "CreatedAt")
var ignoreSubTS = cmpopts.IgnoreFields(model.Subscriber{}, "CreatedAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFeeds(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	for _, url := range []string{"https://a.com/rss", "https://b.com/rss", "https://a.com/rss"} {
		if err := s.AddFeed(ctx, "t1", url); err != nil {
			t.Fatalf("add feed %s: %v", url, err)
		}
	}
	if err := s.AddFeed(ctx, "t2", "https://a.com/rss"); err != nil {
		t.Fatalf("add feed other tenant: %v", err)
	}

	got, err := s.ListFeeds(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []model.Feed{
		{TenantID: "t1", URL: "https://a.com/rss"},
		{TenantID: "t1", URL: "https://b.com/rss"},
	}
	if diff := cmp.Diff(want, got, ignoreFeedTS); diff != "" {
		t.Errorf("ListFeeds mismatch (-want +got):\n%s", diff)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	if err := s.RemoveFeed(ctx, "t1", "https://a.com/rss"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveFeed(ctx, "t1", "https://missing.com/rss"); err != nil {
		t.Fatalf("remove absent: %v", err)
	}

	got, err = s.ListFeeds(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want = []model.Feed{{TenantID: "t1", URL: "https://b.com/rss"}}
	if diff := cmp.Diff(want, got, ignoreFeedTS); diff != "" {
		t.Errorf("ListFeeds after remove mismatch (-want +got):\n%s", diff)
	}

	other, err := s.ListFeeds(ctx, "t2")
	if err != nil {
		t.Fatalf("list other: %v", err)
	}
	if diff := cmp.Diff(1, len(other)); diff != "" {
		t.Errorf("other tenant feeds (-want +got):\n%s", diff)
	}
}

func TestSubscribers(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	tests := []struct {
		name        string
		sub         model.Subscriber
		wantCreated bool
	}{
		{
			name:        "new group",
			sub:         model.Subscriber{TenantID: "t1", ChatID: -100, Title: "News", Kind: model.ChatSupergroup},
			wantCreated: true,
		},
		{
			name:        "second group",
			sub:         model.Subscriber{TenantID: "t1", ChatID: -200, Title: "Chat", Kind: model.ChatGroup},
			wantCreated: true,
		},
		{
			name:        "duplicate keeps first title",
			sub:         model.Subscriber{TenantID: "t1", ChatID: -100, Title: "Renamed", Kind: model.ChatSupergroup},
			wantCreated: false,
		},
		{
			name:        "same chat other tenant",
			sub:         model.Subscriber{TenantID: "t2", ChatID: -100, Title: "News", Kind: model.ChatSupergroup},
			wantCreated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created, err := s.AddSubscriber(ctx, tt.sub)
			if err != nil {
				t.Fatalf("add: %v", err)
			}
			if diff := cmp.Diff(tt.wantCreated, created); diff != "" {
				t.Errorf("created mismatch (-want +got):\n%s", diff)
			}
		})
	}

	got, err := s.ListSubscribers(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []model.Subscriber{
		{TenantID: "t1", ChatID: -100, Title: "News", Kind: model.ChatSupergroup},
		{TenantID: "t1", ChatID: -200, Title: "Chat", Kind: model.ChatGroup},
	}
	if diff := cmp.Diff(want, got, ignoreSubTS); diff != "" {
		t.Errorf("ListSubscribers mismatch (-want +got):\n%s", diff)
	}

	if err := s.RemoveSubscriber(ctx, "t1", -100); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveSubscriber(ctx, "t1", -999); err != nil {
		t.Fatalf("remove absent: %v", err)
	}

	got, _ = s.ListSubscribers(ctx, "t1")
	want = []model.Subscriber{{TenantID: "t1", ChatID: -200, Title: "Chat", Kind: model.ChatGroup}}
	if diff := cmp.Diff(want, got, ignoreSubTS); diff != "" {
		t.Errorf("ListSubscribers after remove mismatch (-want +got):\n%s", diff)
	}

	other, _ := s.ListSubscribers(ctx, "t2")
	if diff := cmp.Diff(1, len(other)); diff != "" {
		t.Errorf("other tenant untouched (-want +got):\n%s", diff)
	}
}

func TestSeenLinks(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if _, ok, err := s.LatestSeen(ctx, "t1"); err != nil || ok {
		t.Fatalf("LatestSeen on empty ledger = ok %v, err %v; want false, nil", ok, err)
	}

	seen, err := s.IsSeen(ctx, "t1", "https://e.com/1")
	if err != nil {
		t.Fatalf("is seen: %v", err)
	}
	if seen {
		t.Fatal("expected link to be unseen")
	}

	before := time.Now().UTC().Add(-time.Second)
	if err := s.MarkSeen(ctx, "t1", "https://e.com/1"); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	// Duplicate insert should not error
	if err := s.MarkSeen(ctx, "t1", "https://e.com/1"); err != nil {
		t.Fatalf("mark seen duplicate: %v", err)
	}

	seen, err = s.IsSeen(ctx, "t1", "https://e.com/1")
	if err != nil {
		t.Fatalf("is seen: %v", err)
	}
	if !seen {
		t.Error("expected link to be seen")
	}

	seen, _ = s.IsSeen(ctx, "t2", "https://e.com/1")
	if seen {
		t.Error("seen-links must be scoped to the tenant")
	}

	latest, ok, err := s.LatestSeen(ctx, "t1")
	if err != nil {
		t.Fatalf("latest seen: %v", err)
	}
	if !ok {
		t.Fatal("expected a latest seen timestamp")
	}
	if latest.Before(before.Truncate(time.Second)) {
		t.Errorf("latest %v is before test start %v", latest, before)
	}
}

func TestPruneSeen(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_links (tenant_id, link, created_at) VALUES
		 ('t1', 'old', '2020-01-01T00:00:00Z'),
		 ('t2', 'old', '2020-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.MarkSeen(ctx, "t1", "fresh"); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	n, err := s.PruneSeen(ctx, "t1", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if diff := cmp.Diff(int64(1), n); diff != "" {
		t.Errorf("pruned count (-want +got):\n%s", diff)
	}

	for _, tt := range []struct {
		tenant, link string
		want         bool
	}{
		{"t1", "old", false},
		{"t1", "fresh", true},
		{"t2", "old", true},
	} {
		got, err := s.IsSeen(ctx, tt.tenant, tt.link)
		if err != nil {
			t.Fatalf("is seen: %v", err)
		}
		if got != tt.want {
			t.Errorf("IsSeen(%s, %s) = %v, want %v", tt.tenant, tt.link, got, tt.want)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	var wg sync.WaitGroup
	for i := range 8 {
		tenant := fmt.Sprintf("t%d", i%2)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 20 {
				link := fmt.Sprintf("https://e.com/%d", j)
				if err := s.MarkSeen(ctx, tenant, link); err != nil {
					t.Errorf("mark seen: %v", err)
					return
				}
				if err := s.AddFeed(ctx, tenant, "https://e.com/rss"); err != nil {
					t.Errorf("add feed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, tenant := range []string{"t0", "t1"} {
		var count int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM seen_links WHERE tenant_id = ?`, tenant).Scan(&count); err != nil {
			t.Fatalf("count: %v", err)
		}
		if diff := cmp.Diff(20, count); diff != "" {
			t.Errorf("seen links for %s (-want +got):\n%s", tenant, diff)
		}
		feeds, _ := s.ListFeeds(ctx, tenant)
		if diff := cmp.Diff(1, len(feeds)); diff != "" {
			t.Errorf("feeds for %s (-want +got):\n%s", tenant, diff)
		}
	}
}

// Ensure the Storage interface is satisfied.
var _ Storage = (*SQLite)(nil)
