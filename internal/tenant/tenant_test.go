package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rss_fanout/internal/config"
	"rss_fanout/internal/storage"
)

func newTestTenant(t *testing.T, id string) (*Context, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	tc := New(config.Tenant{ID: id, OwnerID: 1, Policy: config.DefaultPolicy()}, store)
	return tc, store
}

func TestFeedsIdempotent(t *testing.T) {
	ctx := context.Background()
	tc, _ := newTestTenant(t, "t1")

	for range 2 {
		if err := tc.Feeds.Add(ctx, "https://a.com/rss"); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	got, err := tc.Feeds.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"https://a.com/rss"}, got); diff != "" {
		t.Errorf("feeds after double add (-want +got):\n%s", diff)
	}

	if err := tc.Feeds.Remove(ctx, "https://absent.com/rss"); err != nil {
		t.Errorf("remove absent returned error: %v", err)
	}
	if err := tc.Feeds.Remove(ctx, "https://a.com/rss"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ = tc.Feeds.List(ctx)
	if diff := cmp.Diff([]string{}, got); diff != "" {
		t.Errorf("feeds after remove (-want +got):\n%s", diff)
	}
}

func TestSubscribersScopedToTenant(t *testing.T) {
	ctx := context.Background()
	tc, store := newTestTenant(t, "t1")
	other := New(config.Tenant{ID: "t2", OwnerID: 1}, store)

	created, err := tc.Subscribers.Add(ctx, -1, "Group", "group")
	if err != nil || !created {
		t.Fatalf("add = %v, %v; want true, nil", created, err)
	}
	created, err = tc.Subscribers.Add(ctx, -1, "Group", "group")
	if err != nil || created {
		t.Fatalf("duplicate add = %v, %v; want false, nil", created, err)
	}

	subs, _ := other.Subscribers.List(ctx)
	if diff := cmp.Diff(0, len(subs)); diff != "" {
		t.Errorf("other tenant subscribers (-want +got):\n%s", diff)
	}

	if err := tc.Subscribers.Remove(ctx, -1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	subs, _ = tc.Subscribers.List(ctx)
	if diff := cmp.Diff(0, len(subs)); diff != "" {
		t.Errorf("subscribers after remove (-want +got):\n%s", diff)
	}
}

func TestLedgerCutoff(t *testing.T) {
	ctx := context.Background()
	tc, _ := newTestTenant(t, "t1")
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

	got, err := tc.Ledger.Cutoff(ctx, now)
	if err != nil {
		t.Fatalf("cutoff: %v", err)
	}
	if diff := cmp.Diff(now, got); diff != "" {
		t.Errorf("fresh ledger cutoff (-want +got):\n%s", diff)
	}

	before := time.Now().UTC().Truncate(time.Second)
	if err := tc.Ledger.MarkSeen(ctx, "https://e.com/1"); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	got, err = tc.Ledger.Cutoff(ctx, now)
	if err != nil {
		t.Fatalf("cutoff: %v", err)
	}
	if got.Before(before) || got.After(now) {
		t.Errorf("resumed cutoff %v should be the latest seen time (>= %v)", got, before)
	}
}

func TestLedgerPrune(t *testing.T) {
	ctx := context.Background()
	tc, _ := newTestTenant(t, "t1")

	if err := tc.Ledger.MarkSeen(ctx, "https://e.com/1"); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	n, err := tc.Ledger.Prune(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if diff := cmp.Diff(int64(0), n); diff != "" {
		t.Errorf("fresh records must survive (-want +got):\n%s", diff)
	}
	seen, _ := tc.Ledger.IsSeen(ctx, "https://e.com/1")
	if !seen {
		t.Error("expected link to stay seen")
	}
}
