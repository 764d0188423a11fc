// Package scheduler runs the per-tenant feed loop: fetch every subscribed feed,
// drop backlog and already seen entries, and fan the rest out to subscribers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rss_fanout/internal/delivery"
	"rss_fanout/internal/format"
	"rss_fanout/internal/model"
	"rss_fanout/internal/tenant"
)

// Source parses a feed URL into entries.
type Source interface {
	Parse(ctx context.Context, url string) ([]model.Entry, error)
}

// Deliverer sends one message to one chat.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, msg model.Message) delivery.Outcome
}

type state string

const (
	stateIdle       state = "idle"
	stateFetching   state = "fetching"
	stateFiltering  state = "filtering"
	stateDelivering state = "delivering"
	stateSleeping   state = "sleeping"
)

// Scheduler is the feed loop of a single tenant.
type Scheduler struct {
	tenant     *tenant.Context
	source     Source
	sender     Deliverer
	log        *slog.Logger
	startDelay time.Duration
	now        func() time.Time

	cutoff   time.Time
	failures map[string]int
}

// New creates a Scheduler for tc.
func New(tc *tenant.Context, source Source, sender Deliverer, log *slog.Logger) *Scheduler {
	return &Scheduler{
		tenant:   tc,
		source:   source,
		sender:   sender,
		log:      log.With("tenant", tc.ID),
		now:      time.Now,
		failures: make(map[string]int),
	}
}

// SetStartDelay delays the first cycle, used to stagger tenants at startup.
func (s *Scheduler) SetStartDelay(d time.Duration) {
	s.startDelay = d
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.setState(stateIdle)
	if s.startDelay > 0 {
		s.log.Info("delaying first cycle", "delay", s.startDelay)
		if !sleep(ctx, s.startDelay) {
			return
		}
	}

	cutoff, err := s.tenant.Ledger.Cutoff(ctx, s.now())
	if err != nil {
		s.log.Error("resolve cutoff, using now", "error", err)
		cutoff = s.now()
	}
	s.cutoff = cutoff
	s.log.Info("scheduler started", "cutoff", cutoff.Format(time.RFC3339), "interval", s.tenant.Policy.CheckInterval)

	for {
		s.cycle(ctx)
		if ctx.Err() != nil {
			return
		}
		s.setState(stateSleeping)
		if !sleep(ctx, s.tenant.Policy.CheckInterval) {
			return
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	urls, err := s.tenant.Feeds.List(ctx)
	if err != nil {
		s.log.Error("list feeds", "error", err)
		return
	}
	s.forgetRemovedFeeds(urls)

	now := s.now()
	cutoff := s.cutoff
	retention := s.tenant.Policy.SeenRetention
	// Ledger rows older than the retention are pruned, so entries published
	// before the retention window can no longer be checked against the ledger.
	if retention > 0 && now.Add(-retention).After(cutoff) {
		cutoff = now.Add(-retention)
	}

	for _, url := range urls {
		if ctx.Err() != nil {
			return
		}
		s.processFeed(ctx, url, cutoff)
	}

	if retention > 0 {
		n, err := s.tenant.Ledger.Prune(ctx, now.Add(-retention))
		if err != nil {
			s.log.Error("prune seen links", "error", err)
		} else if n > 0 {
			s.log.Info("pruned seen links", "count", n)
		}
	}
}

func (s *Scheduler) processFeed(ctx context.Context, url string, cutoff time.Time) {
	s.setState(stateFetching, "url", url)
	entries, err := s.source.Parse(ctx, url)
	if err == nil && len(entries) == 0 {
		err = errors.New("feed has no entries")
	}
	if err != nil {
		s.log.Error("fetch feed", "url", url, "error", err)
		s.recordFailure(ctx, url, err)
		return
	}
	delete(s.failures, url)

	if limit := s.tenant.Policy.MaxEntries; limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	sent := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if s.processEntry(ctx, e, cutoff) {
			sent++
		}
	}
	if sent > 0 {
		s.log.Info("delivered entries", "url", url, "count", sent)
	}
}

// processEntry reports whether the entry was handed to delivery.
func (s *Scheduler) processEntry(ctx context.Context, e model.Entry, cutoff time.Time) bool {
	s.setState(stateFiltering, "link", e.Link)
	if e.Link == "" {
		return false
	}
	if e.PublishedAt == nil {
		// Undated entries rely on the ledger alone, which pruning empties.
		if s.tenant.Policy.SeenRetention > 0 {
			s.log.Debug("skipping undated entry, seen retention is on", "link", e.Link)
			return false
		}
	} else if e.PublishedAt.Before(cutoff) {
		return false
	}
	seen, err := s.tenant.Ledger.IsSeen(ctx, e.Link)
	if err != nil {
		s.log.Error("check seen", "link", e.Link, "error", err)
		return false
	}
	if seen {
		return false
	}

	subs, err := s.tenant.Subscribers.List(ctx)
	if err != nil {
		s.log.Error("list subscribers", "error", err)
		return false
	}
	if err := s.tenant.Ledger.MarkSeen(ctx, e.Link); err != nil {
		s.log.Error("mark seen", "link", e.Link, "error", err)
		return false
	}

	msg, ok := format.Normalize(e, s.tenant.Policy.MaxMessageLength)
	if !ok {
		s.log.Warn("entry too long, skipped", "link", e.Link)
		return false
	}

	s.setState(stateDelivering, "link", e.Link, "targets", len(subs))
	for _, sub := range subs {
		if ctx.Err() != nil {
			return true
		}
		if s.sender.Deliver(ctx, sub.ChatID, msg) != delivery.Rejected {
			continue
		}
		if err := s.tenant.Subscribers.Remove(ctx, sub.ChatID); err != nil {
			s.log.Error("remove rejected subscriber", "chat_id", sub.ChatID, "error", err)
			continue
		}
		s.log.Info("removed rejected subscriber", "chat_id", sub.ChatID, "title", sub.Title)
	}
	return true
}

// forgetRemovedFeeds drops failure counters of feeds no longer subscribed.
func (s *Scheduler) forgetRemovedFeeds(urls []string) {
	current := make(map[string]bool, len(urls))
	for _, u := range urls {
		current[u] = true
	}
	for u := range s.failures {
		if !current[u] {
			delete(s.failures, u)
		}
	}
}

// recordFailure counts consecutive failing cycles and tells the owner once the
// threshold is reached.
func (s *Scheduler) recordFailure(ctx context.Context, url string, cause error) {
	s.failures[url]++
	threshold := s.tenant.Policy.FailureThreshold
	if threshold <= 0 || s.failures[url] != threshold {
		return
	}
	text := fmt.Sprintf("⚠️ *Feed failing*\n\n%s\n\nFailed %d checks in a row: %s",
		format.Escape(url), threshold, format.Escape(cause.Error()))
	if out := s.sender.Deliver(ctx, s.tenant.OwnerID, model.Message{Text: text}); out != delivery.Delivered {
		s.log.Warn("notify owner about failing feed", "url", url, "outcome", out)
	}
}

func (s *Scheduler) setState(st state, args ...any) {
	s.log.Debug("scheduler state", append([]any{"state", string(st)}, args...)...)
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
