// Package feed downloads and parses RSS/Atom feeds into entries.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"rss_fanout/internal/model"
)

const maxBodySize = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: 30 * time.Second,
	}
}

// Parse downloads the feed at url and returns its entries in document order.
// Any network, status or syntax problem is reported as an error.
func (f *Fetcher) Parse(ctx context.Context, url string) ([]model.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "RSSFanoutBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	entries := make([]model.Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		entries = append(entries, ToEntry(item))
	}
	return entries, nil
}

// ToEntry converts a parsed feed item into a domain entry.
func ToEntry(item *gofeed.Item) model.Entry {
	e := model.Entry{
		Link:        item.Link,
		Title:       item.Title,
		Summary:     item.Description,
		PublishedAt: item.PublishedParsed,
	}
	if e.Summary == "" {
		e.Summary = item.Content
	}
	if e.PublishedAt == nil {
		e.PublishedAt = item.UpdatedParsed
	}

	for _, c := range item.Extensions["media"]["content"] {
		if u := c.Attrs["url"]; u != "" {
			e.Media = append(e.Media, u)
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		e.Media = append(e.Media, item.Image.URL)
	}

	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		e.Links = append(e.Links, model.Link{Href: enc.URL, Type: enc.Type})
	}
	return e
}
