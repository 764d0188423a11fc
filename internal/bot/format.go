package bot

import (
	"fmt"
	"strings"

	"rss_fanout/internal/format"
	"rss_fanout/internal/model"
)

// FormatFeedList renders the numbered feed list as MarkdownV2.
func FormatFeedList(urls []string) string {
	var b strings.Builder
	b.WriteString("📚 *Feeds*\n")
	for i, url := range urls {
		fmt.Fprintf(&b, "\n%d\\. %s", i+1, format.Escape(url))
	}
	return b.String()
}

// FormatStats renders the /stats reply as MarkdownV2.
func FormatStats(groups, feeds int) string {
	return fmt.Sprintf("📊 *Bot Stats*\n\n👥 Groups: *%d*\n📰 Feeds: *%d*", groups, feeds)
}

// FormatNewGroup renders the owner notice for a newly saved group as MarkdownV2.
func FormatNewGroup(sub model.Subscriber) string {
	return fmt.Sprintf("🆕 *New Group Saved*\n\n*Title:* %s\n*Chat ID:* `%d`\n*Type:* `%s`",
		format.Escape(sub.Title), sub.ChatID, sub.Kind)
}
