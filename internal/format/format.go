// Package format turns raw feed entries into bounded Telegram MarkdownV2 messages.
package format

import (
	"fmt"
	urlpkg "net/url"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"rss_fanout/internal/model"
)

// specialChars are the characters Telegram MarkdownV2 reserves.
const specialChars = "\\_*[]()~`>#+-=|{}.!"

var escaper = func() *strings.Replacer {
	pairs := make([]string, 0, 2*len(specialChars))
	for _, c := range specialChars {
		pairs = append(pairs, string(c), "\\"+string(c))
	}
	return strings.NewReplacer(pairs...)
}()

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// Escape backslash-escapes every MarkdownV2 special character in s.
// It must be applied exactly once per field.
func Escape(s string) string {
	return escaper.Replace(s)
}

// SourceLabel derives a short source name from a link:
// "https://www.bbc.co.uk/news" becomes "Bbc".
func SourceLabel(link string) string {
	u, err := urlpkg.Parse(link)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	label, _, _ := strings.Cut(host, ".")
	if label == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(label)
	return string(unicode.ToUpper(r)) + label[size:]
}

// PlainText strips HTML tags and returns the text content.
func PlainText(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	return strings.TrimSpace(doc.Text())
}

// ImageURL picks the entry's illustration: the first media attachment with an
// image extension, then the first link typed image/*, then the first <img>
// in the summary with an image extension. It returns "" when none match.
func ImageURL(e model.Entry) string {
	for _, m := range e.Media {
		if hasImageExt(m) {
			return m
		}
	}
	for _, l := range e.Links {
		if l.Href != "" && strings.HasPrefix(strings.ToLower(l.Type), "image") {
			return l.Href
		}
	}
	if e.Summary == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(e.Summary))
	if err != nil {
		return ""
	}
	var found string
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if src, ok := s.Attr("src"); ok && hasImageExt(src) {
			found = src
			return false
		}
		return true
	})
	return found
}

func hasImageExt(raw string) bool {
	p := raw
	if u, err := urlpkg.Parse(raw); err == nil {
		p = u.Path
	}
	return imageExts[strings.ToLower(path.Ext(p))]
}

// Normalize composes the delivery message for e. When the full message exceeds
// maxLen runes the summary is dropped; if that is still too long ok is false and
// the entry must not be delivered. A maxLen of zero or less disables the limit.
func Normalize(e model.Entry, maxLen int) (msg model.Message, ok bool) {
	source := Escape(SourceLabel(e.Link))
	title := Escape(e.Title)
	summary := Escape(PlainText(e.Summary))
	link := Escape(e.Link)

	head := fmt.Sprintf("📰 *%s*\n\n*%s*", source, title)
	more := fmt.Sprintf("[Read more](%s)", link)

	text := head + "\n\n" + more
	if summary != "" {
		text = head + "\n\n" + summary + "\n\n" + more
	}
	if !fits(text, maxLen) {
		text = head + "\n\n" + more
		if !fits(text, maxLen) {
			return model.Message{}, false
		}
	}
	return model.Message{Text: text, ImageURL: ImageURL(e)}, true
}

func fits(s string, maxLen int) bool {
	return maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen
}
