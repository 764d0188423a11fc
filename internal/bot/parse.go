package bot

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ParseFeedURL extracts the feed URL from a command argument string.
func ParseFeedURL(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", errors.New("feed URL is required")
	}
	raw := fields[0]
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return raw, nil
}
