package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// Fetch retrieves a page and returns its readable text content, stripped of
// navigation, ads and markup. The body read is capped at 10MB. Targets are
// screened against the SSRF guard unless the client was built with a custom
// HTTP client.
func (c *Client) Fetch(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid fetch URL %q", pageURL)
	}
	if c.guard != nil {
		if err := c.guard.Validate(pageURL); err != nil {
			return "", fmt.Errorf("unsafe fetch target: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.fetchc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxBodyBytes), parsed)
	if err != nil {
		return "", fmt.Errorf("extract content: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("no readable content at %s", pageURL)
	}

	c.logger.DebugContext(ctx, "page fetched",
		"url", pageURL, "title", article.Title, "chars", len(text))
	return text, nil
}
