// Package websearch provides web search through the DuckDuckGo HTML endpoint
// and readable-content extraction for fetched pages. It backs the websearch
// query intent and the agent's web tools; when search is disabled in config
// the package is simply never constructed. Result pages are fetched through
// an SSRF guard, since their URLs come from search output rather than
// configuration.
package websearch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/finquery/finquery/internal/security"
)

const (
	DefaultEndpoint   = "https://html.duckduckgo.com"
	DefaultMaxResults = 5
	DefaultTimeout    = 10 * time.Second

	// maxSnippetLen bounds one result snippet in runes.
	maxSnippetLen = 2000

	// maxBodyBytes bounds how much of any response body is read.
	maxBodyBytes = 10 << 20

	// The HTML endpoint serves a captcha page to clients without a browser
	// user agent.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Config holds search client configuration. Every field has a default.
type Config struct {
	Endpoint   string        // DefaultEndpoint when empty
	MaxResults int           // DefaultMaxResults when zero
	Timeout    time.Duration // DefaultTimeout when zero
	Logger     *slog.Logger  // slog.Default() when nil

	// HTTPClient, when set, carries both endpoint and page traffic and
	// replaces the guarded fetch transport; the caller owns the policy.
	// Nil means http.DefaultClient for the endpoint and an SSRF-guarded
	// client for page fetches.
	HTTPClient *http.Client
}

// Client performs web searches and page fetches. Safe for concurrent use.
type Client struct {
	endpoint   string
	maxResults int
	timeout    time.Duration
	httpc      *http.Client // search endpoint traffic
	fetchc     *http.Client // result page traffic
	guard      *security.URL
	logger     *slog.Logger
}

// New creates a search client.
func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		maxResults: cfg.MaxResults,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
	}
	if cfg.HTTPClient != nil {
		c.httpc = cfg.HTTPClient
		c.fetchc = cfg.HTTPClient
		return c
	}
	// The endpoint deliberately stays unguarded: a self-hosted instance on a
	// private address is a normal deployment. Only pages named by results go
	// through the guard.
	c.httpc = http.DefaultClient
	c.guard = security.NewURL()
	c.fetchc = &http.Client{
		Transport:     c.guard.SafeTransport(),
		CheckRedirect: c.guard.CheckRedirect,
	}
	return c
}

// Search runs one query against the HTML endpoint and parses the result
// blocks. At most MaxResults results are returned; fewer (or none) is not an
// error.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.endpoint + "/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	results, err := parseResults(io.LimitReader(resp.Body, maxBodyBytes), c.maxResults)
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	c.logger.DebugContext(ctx, "web search completed",
		"query", query, "results", len(results))
	return results, nil
}

// parseResults walks the .result blocks of a DuckDuckGo HTML page.
func parseResults(r io.Reader, limit int) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find(".result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(sel.Find(".result__snippet").First().Text())

		// Ad and layout blocks carry the .result class but no content.
		if title == "" && snippet == "" {
			return true
		}

		results = append(results, Result{
			Title:   title,
			URL:     cleanResultURL(href),
			Snippet: truncate(snippet, maxSnippetLen),
		})
		return len(results) < limit
	})
	return results, nil
}

// cleanResultURL unwraps DuckDuckGo's redirect links (the target hides in the
// uddg query parameter) and normalizes protocol-relative hrefs.
func cleanResultURL(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && u.Host != "" {
		u.Scheme = "https"
		return u.String()
	}
	return href
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
