package websearch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// resultBlock renders one DuckDuckGo HTML result in the shape the live
// endpoint serves.
func resultBlock(title, href, snippet string) string {
	return fmt.Sprintf(`
<div class="result results_links results_links_deep web-result">
  <div class="links_main links_deep result__body">
    <h2 class="result__title">
      <a rel="nofollow" class="result__a" href="%s">%s</a>
    </h2>
    <a class="result__snippet" href="%s">%s</a>
  </div>
</div>`, href, title, href, snippet)
}

func searchPage(blocks ...string) string {
	return `<!DOCTYPE html><html><body><div class="serp__results"><div id="links" class="results">` +
		strings.Join(blocks, "\n") +
		`</div></div></body></html>`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newSearchServer serves the given HTML for /html/ requests and returns a
// getter for the last query received.
func newSearchServer(t *testing.T, html string) (*Client, func() string) {
	t.Helper()

	var mu sync.Mutex
	var lastQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("/html/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		lastQuery = r.URL.Query().Get("q")
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=UTF-8")
		_, _ = io.WriteString(w, html)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := New(Config{
		Endpoint:   srv.URL,
		HTTPClient: srv.Client(),
		Logger:     discardLogger(),
	})
	return client, func() string {
		mu.Lock()
		defer mu.Unlock()
		return lastQuery
	}
}

func TestSearch(t *testing.T) {
	redirect := "//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fbitcoin&amp;rut=abc123"
	page := searchPage(
		resultBlock("Bitcoin price today", redirect, "Bitcoin climbed past $100,000 this week."),
		resultBlock("", "", ""), // ad block, no content
		resultBlock("BTC analysis", "https://example.org/btc", "Analysts expect volatility."),
	)
	client, lastQuery := newSearchServer(t, page)

	results, err := client.Search(context.Background(), "bitcoin price")
	if err != nil {
		t.Fatalf("Search() unexpected error: %v", err)
	}
	if got := lastQuery(); got != "bitcoin price" {
		t.Errorf("query sent = %q, want %q", got, "bitcoin price")
	}
	if len(results) != 2 {
		t.Fatalf("Search() returned %d results, want 2:\n%+v", len(results), results)
	}

	first := results[0]
	if first.Title != "Bitcoin price today" {
		t.Errorf("results[0].Title = %q", first.Title)
	}
	if first.URL != "https://example.com/bitcoin" {
		t.Errorf("results[0].URL = %q, want unwrapped redirect target", first.URL)
	}
	if first.Snippet != "Bitcoin climbed past $100,000 this week." {
		t.Errorf("results[0].Snippet = %q", first.Snippet)
	}

	if results[1].URL != "https://example.org/btc" {
		t.Errorf("results[1].URL = %q", results[1].URL)
	}
}

func TestSearchCapsResults(t *testing.T) {
	blocks := make([]string, 8)
	for i := range blocks {
		blocks[i] = resultBlock(
			fmt.Sprintf("Result %d", i),
			fmt.Sprintf("https://example.com/%d", i),
			"snippet",
		)
	}
	client, _ := newSearchServer(t, searchPage(blocks...))

	results, err := client.Search(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Search() unexpected error: %v", err)
	}
	if len(results) != DefaultMaxResults {
		t.Errorf("Search() returned %d results, want %d", len(results), DefaultMaxResults)
	}
	if results[0].Title != "Result 0" {
		t.Errorf("results[0].Title = %q, want document order preserved", results[0].Title)
	}
}

func TestSearchTruncatesSnippets(t *testing.T) {
	long := strings.Repeat("x", maxSnippetLen+500)
	client, _ := newSearchServer(t, searchPage(resultBlock("Long", "https://example.com", long)))

	results, err := client.Search(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Search() unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search() returned %d results, want 1", len(results))
	}
	if got := len([]rune(results[0].Snippet)); got != maxSnippetLen {
		t.Errorf("snippet length = %d runes, want %d", got, maxSnippetLen)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	client := New(Config{Logger: discardLogger()})
	if _, err := client.Search(context.Background(), "   "); err == nil {
		t.Fatal("Search() with blank query expected error, got nil")
	}
}

func TestSearchUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	client := New(Config{Endpoint: srv.URL, HTTPClient: srv.Client(), Logger: discardLogger()})
	if _, err := client.Search(context.Background(), "anything"); err == nil {
		t.Fatal("Search() on HTTP 403 expected error, got nil")
	}
}

func TestSearchNoResults(t *testing.T) {
	client, _ := newSearchServer(t, searchPage())

	results, err := client.Search(context.Background(), "gibberish")
	if err != nil {
		t.Fatalf("Search() unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Search() returned %d results, want 0", len(results))
	}
}

func TestCleanResultURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		href string
		want string
	}{
		{
			name: "redirect unwrapped",
			href: "//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage&rut=abc",
			want: "https://example.com/page",
		},
		{
			name: "absolute passthrough",
			href: "https://example.org/btc",
			want: "https://example.org/btc",
		},
		{
			name: "protocol relative",
			href: "//example.com/page",
			want: "https://example.com/page",
		},
		{
			name: "empty",
			href: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := cleanResultURL(tt.href); got != tt.want {
				t.Errorf("cleanResultURL(%q) = %q, want %q", tt.href, got, tt.want)
			}
		})
	}
}
