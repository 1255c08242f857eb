package websearch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const articlePage = `<!DOCTYPE html>
<html>
<head><title>Gold hits record high</title></head>
<body>
<nav><a href="/">Home</a> <a href="/markets">Markets</a></nav>
<article>
<h1>Gold hits record high</h1>
<p>Gold prices surged to a record high on Thursday as investors sought safe
haven assets amid renewed inflation concerns. The spot price of gold touched
an all-time peak before settling slightly lower in afternoon trading, capping
a rally that has seen the metal gain ground for six consecutive sessions.</p>
<p>Analysts attributed the move to a combination of central bank purchases,
a weakening dollar, and persistent geopolitical tensions. Several investment
banks raised their year-end price targets, with some projecting further gains
if real yields continue to decline over the coming quarters.</p>
<p>Silver and platinum also advanced, though both metals remain well below
their historical peaks. Mining shares rallied across major exchanges, and
exchange traded funds backed by physical bullion recorded their largest
weekly inflows in over a year, according to industry data.</p>
</article>
<footer>Subscribe to our newsletter</footer>
</body>
</html>`

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=UTF-8")
		_, _ = io.WriteString(w, articlePage)
	}))
	t.Cleanup(srv.Close)

	client := New(Config{HTTPClient: srv.Client(), Logger: discardLogger()})

	text, err := client.Fetch(context.Background(), srv.URL+"/news/gold")
	if err != nil {
		t.Fatalf("Fetch() unexpected error: %v", err)
	}
	if !strings.Contains(text, "record high") {
		t.Errorf("Fetch() content missing article text:\n%s", text)
	}
	if strings.Contains(text, "<p>") {
		t.Errorf("Fetch() content contains markup:\n%s", text)
	}
}

func TestFetchRejectsBadURL(t *testing.T) {
	client := New(Config{Logger: discardLogger()})

	for _, bad := range []string{"", "not a url", "/relative/path", "example.com/no-scheme"} {
		if _, err := client.Fetch(context.Background(), bad); err == nil {
			t.Errorf("Fetch(%q) expected error, got nil", bad)
		}
	}
}

// TestFetchGuardsInternalTargets exercises the default construction path,
// where result URLs are screened before any request goes out.
func TestFetchGuardsInternalTargets(t *testing.T) {
	client := New(Config{Logger: discardLogger()})

	tests := []struct {
		name string
		url  string
	}{
		{name: "metadata endpoint", url: "http://169.254.169.254/latest/meta-data/"},
		{name: "loopback", url: "http://127.0.0.1:8080/admin"},
		{name: "localhost", url: "http://localhost/admin"},
		{name: "private range", url: "http://192.168.1.1/router"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := client.Fetch(context.Background(), tt.url); err == nil {
				t.Errorf("Fetch(%q) expected error, got nil", tt.url)
			}
		})
	}
}

func TestFetchUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client := New(Config{HTTPClient: srv.Client(), Logger: discardLogger()})
	if _, err := client.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatal("Fetch() on HTTP 404 expected error, got nil")
	}
}
