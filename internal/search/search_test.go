package search

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"seolens/internal/config"
)

const resultsPage = `<html><body>
<a class="result__a" href="https://duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fguide&rut=abc">Guide</a>
<a class="result__a" href="https://plain.example.org/page">Plain</a>
<a class="result__a" href="//protocol.example.net/relative">Protocol relative</a>
<a class="result__a" href="javascript:void(0)">Junk</a>
<a class="result__a" href="https://plain.example.org/page">Duplicate</a>
<a class="result__a" href="https://fourth.example.com/">Fourth</a>
<a href="https://not-a-result.example.com/">Other anchor</a>
</body></html>`

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*DuckDuckGo, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Default().Search
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := NewDuckDuckGo(cfg, server.Client(), "test-agent", logger)
	provider.endpoint = server.URL + "/html/"
	return provider, server
}

func TestSearchParsesAndValidatesResults(t *testing.T) {
	var gotQuery string
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		io.WriteString(w, resultsPage)
	})

	urls, err := provider.Search(context.Background(), "best coffee guide", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotQuery != "best coffee guide" {
		t.Errorf("query param: got %q", gotQuery)
	}

	want := []string{
		"https://example.com/guide",
		"https://plain.example.org/page",
		"https://protocol.example.net/relative",
		"https://fourth.example.com/",
	}
	if len(urls) != len(want) {
		t.Fatalf("results: got %v, want %v", urls, want)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("result %d: got %q, want %q", i, urls[i], want[i])
		}
	}
	for _, u := range urls {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			t.Errorf("invalid result url %q", u)
		}
	}
}

func TestSearchHonorsResultLimit(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, resultsPage)
	})

	urls, err := provider.Search(context.Background(), "coffee", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(urls) != 2 {
		t.Errorf("expected 2 results, got %d", len(urls))
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, resultsPage)
	})
	if _, err := provider.Search(context.Background(), "   ", 10); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestSearchReportsUpstreamErrors(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	if _, err := provider.Search(context.Background(), "coffee", 10); err == nil {
		t.Fatal("expected error for upstream failure")
	}
}

func TestResolveResultURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://example.com/a", "https://example.com/a"},
		{"//example.com/a", "https://example.com/a"},
		{"https://duckduckgo.com/l/?uddg=https%3A%2F%2Ftarget.com%2Fx", "https://target.com/x"},
		{"javascript:void(0)", ""},
		{"/relative/only", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := resolveResultURL(tc.in); got != tc.want {
			t.Errorf("resolveResultURL(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}
