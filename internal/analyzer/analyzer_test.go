package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"seolens/internal/cache"
	"seolens/internal/config"
	"seolens/internal/extractor"
	"seolens/internal/fetcher"
	"seolens/internal/insight"
	"seolens/internal/knowledge"
	"seolens/internal/ranker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFanOutFetchCollectsAllResults(t *testing.T) {
	urls := []string{"u1", "u2", "u3", "u4", "u5", "u6"}

	var active, peak int32
	results := fanOutFetch(context.Background(), urls, 2, func(ctx context.Context, rawURL string) fetcher.Result {
		current := atomic.AddInt32(&active, 1)
		for {
			recorded := atomic.LoadInt32(&peak)
			if current <= recorded || atomic.CompareAndSwapInt32(&peak, recorded, current) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&active, -1)
		return fetcher.Result{URL: rawURL}
	})

	if len(results) != len(urls) {
		t.Fatalf("expected %d results, got %d", len(urls), len(results))
	}
	got := make([]string, len(results))
	for i, r := range results {
		got[i] = r.URL
	}
	sort.Strings(got)
	for i, want := range urls {
		if got[i] != want {
			t.Errorf("result %d: got %q, want %q", i, got[i], want)
		}
	}
	if peak > 2 {
		t.Errorf("concurrency exceeded limit: peak %d", peak)
	}
}

func TestFanOutFetchEmptyInput(t *testing.T) {
	results := fanOutFetch(context.Background(), nil, 5, func(ctx context.Context, rawURL string) fetcher.Result {
		t.Error("fetch func must not run for empty input")
		return fetcher.Result{}
	})
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestFanOutFetchStopsFeedingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	urls := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}

	var once sync.Once
	results := fanOutFetch(ctx, urls, 1, func(ctx context.Context, rawURL string) fetcher.Result {
		atomic.AddInt32(&calls, 1)
		once.Do(cancel)
		return fetcher.Result{URL: rawURL}
	})

	if int(atomic.LoadInt32(&calls)) == len(urls) {
		t.Error("expected cancellation to stop feeding new urls")
	}
	if len(results) == 0 {
		t.Error("in-flight results must still be reported")
	}
}

// fakeSearch returns a fixed URL list, counting invocations and recording
// the last query it received.
type fakeSearch struct {
	urls      []string
	err       error
	calls     int
	lastQuery string
}

func (f *fakeSearch) Search(ctx context.Context, query string, numResults int) ([]string, error) {
	f.calls++
	f.lastQuery = query
	return f.urls, f.err
}

// fakePages serves canned HTML bodies by URL.
type fakePages struct {
	pages map[string]string
}

func (f *fakePages) Get(ctx context.Context, rawURL string) (*fetcher.Page, error) {
	body, ok := f.pages[rawURL]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return &fetcher.Page{
		URL:         rawURL,
		FinalURL:    rawURL,
		Body:        []byte(body),
		ContentType: "text/html; charset=utf-8",
		StatusCode:  http.StatusOK,
		FetchedAt:   time.Now(),
	}, nil
}

// fakeEmbedder maps exact texts to vectors; unknown texts embed to zero.
type fakeEmbedder struct {
	vectors map[string][]float64
}

func (f *fakeEmbedder) Encode(ctx context.Context, texts []string, batchSize int) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if vec, ok := f.vectors[text]; ok {
			out[i] = vec
		} else {
			out[i] = []float64{0, 0}
		}
	}
	return out, nil
}

const (
	relevantText   = "Grinding fresh beans improves flavor and aroma in every single cup you make at home."
	irrelevantText = "Water temperature matters a great deal when preparing your evening tea ritual properly."
)

func page(text string) string {
	return fmt.Sprintf(`<html><head><title>Guide</title></head><body><article><h1>Guide</h1><p>%s</p></article></body></html>`, text)
}

func newTestEngine(t *testing.T, provider *fakeSearch, pages *fakePages) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Ranker.RelevanceThreshold = 0.2
	logger := testLogger()

	embedder := &fakeEmbedder{vectors: map[string][]float64{
		"coffee brewing": {1, 0},
		relevantText:     {1, 0},
		irrelevantText:   {0, 1},
	}}

	fileCache, err := cache.NewFileStore(t.TempDir(), time.Hour, logger)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	return &Engine{
		cfg:       cfg,
		logger:    logger,
		search:    provider,
		fetcher:   fetcher.New(pages, extractor.New(), 50, logger),
		ranker:    ranker.New(cfg.Ranker, cfg.Embedding, embedder, logger),
		knowledge: knowledge.NewMemoryStore(cfg.Embedding, embedder, logger),
		insights:  insight.New(logger),
		cache:     fileCache,
	}
}

func TestAnalyzePipeline(t *testing.T) {
	provider := &fakeSearch{urls: []string{
		"https://a.example/relevant",
		"https://b.example/irrelevant",
		"https://c.example/unreachable",
		"https://d.example/thin",
	}}
	pages := &fakePages{pages: map[string]string{
		"https://a.example/relevant":   page(relevantText),
		"https://b.example/irrelevant": page(irrelevantText),
		"https://d.example/thin":       "<html><body><p>tiny</p></body></html>",
	}}
	engine := newTestEngine(t, provider, pages)

	insights, err := engine.Analyze(context.Background(), "coffee", "brewing", false)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	// Only the relevant page clears fetch and the relevance threshold: the
	// irrelevant one scores zero, one URL is unreachable, one is too thin.
	if insights.AnalyzedURLs != 1 {
		t.Errorf("analyzed urls: got %d, want 1", insights.AnalyzedURLs)
	}
	// Insights are computed against the full search query, not the bare
	// keyword, so density ratios and recommendations reference it.
	if insights.Keyword != "coffee brewing" || insights.Topic != "coffee" || insights.Keywords != "brewing" {
		t.Errorf("keyword/topic/keywords: got %q/%q/%q", insights.Keyword, insights.Topic, insights.Keywords)
	}
	if len(insights.Recommendations) == 0 {
		t.Fatal("expected recommendations for the surviving page")
	}
	var mentionsQuery bool
	for _, rec := range insights.Recommendations {
		if strings.Contains(rec, "'coffee brewing'") {
			mentionsQuery = true
		}
	}
	if !mentionsQuery {
		t.Errorf("recommendations must reference the search query, got %v", insights.Recommendations)
	}

	// Survivors are indexed into the knowledge base.
	hits, err := engine.Similar(context.Background(), "coffee brewing", 5)
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	if len(hits) != 1 || hits[0].URL != "https://a.example/relevant" {
		t.Errorf("knowledge base hits: got %+v", hits)
	}
}

func TestAnalyzeUsesFirstKeywordForQuery(t *testing.T) {
	provider := &fakeSearch{urls: []string{"https://a.example/relevant"}}
	pages := &fakePages{pages: map[string]string{
		"https://a.example/relevant": page(relevantText),
	}}
	engine := newTestEngine(t, provider, pages)

	insights, err := engine.Analyze(context.Background(), "coffee", " brewing , beans ", false)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if provider.lastQuery != "coffee brewing" {
		t.Errorf("search query: got %q, want %q", provider.lastQuery, "coffee brewing")
	}
	if insights.Keyword != "coffee brewing" {
		t.Errorf("keyword: got %q, want %q", insights.Keyword, "coffee brewing")
	}
	if insights.Keywords != "brewing , beans" {
		t.Errorf("keywords: got %q, want the full trimmed list", insights.Keywords)
	}
}

func TestAnalyzeServesFromCache(t *testing.T) {
	provider := &fakeSearch{urls: []string{"https://a.example/relevant"}}
	pages := &fakePages{pages: map[string]string{
		"https://a.example/relevant": page(relevantText),
	}}
	engine := newTestEngine(t, provider, pages)
	ctx := context.Background()

	first, err := engine.Analyze(ctx, "coffee", "brewing", false)
	if err != nil {
		t.Fatalf("first analyze: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("expected 1 search call, got %d", provider.calls)
	}

	second, err := engine.Analyze(ctx, "coffee", "brewing", false)
	if err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("cached run must not search again, got %d calls", provider.calls)
	}
	if second.AnalyzedURLs != first.AnalyzedURLs {
		t.Errorf("cached insights diverged: %d vs %d", second.AnalyzedURLs, first.AnalyzedURLs)
	}

	// forceRefresh bypasses the cache.
	if _, err := engine.Analyze(ctx, "coffee", "brewing", true); err != nil {
		t.Fatalf("forced analyze: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("forced refresh must search again, got %d calls", provider.calls)
	}
}

func TestAnalyzeDegradesToEmptyInsights(t *testing.T) {
	cases := []struct {
		name     string
		provider *fakeSearch
		pages    *fakePages
	}{
		{"search error", &fakeSearch{err: errors.New("upstream down")}, &fakePages{}},
		{"no results", &fakeSearch{}, &fakePages{}},
		{"nothing fetchable", &fakeSearch{urls: []string{"https://a.example/x"}}, &fakePages{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := newTestEngine(t, tc.provider, tc.pages)
			insights, err := engine.Analyze(context.Background(), "coffee", "brewing", false)
			if err != nil {
				t.Fatalf("degraded runs must not error, got %v", err)
			}
			if !insights.IsEmpty() {
				t.Errorf("expected empty insights, got %+v", insights)
			}
		})
	}
}

func TestAnalyzeCachesDegradedRuns(t *testing.T) {
	provider := &fakeSearch{err: errors.New("upstream down")}
	engine := newTestEngine(t, provider, &fakePages{})
	ctx := context.Background()

	first, err := engine.Analyze(ctx, "coffee", "brewing", false)
	if err != nil {
		t.Fatalf("first analyze: %v", err)
	}
	if !first.IsEmpty() {
		t.Fatalf("expected empty insights, got %+v", first)
	}

	second, err := engine.Analyze(ctx, "coffee", "brewing", false)
	if err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("empty result must be served from cache, got %d search calls", provider.calls)
	}
	if !second.IsEmpty() {
		t.Errorf("cached empty insights diverged: %+v", second)
	}
}

func TestAnalyzeRequiresKeyword(t *testing.T) {
	engine := newTestEngine(t, &fakeSearch{}, &fakePages{})
	for _, keywords := range []string{"  ", " , beans"} {
		if _, err := engine.Analyze(context.Background(), "coffee", keywords, false); err == nil {
			t.Fatalf("expected error for keywords %q", keywords)
		}
	}
}
