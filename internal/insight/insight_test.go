package insight

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"seolens/pkg/types"
)

func testAggregator() *Aggregator {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func rankedDoc(url, title, content string, wordCount, internal, external int, h1, h2, h3 []string, score float64) types.RankedDocument {
	seo := types.NewSeoElements(url)
	seo.Title = title
	seo.WordCount = wordCount
	seo.InternalLinks = internal
	seo.ExternalLinks = external
	seo.Headings["h1"] = h1
	seo.Headings["h2"] = h2
	seo.Headings["h3"] = h3
	return types.RankedDocument{URL: url, Content: content, SEO: seo, RelevanceScore: score}
}

func TestAggregateEmptyInput(t *testing.T) {
	insights := testAggregator().Aggregate("coffee", nil)
	if !insights.IsEmpty() {
		t.Errorf("expected empty insights, got %+v", insights)
	}
	if insights.Keyword != "coffee" {
		t.Errorf("keyword: got %q", insights.Keyword)
	}
	if insights.AnalyzedURLs != 0 || insights.AvgWordCount != 0 {
		t.Error("empty input must produce all-zero aggregates")
	}
	if insights.Recommendations == nil || len(insights.Recommendations) != 0 {
		t.Errorf("expected empty non-nil recommendations, got %v", insights.Recommendations)
	}
}

func TestAggregateComputesMetrics(t *testing.T) {
	docs := []types.RankedDocument{
		rankedDoc("https://a.example/1", "Coffee Brewing Guide", "coffee beans make coffee",
			1200, 10, 4, []string{"Best Coffee"}, []string{"Brewing Methods", "Bean Types"}, nil, 0.9),
		rankedDoc("https://b.example/2", "Tea time", "",
			800, 6, 2, nil, []string{"About coffee"}, nil, 0.5),
	}

	insights := testAggregator().Aggregate("coffee", docs)

	if insights.AnalyzedURLs != 2 {
		t.Errorf("analyzed urls: got %d", insights.AnalyzedURLs)
	}
	if insights.AvgWordCount != 1000 {
		t.Errorf("avg word count: got %g", insights.AvgWordCount)
	}
	if insights.LinkPatterns.AvgInternal != 8 || insights.LinkPatterns.AvgExternal != 3 {
		t.Errorf("link patterns: got %+v", insights.LinkPatterns)
	}
	if insights.KeywordDensity.Title != 0.5 {
		t.Errorf("title ratio: got %g", insights.KeywordDensity.Title)
	}
	if insights.KeywordDensity.Headings != 1 {
		t.Errorf("headings ratio: got %g", insights.KeywordDensity.Headings)
	}
	// Only the first document has content: 2 occurrences across 4 words.
	if insights.KeywordDensity.Content != 50 {
		t.Errorf("content density: got %g", insights.KeywordDensity.Content)
	}
	wantAvg := (0.5 + 1.0 + 50.0) / 3
	if math.Abs(insights.KeywordDensity.Avg-wantAvg) > 1e-12 {
		t.Errorf("density avg: got %g, want %g", insights.KeywordDensity.Avg, wantAvg)
	}
	if insights.GeneratedAt.IsZero() {
		t.Error("expected generated_at to be set")
	}
}

func TestAggregateRecommendations(t *testing.T) {
	docs := []types.RankedDocument{
		rankedDoc("https://a.example/1", "Coffee Brewing Guide", "coffee beans make coffee",
			1200, 10, 4, []string{"Best Coffee"}, []string{"Brewing Methods", "Bean Types"}, nil, 0.9),
		rankedDoc("https://b.example/2", "Tea time", "",
			800, 6, 2, nil, []string{"About coffee"}, nil, 0.5),
	}

	insights := testAggregator().Aggregate("coffee", docs)

	want := []string{
		"Target word count: 1000 words based on top-ranking pages",
		"Include the keyword 'coffee' in at least one heading - 100% of top pages do this",
		"Aim for a keyword density of approximately 50.00% in your content",
		"Include approximately 8 internal links",
		"Include approximately 3 external links to authoritative sources",
		"Use 1 H1 tag(s) - the top result does this",
		"Structure your content with approximately 2 H2 sections",
	}
	if len(insights.Recommendations) != len(want) {
		t.Fatalf("recommendations:\n got %v\nwant %v", insights.Recommendations, want)
	}
	for i := range want {
		if insights.Recommendations[i] != want[i] {
			t.Errorf("recommendation %d:\n got %q\nwant %q", i, insights.Recommendations[i], want[i])
		}
	}
}

func TestAggregateTitleRecommendationThreshold(t *testing.T) {
	// Both titles carry the keyword, pushing the ratio above 0.7.
	docs := []types.RankedDocument{
		rankedDoc("https://a.example/1", "Coffee World", "coffee", 100, 0, 0, nil, nil, nil, 0.8),
		rankedDoc("https://b.example/2", "More Coffee", "coffee", 100, 0, 0, nil, nil, nil, 0.7),
	}
	insights := testAggregator().Aggregate("coffee", docs)

	found := false
	for _, rec := range insights.Recommendations {
		if rec == "Include the keyword 'coffee' in your title - 100% of top pages do this" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected title recommendation, got %v", insights.Recommendations)
	}
}

func TestAggregateZeroWordDocsExcludedFromDensity(t *testing.T) {
	docs := []types.RankedDocument{
		rankedDoc("https://a.example/1", "Coffee", "coffee coffee other other", 4, 0, 0, nil, nil, nil, 0.9),
		rankedDoc("https://b.example/2", "Coffee too", "", 0, 0, 0, nil, nil, nil, 0.8),
	}
	insights := testAggregator().Aggregate("coffee", docs)

	// The empty document still counts toward ratios but not density.
	if insights.KeywordDensity.Title != 1 {
		t.Errorf("title ratio: got %g", insights.KeywordDensity.Title)
	}
	if insights.KeywordDensity.Content != 50 {
		t.Errorf("content density: got %g", insights.KeywordDensity.Content)
	}
}
