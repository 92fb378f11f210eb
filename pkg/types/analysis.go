package types

import (
	"fmt"
	"strings"
	"time"
)

// HeadingLevels enumerates the heading buckets tracked per page, in order.
var HeadingLevels = []string{"h1", "h2", "h3", "h4", "h5", "h6"}

// SeoElements captures the structured SEO signals extracted from one page.
// It is derived once per successfully fetched page and not mutated afterwards,
// except for RelevanceScore which the ranker fills in.
type SeoElements struct {
	URL             string              `json:"url"`
	Title           string              `json:"title"`
	MetaDescription string              `json:"meta_description"`
	Headings        map[string][]string `json:"headings"`
	ImageCount      int                 `json:"image_count"`
	InternalLinks   int                 `json:"internal_links"`
	ExternalLinks   int                 `json:"external_links"`
	WordCount       int                 `json:"word_count"`
	HasSchemaMarkup bool                `json:"has_schema_markup"`
	RelevanceScore  float64             `json:"relevance_score,omitempty"`
}

// NewSeoElements returns an SeoElements with every heading bucket present,
// so consumers can index Headings without nil checks.
func NewSeoElements(url string) *SeoElements {
	headings := make(map[string][]string, len(HeadingLevels))
	for _, level := range HeadingLevels {
		headings[level] = []string{}
	}
	return &SeoElements{URL: url, Headings: headings}
}

// Document pairs a page's extracted text with its SEO signals for ranking.
type Document struct {
	URL     string
	Content string
	SEO     *SeoElements
}

// RankedDocument is a Document that survived hybrid ranking.
type RankedDocument struct {
	URL            string
	Content        string
	SEO            *SeoElements
	RelevanceScore float64
}

// KeywordDensity groups the keyword-presence metrics computed across the
// analyzed result set. Title and Headings are ratios in [0,1]; Content is a
// percentage; Avg is the plain mean of the three despite the scale mismatch,
// kept for compatibility with downstream consumers.
type KeywordDensity struct {
	Avg      float64 `json:"avg"`
	Title    float64 `json:"title"`
	Headings float64 `json:"headings"`
	Content  float64 `json:"content"`
}

// LinkPatterns holds average link counts across the analyzed result set.
type LinkPatterns struct {
	AvgInternal float64 `json:"avg_internal"`
	AvgExternal float64 `json:"avg_external"`
}

// Insights is the aggregate SEO analysis for one query. It is the unit
// persisted in the result cache and returned to callers.
type Insights struct {
	Keyword         string         `json:"keyword"`
	Topic           string         `json:"topic,omitempty"`
	Keywords        string         `json:"keywords,omitempty"`
	AnalyzedURLs    int            `json:"analyzed_urls"`
	AvgWordCount    float64        `json:"avg_word_count"`
	KeywordDensity  KeywordDensity `json:"keyword_density"`
	LinkPatterns    LinkPatterns   `json:"link_patterns"`
	Recommendations []string       `json:"recommendations"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// EmptyInsights returns the degraded all-zero record used when a query
// produced no analyzable results.
func EmptyInsights(keyword string) Insights {
	return Insights{
		Keyword:         keyword,
		Recommendations: []string{},
	}
}

// IsEmpty reports whether the record is a degraded no-data result. Callers
// must use this rather than expecting an error from the analysis path.
func (i Insights) IsEmpty() bool {
	return i.AnalyzedURLs == 0 && len(i.Recommendations) == 0
}

// Report renders the insights as a human-readable summary.
func (i Insights) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "SEO Analysis for: %s\n\n", i.Keyword)
	fmt.Fprintf(&b, "Analyzed %d top-ranking pages\n", i.AnalyzedURLs)
	fmt.Fprintf(&b, "Average word count: %d words\n\n", int(i.AvgWordCount))

	b.WriteString("Keyword Density:\n")
	fmt.Fprintf(&b, "- In titles: %.1f%%\n", i.KeywordDensity.Title*100)
	fmt.Fprintf(&b, "- In headings: %.1f%%\n", i.KeywordDensity.Headings*100)
	fmt.Fprintf(&b, "- In content: %.2f%%\n\n", i.KeywordDensity.Content)

	b.WriteString("Link Patterns:\n")
	fmt.Fprintf(&b, "- Average internal links: %d\n", int(i.LinkPatterns.AvgInternal))
	fmt.Fprintf(&b, "- Average external links: %d\n\n", int(i.LinkPatterns.AvgExternal))

	b.WriteString("SEO Recommendations:\n")
	for n, rec := range i.Recommendations {
		fmt.Fprintf(&b, "%d. %s\n", n+1, rec)
	}
	return b.String()
}
