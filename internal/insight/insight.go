package insight

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"seolens/pkg/types"
)

// Aggregator turns ranked, threshold-filtered documents into aggregate SEO
// insights and a recommendation list.
type Aggregator struct {
	logger *slog.Logger
}

// New constructs an Aggregator.
func New(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// Aggregate computes insights for the keyword across the ranked documents,
// which must be ordered best-first. An empty input returns the all-zero
// record with no recommendations; it never fails.
func (a *Aggregator) Aggregate(keyword string, docs []types.RankedDocument) types.Insights {
	insights := types.EmptyInsights(keyword)
	if len(docs) == 0 {
		return insights
	}

	insights.AnalyzedURLs = len(docs)
	insights.GeneratedAt = time.Now().UTC()

	keywordLower := strings.ToLower(keyword)

	var wordSum, internalSum, externalSum float64
	titleMatches := 0
	headingMatches := 0
	var densities []float64

	for _, doc := range docs {
		wordSum += float64(doc.SEO.WordCount)
		internalSum += float64(doc.SEO.InternalLinks)
		externalSum += float64(doc.SEO.ExternalLinks)

		if strings.Contains(strings.ToLower(doc.SEO.Title), keywordLower) {
			titleMatches++
		}
		if headingContains(doc.SEO, keywordLower) {
			headingMatches++
		}

		if doc.Content != "" {
			if wordCount := len(strings.Fields(doc.Content)); wordCount > 0 {
				occurrences := strings.Count(strings.ToLower(doc.Content), keywordLower)
				densities = append(densities, float64(occurrences)/float64(wordCount)*100)
			}
		}
	}

	n := float64(len(docs))
	insights.AvgWordCount = wordSum / n
	insights.LinkPatterns.AvgInternal = internalSum / n
	insights.LinkPatterns.AvgExternal = externalSum / n
	insights.KeywordDensity.Title = float64(titleMatches) / n
	insights.KeywordDensity.Headings = float64(headingMatches) / n
	if len(densities) > 0 {
		var sum float64
		for _, d := range densities {
			sum += d
		}
		insights.KeywordDensity.Content = sum / float64(len(densities))
	}
	// Unweighted mean of two ratios and a percentage; kept as-is for
	// compatibility with consumers of the original metric.
	insights.KeywordDensity.Avg = (insights.KeywordDensity.Title +
		insights.KeywordDensity.Headings +
		insights.KeywordDensity.Content) / 3

	insights.Recommendations = a.recommendations(insights, docs)
	return insights
}

// headingContains scans h1-h3 headings for the keyword, stopping on the first
// match.
func headingContains(seo *types.SeoElements, keywordLower string) bool {
	for _, level := range []string{"h1", "h2", "h3"} {
		for _, heading := range seo.Headings[level] {
			if strings.Contains(strings.ToLower(heading), keywordLower) {
				return true
			}
		}
	}
	return false
}

func (a *Aggregator) recommendations(insights types.Insights, docs []types.RankedDocument) []string {
	recs := []string{}
	keyword := insights.Keyword

	if insights.AvgWordCount > 0 {
		recs = append(recs, fmt.Sprintf(
			"Target word count: %d words based on top-ranking pages",
			int(insights.AvgWordCount)))
	}
	if insights.KeywordDensity.Title > 0.7 {
		recs = append(recs, fmt.Sprintf(
			"Include the keyword '%s' in your title - %d%% of top pages do this",
			keyword, int(insights.KeywordDensity.Title*100)))
	}
	if insights.KeywordDensity.Headings > 0.5 {
		recs = append(recs, fmt.Sprintf(
			"Include the keyword '%s' in at least one heading - %d%% of top pages do this",
			keyword, int(insights.KeywordDensity.Headings*100)))
	}
	if insights.KeywordDensity.Content > 0 {
		recs = append(recs, fmt.Sprintf(
			"Aim for a keyword density of approximately %.2f%% in your content",
			insights.KeywordDensity.Content))
	}
	if insights.LinkPatterns.AvgInternal > 0 {
		recs = append(recs, fmt.Sprintf(
			"Include approximately %d internal links",
			int(insights.LinkPatterns.AvgInternal)))
	}
	if insights.LinkPatterns.AvgExternal > 0 {
		recs = append(recs, fmt.Sprintf(
			"Include approximately %d external links to authoritative sources",
			int(insights.LinkPatterns.AvgExternal)))
	}

	// Structural advice mirrors the single top-ranked page, not an average.
	top := docs[0].SEO
	if count := len(top.Headings["h1"]); count > 0 {
		recs = append(recs, fmt.Sprintf("Use %d H1 tag(s) - the top result does this", count))
	}
	if count := len(top.Headings["h2"]); count > 0 {
		recs = append(recs, fmt.Sprintf("Structure your content with approximately %d H2 sections", count))
	}
	if count := len(top.Headings["h3"]); count > 0 {
		recs = append(recs, fmt.Sprintf("Further organize content with %d H3 subsections", count))
	}
	return recs
}
