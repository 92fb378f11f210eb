package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"seolens/internal/config"
)

// Provider executes a web search and returns candidate result URLs in rank
// order. Providers return only absolute http/https URLs.
type Provider interface {
	Search(ctx context.Context, query string, numResults int) ([]string, error)
}

// NewProvider selects a search provider implementation from configuration.
func NewProvider(cfg config.SearchConfig, client *http.Client, userAgent string, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "duckduckgo":
		return NewDuckDuckGo(cfg, client, userAgent, logger), nil
	default:
		return nil, fmt.Errorf("unsupported search provider %q", cfg.Provider)
	}
}

const duckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the HTML search endpoint. Requests are throttled to stay
// polite with the upstream service.
type DuckDuckGo struct {
	client    *http.Client
	endpoint  string
	userAgent string
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewDuckDuckGo constructs the provider. A nil client falls back to a default
// one honouring the configured timeout.
func NewDuckDuckGo(cfg config.SearchConfig, client *http.Client, userAgent string, logger *slog.Logger) *DuckDuckGo {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout.Duration}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DuckDuckGo{
		client:    client,
		endpoint:  duckDuckGoEndpoint,
		userAgent: userAgent,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		logger:    logger,
	}
}

// Search issues the query and returns up to numResults validated URLs.
func (d *DuckDuckGo) Search(ctx context.Context, query string, numResults int) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if numResults <= 0 {
		numResults = 10
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := d.endpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	seen := make(map[string]struct{}, numResults)
	results := make([]string, 0, numResults)
	doc.Find("a.result__a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		resolved := resolveResultURL(href)
		if resolved == "" {
			d.logger.Debug("skipping invalid search result", "href", href)
			return true
		}
		if _, dup := seen[resolved]; dup {
			return true
		}
		seen[resolved] = struct{}{}
		results = append(results, resolved)
		return len(results) < numResults
	})

	d.logger.Debug("search complete", "query", query, "results", len(results))
	return results, nil
}

// resolveResultURL unwraps DuckDuckGo's redirect links and validates the
// target scheme. Returns "" for unusable results.
func resolveResultURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}

	if parsed, err := url.Parse(href); err == nil {
		if uddg := parsed.Query().Get("uddg"); uddg != "" {
			href = uddg
		}
	}

	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return ""
	}
	return href
}
