package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"seolens/internal/cache"
	"seolens/internal/config"
	"seolens/internal/embedding"
	"seolens/internal/extractor"
	"seolens/internal/fetcher"
	"seolens/internal/insight"
	"seolens/internal/knowledge"
	"seolens/internal/ranker"
	"seolens/internal/robots"
	"seolens/internal/search"
	"seolens/internal/storage"
	"seolens/pkg/types"
)

// Engine wires search, fetching, ranking, and aggregation into the full
// analysis pipeline.
type Engine struct {
	cfg       config.Config
	logger    *slog.Logger
	search    search.Provider
	fetcher   *fetcher.Fetcher
	robots    *robots.Agent
	ranker    *ranker.Ranker
	knowledge knowledge.Store
	insights  *insight.Aggregator
	cache     cache.Store
	archive   storage.Archiver
}

// NewEngine builds an Engine from configuration. Optional subsystems (cache,
// rendering, vector DB, SQL archive) are wired only when configured.
func NewEngine(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	httpClient, err := fetcher.NewHTTPClient(fetcher.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Headers:      cfg.Fetch.Headers,
		Timeout:      cfg.Fetch.RequestTimeout.Duration,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		ProxyURL:     cfg.Fetch.ProxyURL,
		MaxRetries:   cfg.Fetch.MaxRetries,
		RetryBackoff: cfg.Fetch.RetryBackoff.Duration,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}

	var pageClient fetcher.Client = httpClient
	if cfg.Rendering.Enabled {
		renderer := fetcher.NewChromedpRenderer(fetcher.RenderOptions{
			Timeout:            cfg.Rendering.Timeout.Duration,
			WaitForSelector:    cfg.Rendering.WaitForSelector,
			UserAgent:          cfg.Fetch.UserAgent,
			MaxBodyBytes:       cfg.Fetch.MaxBodyBytes,
			DisableHeadless:    cfg.Rendering.DisableHeadless,
			ConcurrentSessions: cfg.Rendering.ConcurrentSessions,
		}, logger)
		pageClient = fetcher.NewComposite(httpClient, renderer, logger)
	}

	provider, err := search.NewProvider(cfg.Search, httpClient.Client(), cfg.Fetch.UserAgent, logger)
	if err != nil {
		return nil, fmt.Errorf("build search provider: %w", err)
	}

	embedder, err := embedding.NewEmbedder(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}

	knowledgeStore, err := knowledge.NewStore(cfg.VectorDB, cfg.Embedding, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("build knowledge store: %w", err)
	}

	resultCache, err := cache.NewStore(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	var archive storage.Archiver
	if cfg.DB.DSN != "" {
		writer, err := storage.NewSQLWriter(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("build sql archive: %w", err)
		}
		archive = writer
	}

	var robotsAgent *robots.Agent
	if cfg.Robots.Respect {
		robotsAgent = robots.NewAgent(cfg.Robots, httpClient.Client())
	}

	engine := &Engine{
		cfg:       cfg,
		logger:    logger,
		search:    provider,
		fetcher:   fetcher.New(pageClient, extractor.New(), cfg.Fetch.MinContentChars, logger),
		robots:    robotsAgent,
		ranker:    ranker.New(cfg.Ranker, cfg.Embedding, embedder, logger),
		knowledge: knowledgeStore,
		insights:  insight.New(logger),
		cache:     resultCache,
		archive:   archive,
	}
	return engine, nil
}

// Analyze runs the full pipeline for a topic and a comma-separated keyword
// list; the first keyword is the primary one and joins the topic to form the
// search query. It returns an error only on context cancellation or invalid
// input; every other degradation yields the all-zero insight record.
func (e *Engine) Analyze(ctx context.Context, topic, keywords string, forceRefresh bool) (types.Insights, error) {
	topic = strings.TrimSpace(topic)
	keywords = strings.TrimSpace(keywords)
	primary := strings.TrimSpace(strings.Split(keywords, ",")[0])
	if primary == "" {
		return types.Insights{}, fmt.Errorf("keywords is required")
	}
	query := strings.TrimSpace(topic + " " + primary)

	if e.cache != nil && !forceRefresh {
		if cached, ok := e.cache.Get(ctx, query); ok {
			e.logger.Info("serving cached insights", "query", query)
			return cached, nil
		}
	}

	started := time.Now()
	urls, err := e.search.Search(ctx, query, e.cfg.Search.NumResults)
	if err != nil {
		if ctx.Err() != nil {
			return types.Insights{}, ctx.Err()
		}
		e.logger.Error("web search failed", "query", query, "error", err)
		return e.degraded(ctx, query), nil
	}
	if len(urls) == 0 {
		e.logger.Warn("web search returned no results", "query", query)
		return e.degraded(ctx, query), nil
	}
	e.logger.Info("search complete", "query", query, "urls", len(urls))

	results := fanOutFetch(ctx, urls, e.cfg.Worker.Concurrency, e.fetchOne)
	if ctx.Err() != nil {
		return types.Insights{}, ctx.Err()
	}

	var docs []types.Document
	for _, result := range results {
		if !result.OK() {
			e.logger.Warn("skipping url", "url", result.URL, "reason", result.Failure.Reason, "error", result.Failure.Err)
			continue
		}
		docs = append(docs, types.Document{URL: result.URL, Content: result.Content, SEO: result.SEO})
	}
	if len(docs) == 0 {
		e.logger.Warn("no fetchable results", "query", query)
		return e.degraded(ctx, query), nil
	}

	ranked, err := e.rankAndFilter(ctx, query, docs)
	if err != nil {
		if ctx.Err() != nil {
			return types.Insights{}, ctx.Err()
		}
		e.logger.Error("ranking failed", "query", query, "error", err)
		return e.degraded(ctx, query), nil
	}
	if len(ranked) == 0 {
		e.logger.Warn("no documents above relevance threshold", "query", query,
			"threshold", e.cfg.Ranker.RelevanceThreshold)
		return e.degraded(ctx, query), nil
	}

	e.remember(ctx, ranked)

	insights := e.insights.Aggregate(query, ranked)
	insights.Topic = topic
	insights.Keywords = keywords

	if e.archive != nil {
		for _, doc := range ranked {
			if err := e.archive.SavePage(ctx, query, doc); err != nil {
				e.logger.Warn("archive write failed", "url", doc.URL, "error", err)
			}
		}
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, query, insights); err != nil {
			e.logger.Warn("cache write failed", "query", query, "error", err)
		}
	}

	e.logger.Info("analysis complete", "query", query,
		"analyzed", insights.AnalyzedURLs, "elapsed", time.Since(started))
	return insights, nil
}

// degraded caches and returns the all-zero insight record so a query with no
// usable results is not re-run in full until its cache entry expires.
func (e *Engine) degraded(ctx context.Context, query string) types.Insights {
	insights := types.EmptyInsights(query)
	if e.cache != nil {
		if err := e.cache.Set(ctx, query, insights); err != nil {
			e.logger.Warn("cache write failed", "query", query, "error", err)
		}
	}
	return insights
}

// fetchOne gates a single URL on robots policy then fetches and extracts it.
func (e *Engine) fetchOne(ctx context.Context, rawURL string) fetcher.Result {
	if e.robots != nil && !e.robots.Allowed(ctx, rawURL) {
		return fetcher.Result{URL: rawURL, Failure: &fetcher.Failure{
			Reason: fetcher.FailRequest,
			Err:    fmt.Errorf("disallowed by robots.txt"),
		}}
	}
	return e.fetcher.Fetch(ctx, rawURL)
}

// rankAndFilter scores documents against the query and keeps the ones
// strictly above the relevance threshold, best-first.
func (e *Engine) rankAndFilter(ctx context.Context, query string, docs []types.Document) ([]types.RankedDocument, error) {
	contents := make([]string, len(docs))
	for i, doc := range docs {
		contents[i] = doc.Content
	}
	scored, err := e.ranker.Rank(ctx, query, contents)
	if err != nil {
		return nil, err
	}

	threshold := e.cfg.Ranker.RelevanceThreshold
	var ranked []types.RankedDocument
	for _, entry := range scored {
		if entry.Score <= threshold {
			continue
		}
		doc := docs[entry.Index]
		if doc.SEO != nil {
			doc.SEO.RelevanceScore = entry.Score
		}
		ranked = append(ranked, types.RankedDocument{
			URL:            doc.URL,
			Content:        doc.Content,
			SEO:            doc.SEO,
			RelevanceScore: entry.Score,
		})
	}
	return ranked, nil
}

// remember indexes the surviving documents into the knowledge base.
// Indexing failures degrade the knowledge base, not the analysis.
func (e *Engine) remember(ctx context.Context, ranked []types.RankedDocument) {
	if e.knowledge == nil {
		return
	}
	documents := make([]string, len(ranked))
	urls := make([]string, len(ranked))
	for i, doc := range ranked {
		documents[i] = doc.Content
		urls[i] = doc.URL
	}
	if err := e.knowledge.Add(ctx, documents, urls); err != nil {
		e.logger.Warn("knowledge base indexing failed", "error", err)
	}
}

// Similar searches the knowledge base for previously analyzed pages related
// to the query.
func (e *Engine) Similar(ctx context.Context, query string, topK int) ([]knowledge.Hit, error) {
	if e.knowledge == nil {
		return nil, nil
	}
	return e.knowledge.Search(ctx, query, topK)
}

// InvalidateCache drops the cached insights for one query, or all queries
// when query is empty.
func (e *Engine) InvalidateCache(ctx context.Context, query string) error {
	if e.cache == nil {
		return nil
	}
	if strings.TrimSpace(query) == "" {
		return e.cache.InvalidateAll(ctx)
	}
	return e.cache.Invalidate(ctx, query)
}

// CleanCache reclaims expired cache entries.
func (e *Engine) CleanCache(ctx context.Context) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	return e.cache.CleanExpired(ctx)
}

// Close releases held resources.
func (e *Engine) Close() error {
	if e.archive != nil {
		return e.archive.Close()
	}
	return nil
}

func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
