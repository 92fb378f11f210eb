package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to initialise the analysis engine.
type Config struct {
	Search    SearchConfig    `yaml:"search"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Worker    WorkerConfig    `yaml:"worker"`
	Ranker    RankerConfig    `yaml:"ranker"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	VectorDB  VectorDBConfig  `yaml:"vector_db"`
	Cache     CacheConfig     `yaml:"cache"`
	DB        SQLConfig       `yaml:"db"`
	Robots    RobotsConfig    `yaml:"robots"`
	Rendering RenderingConfig `yaml:"rendering"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SearchConfig controls the web search provider used to discover competitor pages.
type SearchConfig struct {
	Provider          string   `yaml:"provider"`
	NumResults        int      `yaml:"num_results"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Timeout           Duration `yaml:"timeout"`
}

// FetchConfig controls per-URL page retrieval and retry behaviour.
type FetchConfig struct {
	UserAgent       string            `yaml:"user_agent"`
	Headers         map[string]string `yaml:"headers"`
	RequestTimeout  Duration          `yaml:"request_timeout"`
	MaxBodyBytes    int64             `yaml:"max_body_bytes"`
	MaxRetries      int               `yaml:"max_retries"`
	RetryBackoff    Duration          `yaml:"retry_backoff"`
	MinContentChars int               `yaml:"min_content_chars"`
	ProxyURL        string            `yaml:"proxy_url"`
}

// WorkerConfig controls the concurrent fetch fan-out.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	QueueSize   int `yaml:"queue_size"`
}

// RankerConfig tunes hybrid ranking.
type RankerConfig struct {
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
	BM25K1             float64 `yaml:"bm25_k1"`
	BM25B              float64 `yaml:"bm25_b"`
}

// EmbeddingConfig selects the embedding provider shared by the ranker and the
// knowledge base.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	QueryBatchSize int    `yaml:"query_batch_size"`
	DocBatchSize   int    `yaml:"doc_batch_size"`
}

// VectorDBConfig describes an optional external vector database for the
// knowledge base. When Provider is empty the in-memory store is used.
type VectorDBConfig struct {
	Provider   string `yaml:"provider"`
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

// CacheConfig controls the durable result cache.
type CacheConfig struct {
	Enabled bool        `yaml:"enabled"`
	Backend string      `yaml:"backend"`
	Dir     string      `yaml:"dir"`
	TTL     Duration    `yaml:"ttl"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Host     string   `yaml:"host"`
	Port     string   `yaml:"port"`
	DB       int      `yaml:"db"`
	Password string   `yaml:"password"`
	Key      string   `yaml:"key"`
	Timeout  Duration `yaml:"timeout"`
}

// SQLConfig describes an optional relational archive of analyzed pages.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
}

// RobotsConfig configures robots.txt handling for competitor fetches.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	Overrides []string `yaml:"overrides"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// RenderingConfig controls optional JavaScript rendering of fetched pages.
type RenderingConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Engine             string   `yaml:"engine"`
	Timeout            Duration `yaml:"timeout"`
	WaitForSelector    string   `yaml:"wait_for_selector"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Search: SearchConfig{
			Provider:          "duckduckgo",
			NumResults:        10,
			RequestsPerSecond: 1,
			Timeout:           DurationFrom(10 * time.Second),
		},
		Fetch: FetchConfig{
			UserAgent:       defaultUserAgent,
			Headers:         map[string]string{},
			RequestTimeout:  DurationFrom(10 * time.Second),
			MaxBodyBytes:    6 * 1024 * 1024,
			MaxRetries:      3,
			RetryBackoff:    DurationFrom(1 * time.Second),
			MinContentChars: 50,
		},
		Worker: WorkerConfig{
			Concurrency: 5,
			QueueSize:   64,
		},
		Ranker: RankerConfig{
			RelevanceThreshold: 0.3,
			BM25K1:             1.5,
			BM25B:              0.75,
		},
		Embedding: EmbeddingConfig{
			Provider:       "openai",
			Model:          "text-embedding-3-small",
			QueryBatchSize: 1,
			DocBatchSize:   8,
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "file",
			Dir:     ".seo_cache",
			TTL:     DurationFrom(7 * 24 * time.Hour),
			Redis: RedisConfig{
				Port:    "6379",
				Key:     "seolens:cache",
				Timeout: DurationFrom(5 * time.Second),
			},
		},
		Robots: RobotsConfig{
			Respect:   true,
			Overrides: []string{},
			UserAgent: "seolens-bot/1.0",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		Rendering: RenderingConfig{
			Enabled:            false,
			Engine:             "chromedp",
			Timeout:            DurationFrom(15 * time.Second),
			ConcurrentSessions: 2,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
		DB: SQLConfig{
			AutoMigrate: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces required invariants for the analysis configuration.
func (c Config) Validate() error {
	if c.Search.NumResults <= 0 {
		return fmt.Errorf("search.num_results must be > 0 (got %d)", c.Search.NumResults)
	}
	if c.Search.RequestsPerSecond <= 0 {
		return fmt.Errorf("search.requests_per_second must be > 0 (got %g)", c.Search.RequestsPerSecond)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be > 0 (got %d)", c.Worker.QueueSize)
	}
	if c.Fetch.MaxRetries <= 0 {
		return fmt.Errorf("fetch.max_retries must be > 0 (got %d)", c.Fetch.MaxRetries)
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return errors.New("fetch.user_agent must be set")
	}
	if c.Ranker.RelevanceThreshold < 0 || c.Ranker.RelevanceThreshold >= 1 {
		return fmt.Errorf("ranker.relevance_threshold must be in [0,1) (got %g)", c.Ranker.RelevanceThreshold)
	}
	if c.Ranker.BM25K1 <= 0 || c.Ranker.BM25B < 0 || c.Ranker.BM25B > 1 {
		return fmt.Errorf("ranker bm25 parameters out of range (k1=%g b=%g)", c.Ranker.BM25K1, c.Ranker.BM25B)
	}
	if c.Embedding.Model == "" {
		return errors.New("embedding.model must be set")
	}
	if c.Embedding.QueryBatchSize <= 0 || c.Embedding.DocBatchSize <= 0 {
		return errors.New("embedding batch sizes must be > 0")
	}
	if c.Cache.Enabled {
		if c.Cache.TTL.IsZero() {
			return errors.New("cache.ttl must be > 0 when cache is enabled")
		}
		switch c.Cache.Backend {
		case "file":
			if strings.TrimSpace(c.Cache.Dir) == "" {
				return errors.New("cache.dir must be set for the file backend")
			}
		case "redis":
			if strings.TrimSpace(c.Cache.Redis.Host) == "" {
				return errors.New("cache.redis.host must be set for the redis backend")
			}
		default:
			return fmt.Errorf("unsupported cache backend %q", c.Cache.Backend)
		}
	}
	if c.Robots.Respect && strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set")
	}
	if c.VectorDB.Provider == "qdrant" && strings.TrimSpace(c.VectorDB.Endpoint) == "" {
		return errors.New("vector_db.endpoint must be set when a provider is selected")
	}
	return nil
}

func (c *Config) normalise() {
	c.Search.Provider = strings.ToLower(strings.TrimSpace(c.Search.Provider))
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	c.Cache.Dir = strings.TrimSpace(c.Cache.Dir)
	c.Embedding.Provider = strings.ToLower(strings.TrimSpace(c.Embedding.Provider))
	c.VectorDB.Provider = strings.ToLower(strings.TrimSpace(c.VectorDB.Provider))
	c.VectorDB.Endpoint = strings.TrimSpace(c.VectorDB.Endpoint)
	if c.Fetch.Headers == nil {
		c.Fetch.Headers = map[string]string{}
	}
	if len(c.Robots.Overrides) > 0 {
		c.Robots.Overrides = dedupeLower(c.Robots.Overrides)
	}
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	return cleaned
}
