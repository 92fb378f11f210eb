package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadFromReaderMergesOverDefaults(t *testing.T) {
	doc := `
search:
  num_results: 5
  requests_per_second: 2
fetch:
  retry_backoff: 500ms
worker:
  concurrency: 3
cache:
  enabled: true
  backend: file
  dir: /tmp/seo-cache
  ttl: 24h
`
	cfg, err := LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Search.NumResults != 5 {
		t.Errorf("expected num_results 5, got %d", cfg.Search.NumResults)
	}
	if cfg.Fetch.RetryBackoff.Duration != 500*time.Millisecond {
		t.Errorf("expected retry_backoff 500ms, got %s", cfg.Fetch.RetryBackoff)
	}
	if cfg.Worker.Concurrency != 3 {
		t.Errorf("expected concurrency 3, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Cache.TTL.Duration != 24*time.Hour {
		t.Errorf("expected ttl 24h, got %s", cfg.Cache.TTL)
	}
	// Untouched sections keep their defaults.
	if cfg.Ranker.RelevanceThreshold != 0.3 {
		t.Errorf("expected default threshold 0.3, got %g", cfg.Ranker.RelevanceThreshold)
	}
	if cfg.Fetch.UserAgent == "" {
		t.Error("expected default user agent to survive merge")
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("search:\n  max_depth: 3\n")); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero results", func(c *Config) { c.Search.NumResults = 0 }},
		{"zero rps", func(c *Config) { c.Search.RequestsPerSecond = 0 }},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"zero retries", func(c *Config) { c.Fetch.MaxRetries = 0 }},
		{"empty user agent", func(c *Config) { c.Fetch.UserAgent = " " }},
		{"threshold too high", func(c *Config) { c.Ranker.RelevanceThreshold = 1 }},
		{"negative b", func(c *Config) { c.Ranker.BM25B = -0.1 }},
		{"empty model", func(c *Config) { c.Embedding.Model = "" }},
		{"file cache without dir", func(c *Config) { c.Cache.Dir = "" }},
		{"redis cache without host", func(c *Config) { c.Cache.Backend = "redis" }},
		{"qdrant without endpoint", func(c *Config) { c.VectorDB.Provider = "qdrant" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestNormaliseLowercasesProviders(t *testing.T) {
	doc := `
search:
  provider: DuckDuckGo
robots:
  overrides: ["Example.com", "example.com", " "]
`
	cfg, err := LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Search.Provider != "duckduckgo" {
		t.Errorf("expected lowercased provider, got %q", cfg.Search.Provider)
	}
	if len(cfg.Robots.Overrides) != 1 || cfg.Robots.Overrides[0] != "example.com" {
		t.Errorf("expected deduped overrides, got %v", cfg.Robots.Overrides)
	}
}
