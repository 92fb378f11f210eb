package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"seolens/internal/config"
	"seolens/pkg/types"
)

// Entry is the durable representation of one cached analysis.
type Entry struct {
	Query     string         `json:"query"`
	Timestamp time.Time      `json:"timestamp"`
	Data      types.Insights `json:"data"`
}

// Store is a durable query-keyed insight cache with time-based expiry.
// Get treats expired, corrupt, or unreadable entries as misses; it never
// deletes anything. Reclamation happens only through CleanExpired.
type Store interface {
	Get(ctx context.Context, query string) (types.Insights, bool)
	Set(ctx context.Context, query string, data types.Insights) error
	Invalidate(ctx context.Context, query string) error
	InvalidateAll(ctx context.Context) error
	CleanExpired(ctx context.Context) (int, error)
}

// NewStore selects a cache backend from configuration. Returns nil when the
// cache is disabled.
func NewStore(cfg config.CacheConfig, logger *slog.Logger) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir, cfg.TTL.Duration, logger)
	case "redis":
		return NewRedisStore(cfg.Redis, cfg.TTL.Duration, logger)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

// Key derives the content-addressed cache key: queries differing only in case
// or surrounding whitespace collide to the same entry.
func Key(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// FileStore persists one JSON file per cache entry under a directory.
type FileStore struct {
	dir    string
	ttl    time.Duration
	logger *slog.Logger

	// now is swappable so expiry is testable with virtual time.
	now func() time.Time
}

// NewFileStore creates the cache directory if needed.
func NewFileStore(dir string, ttl time.Duration, logger *slog.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache dir not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{dir: dir, ttl: ttl, logger: logger, now: time.Now}, nil
}

// Get returns the cached insights for the query if present and fresh.
func (s *FileStore) Get(_ context.Context, query string) (types.Insights, bool) {
	path := s.path(Key(query))
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.Insights{}, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.logger.Warn("unreadable cache entry treated as miss", "path", path, "error", err)
		return types.Insights{}, false
	}
	if s.expired(entry) {
		s.logger.Debug("cache entry expired", "query", query)
		return types.Insights{}, false
	}
	return entry.Data, true
}

// Set writes the entry, overwriting any previous one for the same key.
func (s *FileStore) Set(_ context.Context, query string, data types.Insights) error {
	entry := Entry{Query: query, Timestamp: s.now().UTC(), Data: data}
	raw, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := os.WriteFile(s.path(Key(query)), raw, 0o644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Invalidate removes the entry for one query.
func (s *FileStore) Invalidate(_ context.Context, query string) error {
	err := os.Remove(s.path(Key(query)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

// InvalidateAll removes every entry.
func (s *FileStore) InvalidateAll(_ context.Context) error {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove cache entry %s: %w", path, err)
		}
	}
	return nil
}

// CleanExpired reclaims expired and corrupt entries, returning how many were
// removed.
func (s *FileStore) CleanExpired(_ context.Context) (int, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry Entry
		stale := json.Unmarshal(raw, &entry) != nil || s.expired(entry)
		if !stale {
			continue
		}
		if err := os.Remove(path); err == nil {
			cleaned++
		}
	}
	if cleaned > 0 {
		s.logger.Info("cleaned expired cache entries", "count", cleaned)
	}
	return cleaned, nil
}

func (s *FileStore) expired(entry Entry) bool {
	return s.now().Sub(entry.Timestamp) > s.ttl
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}
