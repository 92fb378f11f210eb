package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"seolens/internal/config"
	"seolens/internal/embedding"
)

// Hit is one nearest-neighbor match from the knowledge base.
type Hit struct {
	URL        string
	Document   string
	Similarity float64
}

// Store accumulates analyzed documents and their embeddings and answers
// nearest-neighbor queries over them.
type Store interface {
	Add(ctx context.Context, documents, urls []string) error
	Search(ctx context.Context, query string, topK int) ([]Hit, error)
}

// NewStore selects a knowledge base implementation from configuration. An
// empty provider yields the in-memory store.
func NewStore(cfg config.VectorDBConfig, embCfg config.EmbeddingConfig, embedder embedding.Embedder, logger *slog.Logger) (Store, error) {
	switch cfg.Provider {
	case "", "memory":
		return NewMemoryStore(embCfg, embedder, logger), nil
	case "qdrant":
		return NewQdrantStore(cfg, embCfg, embedder, logger)
	default:
		return nil, fmt.Errorf("unsupported vector provider %q", cfg.Provider)
	}
}

// MemoryStore keeps documents and their vectors in memory. Vectors are stacked
// into a single slice-of-rows matrix for batched similarity computation.
type MemoryStore struct {
	embedder   embedding.Embedder
	docBatch   int
	queryBatch int
	logger     *slog.Logger

	mu        sync.RWMutex
	documents []string
	urls      []string
	vectors   [][]float64
}

// NewMemoryStore constructs an empty in-memory knowledge base.
func NewMemoryStore(embCfg config.EmbeddingConfig, embedder embedding.Embedder, logger *slog.Logger) *MemoryStore {
	docBatch := embCfg.DocBatchSize
	if docBatch <= 0 {
		docBatch = 8
	}
	queryBatch := embCfg.QueryBatchSize
	if queryBatch <= 0 {
		queryBatch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		embedder:   embedder,
		docBatch:   docBatch,
		queryBatch: queryBatch,
		logger:     logger,
	}
}

// Add embeds the documents and appends them to the store. The store only
// grows; there is no deletion path.
func (s *MemoryStore) Add(ctx context.Context, documents, urls []string) error {
	if len(documents) == 0 || len(documents) != len(urls) {
		return nil
	}

	vectors, err := s.embedder.Encode(ctx, documents, s.docBatch)
	if err != nil {
		return fmt.Errorf("encode documents: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = append(s.documents, documents...)
	s.urls = append(s.urls, urls...)
	s.vectors = append(s.vectors, vectors...)
	s.logger.Debug("knowledge base grew", "added", len(documents), "total", len(s.documents))
	return nil
}

// Search returns the topK most similar stored documents for the query.
func (s *MemoryStore) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	empty := len(s.documents) == 0
	s.mu.RUnlock()
	if empty {
		return []Hit{}, nil
	}

	queryVecs, err := s.embedder.Encode(ctx, []string{query}, s.queryBatch)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	if len(queryVecs) != 1 {
		return nil, fmt.Errorf("expected 1 query vector, got %d", len(queryVecs))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]Hit, len(s.documents))
	for i, vec := range s.vectors {
		hits[i] = Hit{
			URL:        s.urls[i],
			Document:   s.documents[i],
			Similarity: embedding.Cosine(queryVecs[0], vec),
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Len reports the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}
