package knowledge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"seolens/internal/config"
	"seolens/internal/embedding"
)

// apiError carries the HTTP status of a failed Qdrant call so callers can
// distinguish a missing collection from a real failure.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("status %d body %s", e.status, e.body)
}

// QdrantStore persists document embeddings to a Qdrant collection over its
// HTTP API, so the knowledge base survives process restarts.
type QdrantStore struct {
	endpoint   string
	apiKey     string
	collection string

	embedder   embedding.Embedder
	docBatch   int
	queryBatch int

	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	dimension int // 0 until the collection has been ensured
}

// NewQdrantStore initialises a Qdrant-backed knowledge base.
func NewQdrantStore(cfg config.VectorDBConfig, embCfg config.EmbeddingConfig, embedder embedding.Embedder, logger *slog.Logger) (*QdrantStore, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("qdrant endpoint not configured")
	}
	collection := strings.TrimSpace(cfg.Collection)
	if collection == "" {
		collection = "seolens"
	}
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

	return &QdrantStore{
		endpoint:   endpoint,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		collection: collection,
		embedder:   embedder,
		docBatch:   docBatch,
		queryBatch: queryBatch,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}, nil
}

// Add embeds the documents and upserts them as Qdrant points keyed by URL.
func (s *QdrantStore) Add(ctx context.Context, documents, urls []string) error {
	if len(documents) == 0 || len(documents) != len(urls) {
		return nil
	}

	vectors, err := s.embedder.Encode(ctx, documents, s.docBatch)
	if err != nil {
		return fmt.Errorf("encode documents: %w", err)
	}
	if len(vectors) == 0 {
		return nil
	}

	if err := s.ensureCollection(ctx, len(vectors[0])); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	points := make([]any, 0, len(documents))
	for i := range documents {
		points = append(points, map[string]any{
			"id":     pointID(urls[i]),
			"vector": vectors[i],
			"payload": map[string]any{
				"url":      urls[i],
				"document": documents[i],
			},
		})
	}

	body := map[string]any{"points": points}
	if err := s.do(ctx, http.MethodPut, s.pointsURL(), body, nil); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	s.logger.Debug("upserted points", "collection", s.collection, "count", len(points))
	return nil
}

// Search embeds the query and asks Qdrant for the topK nearest points.
func (s *QdrantStore) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}

	queryVecs, err := s.embedder.Encode(ctx, []string{query}, s.queryBatch)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	if len(queryVecs) != 1 {
		return nil, fmt.Errorf("expected 1 query vector, got %d", len(queryVecs))
	}

	reqBody := map[string]any{
		"vector":       queryVecs[0],
		"limit":        topK,
		"with_payload": true,
	}
	var parsed struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				URL      string `json:"url"`
				Document string `json:"document"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.pointsURL()+"/search", reqBody, &parsed); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
			// Collection not created yet; nothing has been indexed.
			return []Hit{}, nil
		}
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	hits := make([]Hit, 0, len(parsed.Result))
	for _, res := range parsed.Result {
		hits = append(hits, Hit{
			URL:        res.Payload.URL,
			Document:   res.Payload.Document,
			Similarity: res.Score,
		})
	}
	return hits, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, dimension int) error {
	s.mu.Lock()
	if s.dimension > 0 {
		known := s.dimension
		s.mu.Unlock()
		if known != dimension {
			return fmt.Errorf("embedding dimension mismatch: collection has %d, got %d", known, dimension)
		}
		return nil
	}
	s.mu.Unlock()

	if dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dimension)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil); err != nil {
		return err
	}

	s.mu.Lock()
	s.dimension = dimension
	s.mu.Unlock()
	return nil
}

func (s *QdrantStore) do(ctx context.Context, method, rawURL string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Conflict means the collection already exists, which is fine.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusConflict {
		msg, _ := io.ReadAll(resp.Body)
		return &apiError{status: resp.StatusCode, body: string(msg)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (s *QdrantStore) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.endpoint, url.PathEscape(s.collection))
}

func (s *QdrantStore) pointsURL() string {
	return s.collectionURL() + "/points"
}

// pointID produces a deterministic UUID-shaped identifier from the URL so
// repeated analyses upsert rather than duplicate.
func pointID(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	b := sum[:16]
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
