package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"seolens/internal/config"
)

// Embedder encodes texts into fixed-dimension vectors. Implementations must be
// safe for concurrent use; the same instance is shared by the ranker and the
// knowledge base.
type Embedder interface {
	Encode(ctx context.Context, texts []string, batchSize int) ([][]float64, error)
}

// NewEmbedder selects an embedding provider from configuration.
func NewEmbedder(cfg config.EmbeddingConfig, logger *slog.Logger) (Embedder, error) {
	switch cfg.Provider {
	case "", "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		return NewOpenAI(cfg, apiKey, logger), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}

// OpenAI produces embeddings through the OpenAI embeddings API.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAI constructs an OpenAI embedder for the configured model.
func NewOpenAI(cfg config.EmbeddingConfig, apiKey string, logger *slog.Logger) *OpenAI {
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger,
	}
}

// Encode embeds the texts in batches of batchSize, preserving input order.
func (o *OpenAI) Encode(ctx context.Context, texts []string, batchSize int) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	vectors := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts[start:end],
			Model: openai.EmbeddingModel(o.model),
		})
		if err != nil {
			return nil, fmt.Errorf("create embeddings: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", end-start, len(resp.Data))
		}
		// The API may return items in any order; Index maps each one back
		// to its position in the batch.
		batch := make([][]float64, end-start)
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(batch) {
				return nil, fmt.Errorf("embedding index %d out of range for batch of %d", item.Index, len(batch))
			}
			vec := make([]float64, len(item.Embedding))
			for i, v := range item.Embedding {
				vec[i] = float64(v)
			}
			batch[item.Index] = vec
		}
		vectors = append(vectors, batch...)
	}
	o.logger.Debug("encoded texts", "count", len(texts), "model", o.model)
	return vectors, nil
}

// Cosine returns the cosine similarity of two vectors, or 0 when either has
// zero magnitude or the dimensions differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
