package ranker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"seolens/internal/config"
	"seolens/internal/embedding"
)

// Ranked pairs a document's original index with its fused relevance score.
type Ranked struct {
	Index int
	Score float64
}

// Ranker orders documents against a query by fusing BM25 lexical relevance
// with embedding cosine similarity. Fusion weights are derived per call from
// the relative average confidence of the two signals.
type Ranker struct {
	embedder   embedding.Embedder
	k1         float64
	b          float64
	queryBatch int
	docBatch   int
	logger     *slog.Logger
}

// New constructs a Ranker sharing the given embedder.
func New(cfg config.RankerConfig, embCfg config.EmbeddingConfig, embedder embedding.Embedder, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	queryBatch := embCfg.QueryBatchSize
	if queryBatch <= 0 {
		queryBatch = 1
	}
	docBatch := embCfg.DocBatchSize
	if docBatch <= 0 {
		docBatch = 8
	}
	return &Ranker{
		embedder:   embedder,
		k1:         cfg.BM25K1,
		b:          cfg.BM25B,
		queryBatch: queryBatch,
		docBatch:   docBatch,
		logger:     logger,
	}
}

// Rank scores every document against the query and returns all indices sorted
// by descending fused score. Ties keep original document order. An empty
// document list returns an empty ranking without invoking any scoring.
func (r *Ranker) Rank(ctx context.Context, query string, documents []string) ([]Ranked, error) {
	if len(documents) == 0 {
		return []Ranked{}, nil
	}

	bm25Scores := NewBM25(documents, r.k1, r.b).Scores(query)

	semanticScores, err := r.semanticScores(ctx, query, documents)
	if err != nil {
		return nil, err
	}

	bm25Weight, semanticWeight := attentionWeights(bm25Scores, semanticScores)
	r.logger.Debug("fusion weights computed",
		"bm25_weight", bm25Weight, "semantic_weight", semanticWeight)

	ranked := make([]Ranked, len(documents))
	for i := range documents {
		ranked[i] = Ranked{
			Index: i,
			Score: bm25Weight*bm25Scores[i] + semanticWeight*semanticScores[i],
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked, nil
}

func (r *Ranker) semanticScores(ctx context.Context, query string, documents []string) ([]float64, error) {
	queryVecs, err := r.embedder.Encode(ctx, []string{query}, r.queryBatch)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	if len(queryVecs) != 1 {
		return nil, fmt.Errorf("expected 1 query vector, got %d", len(queryVecs))
	}
	docVecs, err := r.embedder.Encode(ctx, documents, r.docBatch)
	if err != nil {
		return nil, fmt.Errorf("encode documents: %w", err)
	}
	if len(docVecs) != len(documents) {
		return nil, fmt.Errorf("expected %d document vectors, got %d", len(documents), len(docVecs))
	}

	scores := make([]float64, len(documents))
	for i, vec := range docVecs {
		scores[i] = embedding.Cosine(queryVecs[0], vec)
	}
	return scores, nil
}

// attentionWeights normalizes each score vector by its own maximum, then
// applies a softmax over the two normalized means. The signal whose scores sit
// closer to their own peak earns more weight. Weights always sum to 1.
func attentionWeights(bm25Scores, semanticScores []float64) (float64, float64) {
	bm25Mean := normalizedMean(bm25Scores)
	semanticMean := normalizedMean(semanticScores)

	expBM25 := math.Exp(bm25Mean)
	expSemantic := math.Exp(semanticMean)
	total := expBM25 + expSemantic
	return expBM25 / total, expSemantic / total
}

// normalizedMean divides by the vector maximum before averaging; a zero max
// leaves scores unnormalized to avoid dividing by zero.
func normalizedMean(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	sum := 0.0
	for _, s := range scores {
		if max != 0 {
			sum += s / max
		} else {
			sum += s
		}
	}
	return sum / float64(len(scores))
}
