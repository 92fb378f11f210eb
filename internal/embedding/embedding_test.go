package embedding

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"seolens/internal/config"
)

func newTestEmbedder(t *testing.T, handler http.HandlerFunc) (*OpenAI, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Default().Embedding
	cfg.BaseURL = server.URL
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOpenAI(cfg, "test-key", logger), server
}

func embeddingItem(index int, vector []float64) map[string]any {
	return map[string]any{"object": "embedding", "index": index, "embedding": vector}
}

func respond(w http.ResponseWriter, items ...map[string]any) {
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   items,
		"model":  "text-embedding-3-small",
	})
}

// The API does not guarantee response order; each item's index says which
// input it belongs to.
func TestEncodeOrdersByIndex(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w,
			embeddingItem(1, []float64{0, 1}),
			embeddingItem(0, []float64{1, 0}),
		)
	})

	vectors, err := embedder.Encode(context.Background(), []string{"first", "second"}, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if vectors[0][0] != 1 || vectors[0][1] != 0 {
		t.Errorf("vector for first text: got %v, want [1 0]", vectors[0])
	}
	if vectors[1][0] != 0 || vectors[1][1] != 1 {
		t.Errorf("vector for second text: got %v, want [0 1]", vectors[1])
	}
}

func TestEncodeBatchesRequests(t *testing.T) {
	var requests int
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		respond(w, embeddingItem(0, []float64{float64(requests), 0}))
	})

	vectors, err := embedder.Encode(context.Background(), []string{"a", "b", "c"}, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if requests != 3 {
		t.Errorf("expected 3 requests for batch size 1, got %d", requests)
	}
	if len(vectors) != 3 || vectors[2][0] != 3 {
		t.Errorf("vectors out of order across batches: %v", vectors)
	}
}

func TestEncodeRejectsOutOfRangeIndex(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w,
			embeddingItem(0, []float64{1, 0}),
			embeddingItem(5, []float64{0, 1}),
		)
	})

	if _, err := embedder.Encode(context.Background(), []string{"a", "b"}, 0); err == nil {
		t.Fatal("expected error for an out-of-range index")
	}
}

func TestEncodeEmptyInput(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty input")
	})

	vectors, err := embedder.Encode(context.Background(), nil, 8)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil vectors, got %v", vectors)
	}
}

func TestCosine(t *testing.T) {
	cases := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2}, []float64{1, 2}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"zero vector", []float64{0, 0}, []float64{1, 2}, 0},
		{"dimension mismatch", []float64{1}, []float64{1, 2}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Cosine(tc.a, tc.b); math.Abs(got-tc.want) > 1e-12 {
				t.Errorf("cosine: got %v, want %v", got, tc.want)
			}
		})
	}
}
