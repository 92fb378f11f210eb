package ranker

import (
	"math"
	"strings"
)

// bm25Epsilon floors negative IDF values at epsilon times the average IDF so
// very common terms cannot subtract from a document's score.
const bm25Epsilon = 0.25

// BM25 scores documents against a query using the Okapi BM25 formula over a
// fixed corpus. Tokenization is lowercase whitespace splitting.
type BM25 struct {
	k1     float64
	b      float64
	freqs  []map[string]int
	idf    map[string]float64
	lens   []int
	avgLen float64
}

// Tokenize lowercases and whitespace-splits text for BM25 scoring.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// NewBM25 indexes the document corpus with the given parameters.
func NewBM25(docs []string, k1, b float64) *BM25 {
	if k1 <= 0 {
		k1 = 1.5
	}
	if b < 0 || b > 1 {
		b = 0.75
	}

	freqs := make([]map[string]int, len(docs))
	lens := make([]int, len(docs))
	docFreq := make(map[string]int)
	totalLen := 0

	for i, doc := range docs {
		tokens := Tokenize(doc)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for tok := range tf {
			docFreq[tok]++
		}
		freqs[i] = tf
		lens[i] = len(tokens)
		totalLen += len(tokens)
	}

	avgLen := 0.0
	if len(docs) > 0 {
		avgLen = float64(totalLen) / float64(len(docs))
	}

	n := float64(len(docs))
	idf := make(map[string]float64, len(docFreq))
	idfSum := 0.0
	var negative []string
	for tok, df := range docFreq {
		v := math.Log(n-float64(df)+0.5) - math.Log(float64(df)+0.5)
		idf[tok] = v
		idfSum += v
		if v < 0 {
			negative = append(negative, tok)
		}
	}
	if len(idf) > 0 {
		eps := bm25Epsilon * idfSum / float64(len(idf))
		for _, tok := range negative {
			idf[tok] = eps
		}
	}

	return &BM25{k1: k1, b: b, freqs: freqs, idf: idf, lens: lens, avgLen: avgLen}
}

// Scores returns one BM25 score per indexed document for the query.
func (m *BM25) Scores(query string) []float64 {
	scores := make([]float64, len(m.freqs))
	tokens := Tokenize(query)
	for i := range m.freqs {
		scores[i] = m.score(tokens, i)
	}
	return scores
}

func (m *BM25) score(queryTokens []string, doc int) float64 {
	if m.avgLen == 0 {
		return 0
	}
	lenNorm := 1 - m.b + m.b*float64(m.lens[doc])/m.avgLen
	var score float64
	for _, tok := range queryTokens {
		tf := float64(m.freqs[doc][tok])
		if tf == 0 {
			continue
		}
		score += m.idf[tok] * (tf * (m.k1 + 1)) / (tf + m.k1*lenNorm)
	}
	return score
}
