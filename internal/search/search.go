// Package search ranks stored messages by cosine similarity to a query
// vector. It prefers a store-native nearest-neighbor query and falls back
// to a client-side scan when the backend has no vector index.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/krakenhq/kraken/internal/store"
)

// QueryEmbedder produces the query vector, normally through the cached
// single-text embedding path.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs semantic search over the message store.
type Searcher struct {
	embedder QueryEmbedder
	store    store.MessageStore
	logger   *slog.Logger
}

// NewSearcher creates a Searcher over the given embedder and store.
func NewSearcher(embedder QueryEmbedder, st store.MessageStore) *Searcher {
	return &Searcher{embedder: embedder, store: st, logger: slog.Default()}
}

// Query embeds the natural-language query and returns the top results.
func (s *Searcher) Query(ctx context.Context, query string, limit int, minSimilarity float64) ([]store.ScoredMessage, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.Search(ctx, vec, limit, minSimilarity)
}

// Search returns up to limit stored messages ordered by descending cosine
// similarity to queryVec, each with similarity >= minSimilarity. Rows whose
// vector is absent, undecodable, or of mismatched dimension are skipped
// with a warning, never fatal.
func (s *Searcher) Search(ctx context.Context, queryVec []float32, limit int, minSimilarity float64) ([]store.ScoredMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	if nn, ok := s.store.(store.NearestNeighborQuerier); ok {
		results, err := nn.NearestNeighbors(ctx, queryVec, minSimilarity, limit)
		if err != nil {
			return nil, fmt.Errorf("nearest neighbor search: %w", err)
		}
		return results, nil
	}

	return s.scanAll(ctx, queryVec, limit, minSimilarity)
}

// scanAll loads every row and ranks client-side. Acceptable only while the
// corpus stays small; backends with a native index never reach this path.
func (s *Searcher) scanAll(ctx context.Context, queryVec []float32, limit int, minSimilarity float64) ([]store.ScoredMessage, error) {
	msgs, err := s.store.AllMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading candidate rows: %w", err)
	}

	var results []store.ScoredMessage
	for _, m := range msgs {
		if m.Embedding == nil {
			s.logger.Warn("skipping message without embedding", "id", m.SourceMessageID)
			continue
		}
		if len(m.Embedding) != len(queryVec) {
			s.logger.Warn("skipping message with mismatched embedding dimension",
				"id", m.SourceMessageID, "got", len(m.Embedding), "want", len(queryVec))
			continue
		}

		sim, ok := CosineSimilarity(queryVec, m.Embedding)
		if !ok {
			s.logger.Warn("skipping message with zero-norm embedding", "id", m.SourceMessageID)
			continue
		}
		if sim >= minSimilarity {
			results = append(results, store.ScoredMessage{Message: m, Similarity: sim})
		}
	}

	// Stable sort keeps tie order deterministic (store scan order).
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// CosineSimilarity returns dot(a,b)/(|a||b|) in float64. The second return
// is false when either vector has zero norm, where the metric is undefined.
func CosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
