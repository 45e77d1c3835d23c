// Package embeddings generates text embeddings through an OpenAI-compatible
// API, with a content-addressed local cache for single-text lookups.
package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/krakenhq/kraken/internal/retry"
)

// embeddingAPI is the slice of the OpenAI client the Embedder needs.
type embeddingAPI interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Embedder turns texts into vectors using a fixed model. Vectors from
// different models are never comparable; the model name travels with the
// cache key and the search path to enforce that.
type Embedder struct {
	client embeddingAPI
	model  string
	cache  *Cache
	retry  retry.Config
}

// NewEmbedder creates an Embedder for the given API key and model.
// cache may be nil to disable caching on the single-text path.
func NewEmbedder(apiKey, model string, cache *Cache) *Embedder {
	return &Embedder{
		client: openai.NewClient(apiKey),
		model:  model,
		cache:  cache,
		retry:  retry.Config{MaxAttempts: 3, Name: "OpenAI embeddings.create"},
	}
}

// Model returns the embedding model identifier.
func (e *Embedder) Model() string {
	return e.model
}

// EmbedBatch embeds all texts in a single API call, retried on transient
// failures. The returned vectors are positionally aligned with texts.
// The batch path bypasses the cache: sync cycles process each message once.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := retry.Do(e.retry, func() (openai.EmbeddingResponse, error) {
		return e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(e.model),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("creating embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Embed returns the vector for a single text, consulting the cache first.
// Used for search queries, which repeat far more often than channel messages.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if vec, ok := e.cache.Get(text, e.model); ok {
			return vec, nil
		}
	}

	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	vec := vectors[0]

	if e.cache != nil {
		e.cache.Set(text, e.model, vec)
	}
	return vec, nil
}
