package embeddings

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

type mockEmbeddingAPI struct {
	calls    int
	lastReq  openai.EmbeddingRequest
	response openai.EmbeddingResponse
	err      error
}

func (m *mockEmbeddingAPI) CreateEmbeddings(_ context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	m.calls++
	if r, ok := req.(openai.EmbeddingRequest); ok {
		m.lastReq = r
	}
	return m.response, m.err
}

func embeddingResponse(vectors ...[]float32) openai.EmbeddingResponse {
	data := make([]openai.Embedding, len(vectors))
	for i, v := range vectors {
		data[i] = openai.Embedding{Embedding: v, Index: i}
	}
	return openai.EmbeddingResponse{Data: data}
}

func newTestEmbedder(api *mockEmbeddingAPI, cache *Cache) *Embedder {
	return &Embedder{client: api, model: "test-model", cache: cache}
}

func TestEmbedBatch_AlignsVectors(t *testing.T) {
	api := &mockEmbeddingAPI{response: embeddingResponse([]float32{1}, []float32{2}, []float32{3})}
	e := newTestEmbedder(api, nil)

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vectors))
	}
	if vectors[0][0] != 1 || vectors[1][0] != 2 || vectors[2][0] != 3 {
		t.Errorf("vectors not positionally aligned: %v", vectors)
	}
	if api.calls != 1 {
		t.Errorf("API calls = %d, want 1 (single batched call)", api.calls)
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	api := &mockEmbeddingAPI{}
	e := newTestEmbedder(api, nil)

	vectors, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vectors != nil {
		t.Errorf("got %v, want nil", vectors)
	}
	if api.calls != 0 {
		t.Errorf("API calls = %d, want 0", api.calls)
	}
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	api := &mockEmbeddingAPI{response: embeddingResponse([]float32{1})}
	e := newTestEmbedder(api, nil)

	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("expected error on vector count mismatch")
	}
}

func TestEmbed_UsesCache(t *testing.T) {
	api := &mockEmbeddingAPI{response: embeddingResponse([]float32{0.5, 0.6})}
	cache := OpenCache(cachePath(t))
	e := newTestEmbedder(api, cache)

	first, err := e.Embed(context.Background(), "query")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	second, err := e.Embed(context.Background(), "query")
	if err != nil {
		t.Fatalf("Embed (cached): %v", err)
	}

	if api.calls != 1 {
		t.Errorf("API calls = %d, want 1 (second call served from cache)", api.calls)
	}
	if len(first) != len(second) || first[0] != second[0] {
		t.Errorf("cached vector %v differs from original %v", second, first)
	}
}

func TestEmbed_APIError(t *testing.T) {
	api := &mockEmbeddingAPI{err: errors.New("invalid_api_key")}
	e := newTestEmbedder(api, nil)

	if _, err := e.Embed(context.Background(), "query"); err == nil {
		t.Error("expected error from API failure")
	}
}
