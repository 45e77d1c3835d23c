package search

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/krakenhq/kraken/internal/store"
)

// scanStore has no native index, forcing the client-side fallback.
type scanStore struct {
	msgs []store.Message
	err  error
}

func (s *scanStore) UpsertMessages(_ context.Context, _ []store.Message) (int, error) {
	return 0, nil
}
func (s *scanStore) AllMessages(_ context.Context) ([]store.Message, error) {
	return s.msgs, s.err
}
func (s *scanStore) CountMessages(_ context.Context) (int, error) {
	return len(s.msgs), nil
}

// nnStore additionally implements the native nearest-neighbor path.
type nnStore struct {
	scanStore
	nnCalled bool
	results  []store.ScoredMessage
}

func (s *nnStore) NearestNeighbors(_ context.Context, _ []float32, _ float64, _ int) ([]store.ScoredMessage, error) {
	s.nnCalled = true
	return s.results, nil
}

type fixedEmbedder struct {
	vec []float32
	err error
}

func (e *fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return e.vec, e.err
}

func msgWithVec(id string, vec []float32) store.Message {
	return store.Message{SourceMessageID: id, Content: "text " + id, Author: "a", Channel: "C1", Embedding: vec}
}

func TestSearch_RankingAndThreshold(t *testing.T) {
	st := &scanStore{msgs: []store.Message{
		msgWithVec("A", []float32{1, 0}),
		msgWithVec("B", []float32{0.9, 0.1}),
		msgWithVec("C", []float32{-1, 0}),
	}}
	s := NewSearcher(nil, st)

	results, err := s.Search(context.Background(), []float32{1, 0}, 2, 0.35)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].SourceMessageID != "A" || results[1].SourceMessageID != "B" {
		t.Errorf("order = [%s %s], want [A B]", results[0].SourceMessageID, results[1].SourceMessageID)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Error("results not in descending similarity order")
	}
	for _, r := range results {
		if r.Similarity < 0.35 {
			t.Errorf("result %s similarity %f below floor", r.SourceMessageID, r.Similarity)
		}
	}
}

func TestSearch_SkipsBadRows(t *testing.T) {
	st := &scanStore{msgs: []store.Message{
		msgWithVec("good", []float32{1, 0}),
		msgWithVec("no-vector", nil),
		msgWithVec("wrong-dim", []float32{1, 0, 0}),
		msgWithVec("zero-norm", []float32{0, 0}),
	}}
	s := NewSearcher(nil, st)

	results, err := s.Search(context.Background(), []float32{1, 0}, 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (bad rows skipped, not fatal)", len(results))
	}
	if results[0].SourceMessageID != "good" {
		t.Errorf("got %s, want good", results[0].SourceMessageID)
	}
}

func TestSearch_PrefersNativeIndex(t *testing.T) {
	st := &nnStore{results: []store.ScoredMessage{
		{Message: msgWithVec("A", nil), Similarity: 0.9},
	}}
	s := NewSearcher(nil, st)

	results, err := s.Search(context.Background(), []float32{1, 0}, 5, 0.35)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !st.nnCalled {
		t.Error("expected native nearest-neighbor path to be used")
	}
	if len(results) != 1 || results[0].SourceMessageID != "A" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearch_LimitZero(t *testing.T) {
	s := NewSearcher(nil, &scanStore{})
	results, err := s.Search(context.Background(), []float32{1}, 0, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("got %v, want nil for limit 0", results)
	}
}

func TestQuery_EmbedsAndSearches(t *testing.T) {
	st := &scanStore{msgs: []store.Message{msgWithVec("A", []float32{1, 0})}}
	s := NewSearcher(&fixedEmbedder{vec: []float32{1, 0}}, st)

	results, err := s.Query(context.Background(), "anything", 5, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

func TestQuery_EmbedError(t *testing.T) {
	s := NewSearcher(&fixedEmbedder{err: errors.New("boom")}, &scanStore{})
	if _, err := s.Query(context.Background(), "anything", 5, 0); err == nil {
		t.Error("expected error from embedder failure")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name   string
		a, b   []float32
		want   float64
		wantOK bool
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1, true},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1, true},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0, true},
		{"zero norm", []float32{1, 0}, []float32{0, 0}, 0, false},
		{"dim mismatch", []float32{1, 0}, []float32{1}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CosineSimilarity(tt.a, tt.b)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("similarity = %f, want %f", got, tt.want)
			}
		})
	}
}
