// Package store persists enriched Slack messages with their embedding
// vectors and the scheduler's durable job registry. Two backends: SQLite
// (default, brute-force similarity via full scan) and Postgres with
// pgvector (server-side nearest-neighbor queries).
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Message is an enriched, embedded Slack message row. SourceMessageID
// (channel + origin timestamp) is the idempotence key: re-syncing the same
// message replaces the row, never duplicates it.
type Message struct {
	SourceMessageID string
	Content         string
	Author          string
	Channel         string
	Timestamp       string // Slack origin timestamp, e.g. "1700000000.000100"
	ThreadTS        string
	Permalink       string
	Embedding       []float32
	Metadata        string // JSON object stored as text
	CreatedAt       time.Time
}

// ScoredMessage is a Message with its cosine similarity to a query vector.
type ScoredMessage struct {
	Message
	Similarity float64
}

// SyncJob is one row of the durable job registry: which channel syncs at
// what cadence. The registry survives restarts; the scheduler's in-memory
// timers are rebuilt from it (or from config) on startup.
type SyncJob struct {
	ChannelID       string
	IntervalMinutes int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MessageStore is the interface both backends implement.
type MessageStore interface {
	// UpsertMessages writes rows keyed by SourceMessageID with
	// insert-or-replace semantics and returns the number written.
	UpsertMessages(ctx context.Context, msgs []Message) (int, error)

	// AllMessages returns every stored row, embeddings included. Feeds the
	// client-side similarity fallback; bounded-corpus use only.
	AllMessages(ctx context.Context) ([]Message, error)

	// CountMessages returns the number of stored messages.
	CountMessages(ctx context.Context) (int, error)
}

// NearestNeighborQuerier is implemented by backends with a native vector
// index. The search layer prefers it over the full-scan fallback.
type NearestNeighborQuerier interface {
	// NearestNeighbors returns up to limit rows ordered by descending cosine
	// similarity to vec, each with similarity >= minSimilarity.
	NearestNeighbors(ctx context.Context, vec []float32, minSimilarity float64, limit int) ([]ScoredMessage, error)
}

// encodeFloat32s serializes a vector to little-endian bytes for BLOB storage.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a float32 slice.
// A length that is not a multiple of 4 indicates data corruption.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
