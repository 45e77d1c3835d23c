package embeddings

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// cacheEntry is one persisted cache record. The text and model are stored
// alongside the vector for inspectability; the key alone identifies them.
type cacheEntry struct {
	Text      string    `json:"text"`
	Model     string    `json:"model"`
	Embedding []float32 `json:"embedding"`
	Timestamp int64     `json:"timestamp"`
}

// Cache memoizes (model, text) -> embedding vector in a single JSON file.
// The file is rewritten in full on every Set; cache sizes stay small enough
// that the O(size) write cost is acceptable. A miss never means the vector
// cannot be computed, only that it has not been computed locally yet.
type Cache struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
	hits    int
	misses  int
}

// OpenCache loads the cache at path, creating parent directories as needed.
// A corrupt or missing file resets to an empty cache rather than failing.
func OpenCache(path string) *Cache {
	c := &Cache{
		path:    path,
		logger:  slog.Default(),
		entries: make(map[string]cacheEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("failed to read embedding cache, starting empty", "path", path, "error", err)
		}
		return c
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		c.logger.Warn("corrupt embedding cache, starting empty", "path", path, "error", err)
		c.entries = make(map[string]cacheEntry)
	}
	return c
}

// cacheKey hashes model and exact text together so identical text embedded
// under different models never collides.
func cacheKey(text, model string) string {
	sum := sha256.Sum256([]byte(model + ":" + text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for (text, model), if present.
func (c *Cache) Get(text, model string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[cacheKey(text, model)]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.Embedding, true
}

// Set stores the vector for (text, model) and persists the whole cache.
func (c *Cache) Set(text, model string, embedding []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(text, model)] = cacheEntry{
		Text:      text,
		Model:     model,
		Embedding: embedding,
		Timestamp: time.Now().Unix(),
	}
	c.save()
}

// save writes the full cache file. Callers hold c.mu.
func (c *Cache) save() {
	data, err := json.Marshal(c.entries)
	if err != nil {
		c.logger.Warn("failed to encode embedding cache", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.logger.Warn("failed to create cache directory", "path", c.path, "error", err)
		return
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		c.logger.Warn("failed to write embedding cache", "path", c.path, "error", err)
	}
}

// Stats returns process-local hit/miss counters. They reset on restart.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
