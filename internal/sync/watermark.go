package sync

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"
)

// Watermark records the newest origin timestamp successfully embedded and
// stored for a channel, plus when that happened. The next cycle fetches only
// messages newer than LastMessageTS.
type Watermark struct {
	LastMessageTS string `json:"last_message_ts"`
	LastSyncAt    string `json:"last_sync_at"`
}

// WatermarkStore persists per-channel watermarks to a local JSON file,
// decoupled from the remote message store so restarts resume incrementally
// even when the store is unreachable. Full-file rewrite on every save,
// serialized by a mutex.
type WatermarkStore struct {
	path   string
	logger *slog.Logger

	mu    stdsync.Mutex
	state map[string]Watermark
}

// OpenWatermarks loads the watermark file at path. A missing or corrupt
// file starts empty (full re-sync, safe because upsert is idempotent).
func OpenWatermarks(path string) *WatermarkStore {
	w := &WatermarkStore{
		path:   path,
		logger: slog.Default(),
		state:  make(map[string]Watermark),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("failed to read sync state, starting fresh", "path", path, "error", err)
		}
		return w
	}
	if err := json.Unmarshal(data, &w.state); err != nil {
		w.logger.Warn("corrupt sync state, starting fresh", "path", path, "error", err)
		w.state = make(map[string]Watermark)
	}
	return w
}

// Get returns the watermark for a channel. The zero value means no prior
// successful sync: fetch from the beginning.
func (w *WatermarkStore) Get(channelID string) Watermark {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state[channelID]
}

// Advance persists a new watermark for a channel. Called only after a fully
// successful cycle.
func (w *WatermarkStore) Advance(channelID, lastMessageTS string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.state[channelID] = Watermark{
		LastMessageTS: lastMessageTS,
		LastSyncAt:    time.Now().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(w.state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(w.path, data, 0o644)
}
