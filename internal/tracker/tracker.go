// Package tracker keeps a durable rolling record of sync outcomes and
// decides when repeated failures warrant an alert.
package tracker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// consecutiveThreshold consecutive failures usually mean a broken
	// config or revoked credentials rather than upstream flakiness.
	consecutiveThreshold = 3

	// windowThreshold failures inside the trailing 24 hours point at
	// upstream instability even when successes are interleaved.
	windowThreshold = 10
)

// state is the persisted tracker snapshot.
type state struct {
	LastSuccess         string  `json:"last_success"`
	LastFailure         string  `json:"last_failure"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	Failures24h         []int64 `json:"failures_24h"`
}

// Stats is a read-only view of the tracker state.
type Stats struct {
	LastSuccess         string
	LastFailure         string
	ConsecutiveFailures int
	Failures24h         int
}

// Tracker records sync outcomes to a local JSON file. The consecutive
// counter resets only on success; the 24h window is a sliding set pruned on
// every write. Full-file rewrite, mutex serialized.
type Tracker struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state state
}

// Open loads tracker state from path. A missing or corrupt file starts from
// the zero state rather than failing startup.
func Open(path string) *Tracker {
	t := &Tracker{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Warn("failed to read sync tracker state, starting fresh", "path", path, "error", err)
		}
		return t
	}
	if err := json.Unmarshal(data, &t.state); err != nil {
		t.logger.Warn("corrupt sync tracker state, starting fresh", "path", path, "error", err)
		t.state = state{}
	}
	return t
}

// RecordSuccess notes a successful cycle and resets the consecutive counter.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.LastSuccess = t.now().Format(time.RFC3339)
	t.state.ConsecutiveFailures = 0
	t.save()
}

// RecordFailure notes a failed cycle: bumps the consecutive counter and
// appends to the 24h window after pruning expired entries.
func (t *Tracker) RecordFailure(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.state.LastFailure = now.Format(time.RFC3339)
	t.state.ConsecutiveFailures++

	cutoff := now.Add(-24 * time.Hour).Unix()
	kept := t.state.Failures24h[:0]
	for _, ts := range t.state.Failures24h {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	t.state.Failures24h = append(kept, now.Unix())

	t.save()

	if len(message) > 100 {
		message = message[:100]
	}
	t.logger.Debug("sync failure recorded", "error", message)
}

// ShouldAlert reports whether the failure pattern warrants attention.
// Consecutive failures take priority over window volume when both trip.
func (t *Tracker) ShouldAlert() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.ConsecutiveFailures >= consecutiveThreshold {
		return fmt.Sprintf("ALERT: %d consecutive sync failures - check config/auth", t.state.ConsecutiveFailures), true
	}
	if n := t.windowCount(); n >= windowThreshold {
		return fmt.Sprintf("ALERT: %d failures in last 24 hours - API instability?", n), true
	}
	return "", false
}

// windowCount counts unexpired window entries without mutating state.
// Callers hold t.mu.
func (t *Tracker) windowCount() int {
	cutoff := t.now().Add(-24 * time.Hour).Unix()
	n := 0
	for _, ts := range t.state.Failures24h {
		if ts > cutoff {
			n++
		}
	}
	return n
}

// Stats returns the current tracker state for status reporting.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Stats{
		LastSuccess:         t.state.LastSuccess,
		LastFailure:         t.state.LastFailure,
		ConsecutiveFailures: t.state.ConsecutiveFailures,
		Failures24h:         t.windowCount(),
	}
}

// save writes the state file. Callers hold t.mu; persistence failures are
// logged, not surfaced, so a full disk never aborts a sync cycle.
func (t *Tracker) save() {
	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		t.logger.Warn("failed to encode sync tracker state", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		t.logger.Warn("failed to create state directory", "path", t.path, "error", err)
		return
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		t.logger.Warn("failed to write sync tracker state", "path", t.path, "error", err)
	}
}
