package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/krakenhq/kraken/internal/retry"
	"github.com/krakenhq/kraken/internal/slack"
	"github.com/krakenhq/kraken/internal/store"
)

const (
	// pageSize is the conversations.history page size.
	pageSize = 100

	// maxPages bounds worst-case cycle duration. A cycle that hits the
	// ceiling still advances the watermark past what it processed, so the
	// remainder arrives on the next fire.
	maxPages = 10
)

// MessageLister is the slice of the Slack client the engine needs.
type MessageLister interface {
	ListMessages(ctx context.Context, channelID, cursor, oldest string, limit int) ([]slack.RawMessage, string, error)
}

// BatchEmbedder turns a batch of texts into positionally aligned vectors.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// OutcomeRecorder receives the outcome of every cycle. Implemented by
// tracker.Tracker.
type OutcomeRecorder interface {
	RecordSuccess()
	RecordFailure(message string)
	ShouldAlert() (string, bool)
}

// Summary describes one completed sync cycle.
type Summary struct {
	Channel  string
	Fetched  int
	Enriched int
	Written  int
}

// Engine orchestrates one incremental sync cycle per call:
// fetch -> enrich -> embed -> upsert -> advance watermark.
type Engine struct {
	client     MessageLister
	enricher   *Enricher
	embedder   BatchEmbedder
	store      store.MessageStore
	watermarks *WatermarkStore
	tracker    OutcomeRecorder
	logger     *slog.Logger
}

// NewEngine wires a sync engine from its collaborators.
func NewEngine(client MessageLister, enricher *Enricher, embedder BatchEmbedder, st store.MessageStore, watermarks *WatermarkStore, tracker OutcomeRecorder) *Engine {
	return &Engine{
		client:     client,
		enricher:   enricher,
		embedder:   embedder,
		store:      st,
		watermarks: watermarks,
		tracker:    tracker,
		logger:     slog.Default(),
	}
}

// SyncChannel runs one full cycle for a channel. Every outcome is reported
// to the tracker; alert strings are surfaced to the log, not acted on. On
// failure the watermark is untouched, so the next cycle safely re-fetches
// from the last durable position (upsert is idempotent).
func (e *Engine) SyncChannel(ctx context.Context, channelID string) (Summary, error) {
	runID := uuid.New().String()[:8]
	log := e.logger.With("channel", channelID, "run", runID)

	summary, err := e.runCycle(ctx, log, channelID)
	if err != nil {
		log.Error("sync failed", "error", err)
		e.tracker.RecordFailure(err.Error())
		if alert, ok := e.tracker.ShouldAlert(); ok {
			log.Error(alert)
		}
		return summary, err
	}

	e.tracker.RecordSuccess()
	if alert, ok := e.tracker.ShouldAlert(); ok {
		log.Warn(alert)
	}
	return summary, nil
}

func (e *Engine) runCycle(ctx context.Context, log *slog.Logger, channelID string) (Summary, error) {
	summary := Summary{Channel: channelID}

	wm := e.watermarks.Get(channelID)
	if wm.LastMessageTS != "" {
		log.Info("incremental sync", "since", wm.LastMessageTS)
	} else {
		log.Info("full sync (no watermark)")
	}

	// Fetching: accumulate pages until the source reports no further cursor
	// or the page ceiling is hit. Each page fetch goes through the retry
	// executor.
	var raw []slack.RawMessage
	cursor := ""
	for page := 1; ; page++ {
		type pageResult struct {
			msgs   []slack.RawMessage
			cursor string
		}
		result, err := retry.Do(
			retry.Config{MaxAttempts: 3, Name: fmt.Sprintf("Slack conversations.history (channel=%s)", channelID)},
			func() (pageResult, error) {
				msgs, next, err := e.client.ListMessages(ctx, channelID, cursor, wm.LastMessageTS, pageSize)
				return pageResult{msgs: msgs, cursor: next}, err
			})
		if err != nil {
			return summary, fmt.Errorf("fetching page %d: %w", page, err)
		}

		raw = append(raw, result.msgs...)
		log.Info("fetched page", "page", page, "messages", len(result.msgs))

		cursor = result.cursor
		if cursor == "" {
			break
		}
		if page >= maxPages {
			log.Warn("reached page limit, stopping fetch", "pages", maxPages)
			break
		}
	}
	summary.Fetched = len(raw)

	if len(raw) == 0 {
		log.Info("no new messages")
		return summary, nil
	}

	// Enriching: zero surviving messages short-circuits to a successful
	// cycle without touching the watermark.
	enriched, err := e.enricher.Enrich(ctx, raw, channelID)
	if err != nil {
		return summary, fmt.Errorf("enriching messages: %w", err)
	}
	summary.Enriched = len(enriched)

	if len(enriched) == 0 {
		log.Info("no user messages after filtering")
		return summary, nil
	}

	// Embedding: one batched call; vector[i] corresponds to enriched[i].
	texts := make([]string, len(enriched))
	for i, m := range enriched {
		texts[i] = m.Content
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return summary, fmt.Errorf("embedding batch: %w", err)
	}
	if len(vectors) != len(enriched) {
		return summary, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(enriched))
	}
	for i := range enriched {
		enriched[i].Embedding = vectors[i]
	}

	// Upserting: keyed by source_message_id, through the retry executor.
	written, err := retry.Do(
		retry.Config{MaxAttempts: 3, Name: "message store upsert"},
		func() (int, error) {
			return e.store.UpsertMessages(ctx, enriched)
		})
	if err != nil {
		return summary, fmt.Errorf("upserting messages: %w", err)
	}
	summary.Written = written

	// Advancing watermark: only after the upsert fully succeeded.
	newest := enriched[0].Timestamp
	for _, m := range enriched[1:] {
		if m.Timestamp > newest {
			newest = m.Timestamp
		}
	}
	if err := e.watermarks.Advance(channelID, newest); err != nil {
		return summary, fmt.Errorf("advancing watermark: %w", err)
	}

	log.Info("sync complete", "written", written, "watermark", newest)
	return summary, nil
}
