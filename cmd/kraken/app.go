package main

import (
	"fmt"
	"path/filepath"

	"github.com/krakenhq/kraken/internal/config"
	"github.com/krakenhq/kraken/internal/embeddings"
	"github.com/krakenhq/kraken/internal/search"
	"github.com/krakenhq/kraken/internal/slack"
	"github.com/krakenhq/kraken/internal/store"
	"github.com/krakenhq/kraken/internal/sync"
	"github.com/krakenhq/kraken/internal/tracker"
)

// app bundles the wired components shared by the serve, sync, and search
// commands.
type app struct {
	cfg      config.Config
	sqlite   *store.SQLiteStore
	messages store.MessageStore
	cache    *embeddings.Cache
	embedder *embeddings.Embedder
	slack    *slack.Client
	engine   *sync.Engine
	searcher *search.Searcher
	tracker  *tracker.Tracker
}

// buildApp wires the full component graph from configuration. SQLite is
// always opened: it holds job definitions and serves as the message store
// unless DATABASE_URL points at Postgres.
func buildApp(cfg config.Config) (*app, error) {
	sqlite, err := store.OpenSQLite(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	var messages store.MessageStore = sqlite
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			sqlite.Close()
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		messages = pg
	}

	var cache *embeddings.Cache
	if cfg.CacheEnabled {
		cache = embeddings.OpenCache(filepath.Join(cfg.CacheDir, "embeddings.json"))
	}
	embedder := embeddings.NewEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cache)

	slackClient := slack.New(cfg.SlackToken)
	enricher := sync.NewEnricher(slackClient)
	watermarks := sync.OpenWatermarks(filepath.Join(cfg.DataDir, "slack_sync_state.json"))
	trk := tracker.Open(filepath.Join(cfg.DataDir, "sync_tracker.json"))
	engine := sync.NewEngine(slackClient, enricher, embedder, messages, watermarks, trk)

	return &app{
		cfg:      cfg,
		sqlite:   sqlite,
		messages: messages,
		cache:    cache,
		embedder: embedder,
		slack:    slackClient,
		engine:   engine,
		searcher: search.NewSearcher(embedder, messages),
		tracker:  trk,
	}, nil
}

func (a *app) close() {
	a.sqlite.Close()
}
