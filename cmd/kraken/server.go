package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/krakenhq/kraken/internal/api"
	"github.com/krakenhq/kraken/internal/config"
	"github.com/krakenhq/kraken/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon and MCP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	// MCP owns stdout; everything else goes to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func runServe() error {
	fmt.Fprintf(os.Stderr, "kraken version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// Scheduler: register configured channels, then start the minute loop.
	sched, err := scheduler.New(a.engine, a.sqlite)
	if err != nil {
		return err
	}
	for _, ch := range cfg.Channels {
		if err := sched.AddChannelSync(ctx, ch, cfg.SyncIntervalMinutes); err != nil {
			return fmt.Errorf("registering channel %s: %w", ch, err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	// MCP server over stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Searcher:      a.searcher,
		DefaultLimit:  cfg.DefaultSearchLimit,
		MinSimilarity: cfg.MinSimilarity,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Health and stats over HTTP.
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.HTTPPort),
		Handler: newRouter(a, sched),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRouter(a *app, sched *scheduler.Scheduler) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		count, err := a.messages.CountMessages(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		trackerStats := a.tracker.Stats()
		stats := map[string]any{
			"messages": count,
			"sync": map[string]any{
				"last_success":         trackerStats.LastSuccess,
				"last_failure":         trackerStats.LastFailure,
				"consecutive_failures": trackerStats.ConsecutiveFailures,
				"failures_24h":         trackerStats.Failures24h,
			},
			"jobs": sched.Jobs(),
		}
		if a.cache != nil {
			hits, misses := a.cache.Stats()
			stats["cache"] = map[string]int{"hits": hits, "misses": misses}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})

	return r
}
