package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/krakenhq/kraken/internal/config"
	"github.com/krakenhq/kraken/internal/tracker"
)

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	Long: `Run one sync cycle for the configured channels and exit.

Examples:
  kraken sync
  kraken sync --channel C0TESTCHAN1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.LogLevel)

		channels := cfg.Channels
		if channel != "" {
			channels = []string{channel}
		}
		if len(channels) == 0 {
			return fmt.Errorf("no channels configured: set SYNC_CHANNELS or pass --channel")
		}

		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		failed := 0
		for _, ch := range channels {
			printStep("Syncing %s...", ch)
			summary, err := a.engine.SyncChannel(ctx, ch)
			if err != nil {
				printError("Sync failed for %s: %v", ch, err)
				failed++
				continue
			}
			printSuccess("Synced %s: fetched %d, stored %d", ch, summary.Fetched, summary.Written)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d channels failed", failed, len(channels))
		}
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over synced messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.LogLevel)

		if limit <= 0 {
			limit = cfg.DefaultSearchLimit
		}

		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		results, err := a.searcher.Query(cmd.Context(), query, limit, cfg.MinSimilarity)
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range results {
			header := fmt.Sprintf("%d. %s in #%s", i+1, r.Author, r.Channel)
			fmt.Printf("\n%s [similarity: %.2f]\n", colorize(colorBold, header), r.Similarity)
			fmt.Printf("  %s\n", truncate(r.Content, 500))
			if r.Permalink != "" {
				fmt.Printf("  %s\n", colorize(colorCyan, r.Permalink))
			}
		}
		return nil
	},
}

// truncate cuts on a rune boundary so multi-byte text never splits mid-rune.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func init() {
	syncCmd.Flags().String("channel", "", "sync a single channel ID instead of the configured set")
	searchCmd.Flags().Int("limit", 0, "maximum number of results (default from config)")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync and storage status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		printStatus("Data dir", "%s", cfg.DataDir)
		if cfg.DatabaseURL != "" {
			printStatus("Message store", "postgres")
		} else {
			printStatus("Message store", "sqlite")
		}
		printStatus("Channels", "%s", strings.Join(cfg.Channels, ", "))
		printStatus("Interval", "%d minutes", cfg.SyncIntervalMinutes)
		printStatus("Embedding model", "%s", cfg.EmbeddingModel)

		a, err := buildApp(cfg)
		if err != nil {
			printError("storage error: %v", err)
			return nil
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		if count, err := a.messages.CountMessages(ctx); err == nil {
			printStatus("Messages", "%d", count)
		}

		printTrackerStats(a.tracker.Stats())
		if a.cache != nil {
			printStatus("Cache entries", "%d", a.cache.Len())
		}

		if alert, ok := a.tracker.ShouldAlert(); ok {
			printWarning("%s", alert)
		}
		return nil
	},
}

func printTrackerStats(stats tracker.Stats) {
	if stats.LastSuccess != "" {
		printStatus("Last success", "%s", stats.LastSuccess)
	}
	if stats.LastFailure != "" {
		printStatus("Last failure", "%s", stats.LastFailure)
	}
	if stats.ConsecutiveFailures > 0 {
		printStatus("Consecutive failures", "%d", stats.ConsecutiveFailures)
	}
	if stats.Failures24h > 0 {
		printStatus("Failures (24h)", "%d", stats.Failures24h)
	}
}
