// Package config loads application configuration from environment variables
// (optionally via a .env file) with defaults and startup validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the daemon and CLI.
type Config struct {
	// Credentials
	OpenAIAPIKey string // OPENAI_API_KEY
	SlackToken   string // SLACK_BOT_TOKEN

	// Embeddings
	EmbeddingModel string // OPENAI_EMBEDDING_MODEL
	CacheEnabled   bool   // EMBEDDING_CACHE_ENABLED
	CacheDir       string // CACHE_DIR

	// Sync
	Channels            []string // SYNC_CHANNELS, comma separated channel IDs
	SyncIntervalMinutes int      // SYNC_INTERVAL_MINUTES in [1,1440]

	// Storage
	DataDir     string // DATA_DIR, SQLite and state files live here
	DatabaseURL string // DATABASE_URL, optional Postgres DSN

	// Search
	DefaultSearchLimit int     // DEFAULT_SEARCH_LIMIT in [1,20]
	MinSimilarity      float64 // MIN_SIMILARITY_THRESHOLD in [0,1]

	// Server
	HTTPPort int    // HTTP_PORT
	LogLevel string // LOG_LEVEL: debug|info|warn|error
}

// Load reads a .env file if present, applies environment variables over
// defaults, and validates the result. All validation problems are reported
// in one error so a broken deploy surfaces everything at once.
func Load() (Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	// Unparseable numbers are configuration problems, not silent defaults.
	var problems []string

	cfg := Config{
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		SlackToken:   os.Getenv("SLACK_BOT_TOKEN"),

		EmbeddingModel: getenv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		CacheEnabled:   getbool("EMBEDDING_CACHE_ENABLED", true),
		CacheDir:       getenv("CACHE_DIR", ".cache"),

		Channels:            splitCSV(os.Getenv("SYNC_CHANNELS")),
		SyncIntervalMinutes: getint("SYNC_INTERVAL_MINUTES", 60, &problems),

		DataDir:     getenv("DATA_DIR", "data"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		DefaultSearchLimit: getint("DEFAULT_SEARCH_LIMIT", 5, &problems),
		MinSimilarity:      getfloat("MIN_SIMILARITY_THRESHOLD", 0.35, &problems),

		HTTPPort: getint("HTTP_PORT", 8080, &problems),
		LogLevel: strings.ToLower(getenv("LOG_LEVEL", "info")),
	}

	problems = append(problems, cfg.validate()...)
	if len(problems) > 0 {
		return cfg, fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return cfg, nil
}

func (c Config) validate() []string {
	var problems []string

	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		problems = append(problems, "OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(c.SlackToken) == "" {
		problems = append(problems, "SLACK_BOT_TOKEN is required")
	}
	for _, ch := range c.Channels {
		if !validChannelID(ch) {
			problems = append(problems, fmt.Sprintf("SYNC_CHANNELS entry %q does not look like a channel ID (C + 10 chars)", ch))
		}
	}
	if c.SyncIntervalMinutes < 1 || c.SyncIntervalMinutes > 1440 {
		problems = append(problems, fmt.Sprintf("SYNC_INTERVAL_MINUTES must be between 1 and 1440, got %d", c.SyncIntervalMinutes))
	}
	if c.DefaultSearchLimit < 1 || c.DefaultSearchLimit > 20 {
		problems = append(problems, fmt.Sprintf("DEFAULT_SEARCH_LIMIT must be between 1 and 20, got %d", c.DefaultSearchLimit))
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		problems = append(problems, fmt.Sprintf("MIN_SIMILARITY_THRESHOLD must be between 0 and 1, got %g", c.MinSimilarity))
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		problems = append(problems, fmt.Sprintf("HTTP_PORT must be a valid port, got %d", c.HTTPPort))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel))
	}

	return problems
}

// validChannelID checks the shape of a Slack channel ID: an uppercase C
// followed by ten alphanumerics.
func validChannelID(id string) bool {
	if len(id) != 11 || id[0] != 'C' {
		return false
	}
	for _, r := range id[1:] {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getint(k string, def int, problems *[]string) int {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s=%q is not an integer", k, v))
		return def
	}
	return i
}

func getfloat(k string, def float64, problems *[]string) float64 {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s=%q is not a number", k, v))
		return def
	}
	return f
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
