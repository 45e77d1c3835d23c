// Package retry wraps fallible operations with transient-error
// classification and exponential backoff.
package retry

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// transientMarkers are matched (case-insensitive substring) against both the
// error text and the error's Go type name. Anything that matches is assumed
// to resolve on retry; everything else is permanent and surfaced immediately.
var transientMarkers = []string{
	"ratelimited",
	"rate_limit",
	"rate limit",
	"service_unavailable",
	"connection",
	"timeout",
	"temporary",
	"503",
	"502",
	"504",
	"writeerror",
	"readtimeout",
}

// IsTransient reports whether err looks like a transient failure worth
// retrying. Classification is by textual inspection so it works uniformly
// across the Slack, OpenAI, and database client error types.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	errType := strings.ToLower(fmt.Sprintf("%T", err))

	for _, marker := range transientMarkers {
		if strings.Contains(errStr, marker) || strings.Contains(errType, marker) {
			return true
		}
	}
	return false
}

// Config controls a retried operation.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Defaults to 3 when <= 0.
	MaxAttempts int

	// BaseDelay is the sleep before the first retry; each subsequent retry
	// doubles it. Defaults to 2s when <= 0. No jitter, no ceiling.
	BaseDelay time.Duration

	// Name identifies the operation in log lines.
	Name string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// sleep is replaced in tests.
	sleep func(time.Duration)
}

func (c *Config) fill() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.Name == "" {
		c.Name = "operation"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.sleep == nil {
		c.sleep = time.Sleep
	}
}

// Do executes op, retrying transient failures with exponential backoff.
// Permanent failures return immediately; after MaxAttempts the last error
// is returned.
func Do[T any](cfg Config, op func() (T, error)) (T, error) {
	cfg.fill()

	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) {
			cfg.Logger.Warn("permanent error, not retrying",
				"operation", cfg.Name, "error", err)
			return zero, err
		}

		if attempt >= cfg.MaxAttempts-1 {
			cfg.Logger.Error("retries exhausted",
				"operation", cfg.Name, "attempts", cfg.MaxAttempts, "error", err)
			return zero, err
		}

		delay := cfg.BaseDelay << attempt
		cfg.Logger.Warn("transient error, retrying",
			"operation", cfg.Name,
			"attempt", attempt+1,
			"max_attempts", cfg.MaxAttempts,
			"delay", delay,
			"error", err)
		cfg.sleep(delay)
	}

	return zero, lastErr
}
