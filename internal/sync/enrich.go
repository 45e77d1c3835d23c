// Package sync runs the incremental Slack ingestion pipeline: fetch pages,
// enrich, embed, upsert, advance the per-channel watermark.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	stdsync "sync"

	"github.com/krakenhq/kraken/internal/retry"
	"github.com/krakenhq/kraken/internal/slack"
	"github.com/krakenhq/kraken/internal/store"
)

// UserLister is the slice of the Slack client the enricher needs.
type UserLister interface {
	ListUsers(ctx context.Context) ([]slack.User, error)
}

// Enricher converts raw channel messages into canonical store rows. The
// workspace member snapshot is fetched once and reused for the lifetime of
// the service instance.
type Enricher struct {
	users  UserLister
	logger *slog.Logger

	once    stdsync.Once
	userMap map[string]string
}

// NewEnricher creates an Enricher backed by the given user source.
func NewEnricher(users UserLister) *Enricher {
	return &Enricher{users: users, logger: slog.Default()}
}

// userNames returns the cached user-id -> display-name snapshot, fetching it
// on first use. A fetch failure leaves the map empty: authors then fall back
// to raw user ids, which is degraded but never fatal.
func (e *Enricher) userNames(ctx context.Context) map[string]string {
	e.once.Do(func() {
		e.userMap = make(map[string]string)

		members, err := retry.Do(retry.Config{MaxAttempts: 3, Name: "Slack users.list"}, func() ([]slack.User, error) {
			return e.users.ListUsers(ctx)
		})
		if err != nil {
			e.logger.Warn("failed to fetch user list, falling back to raw user ids", "error", err)
			return
		}

		for _, u := range members {
			if u.Deleted {
				continue
			}
			name := u.RealName
			if name == "" {
				name = u.Name
			}
			if name == "" {
				name = u.ID
			}
			e.userMap[u.ID] = name
		}
		e.logger.Info("cached workspace users", "count", len(e.userMap))
	})
	return e.userMap
}

// Enrich filters out system messages (non-empty subtype) and empty texts,
// resolves authors, and builds permalinks. Output order matches input order.
func (e *Enricher) Enrich(ctx context.Context, raw []slack.RawMessage, channelID string) ([]store.Message, error) {
	userMap := e.userNames(ctx)

	var enriched []store.Message
	for _, msg := range raw {
		if msg.Subtype != "" {
			continue
		}
		if msg.Text == "" {
			continue
		}

		userID := msg.User
		if userID == "" {
			userID = "unknown"
		}
		author, ok := userMap[userID]
		if !ok {
			author = userID
		}

		ts := msg.TS
		if ts == "" {
			ts = "0"
		}

		metadata, err := json.Marshal(map[string]string{
			"type":    messageType(msg),
			"user_id": userID,
		})
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}

		enriched = append(enriched, store.Message{
			SourceMessageID: channelID + "_" + ts,
			Content:         msg.Text,
			Author:          author,
			Channel:         channelID,
			Timestamp:       ts,
			ThreadTS:        msg.ThreadTS,
			Permalink:       Permalink(channelID, ts),
			Metadata:        string(metadata),
		})
	}
	return enriched, nil
}

func messageType(msg slack.RawMessage) string {
	if msg.Type == "" {
		return "message"
	}
	return msg.Type
}

// Permalink builds the deterministic archive URL for a message: the origin
// timestamp with its dot removed, prefixed with "p".
func Permalink(channelID, ts string) string {
	return "https://slack.com/archives/" + channelID + "/p" + strings.ReplaceAll(ts, ".", "")
}
