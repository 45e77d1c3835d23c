package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Compile-time checks: PostgresStore implements both the base store and the
// native nearest-neighbor path.
var (
	_ MessageStore           = (*PostgresStore)(nil)
	_ NearestNeighborQuerier = (*PostgresStore)(nil)
)

// messageRow is the gorm model backing the messages table in Postgres.
type messageRow struct {
	SourceMessageID string          `gorm:"primaryKey;column:source_message_id"`
	Content         string          `gorm:"type:text"`
	Author          string          `gorm:"not null"`
	Channel         string          `gorm:"not null;index:idx_messages_channel_ts"`
	Ts              string          `gorm:"not null;index:idx_messages_channel_ts"`
	ThreadTs        string          `gorm:"default:''"`
	Permalink       string          `gorm:"default:''"`
	Embedding       pgvector.Vector `gorm:"type:vector(1536)"`
	Metadata        string          `gorm:"type:jsonb;default:'{}'"`
	CreatedAt       time.Time
}

func (messageRow) TableName() string { return "messages" }

// PostgresStore backs the message table with Postgres + pgvector, enabling
// server-side nearest-neighbor queries instead of the full-scan fallback.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres connects with the given DSN, enables the vector extension,
// and migrates the messages table.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("enabling pgvector extension: %w", err)
	}
	if err := db.AutoMigrate(&messageRow{}); err != nil {
		return nil, fmt.Errorf("migrating messages table: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// UpsertMessages writes rows with ON CONFLICT (source_message_id) DO UPDATE.
func (s *PostgresStore) UpsertMessages(ctx context.Context, msgs []Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	rows := make([]messageRow, len(msgs))
	for i, m := range msgs {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		metadata := m.Metadata
		if metadata == "" {
			metadata = "{}"
		}
		rows[i] = messageRow{
			SourceMessageID: m.SourceMessageID,
			Content:         m.Content,
			Author:          m.Author,
			Channel:         m.Channel,
			Ts:              m.Timestamp,
			ThreadTs:        m.ThreadTS,
			Permalink:       m.Permalink,
			Embedding:       pgvector.NewVector(m.Embedding),
			Metadata:        metadata,
			CreatedAt:       createdAt,
		}
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_message_id"}},
		UpdateAll: true,
	}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("upserting messages: %w", err)
	}
	return len(rows), nil
}

// NearestNeighbors runs the similarity ranking server-side using the
// pgvector cosine-distance operator. Similarity = 1 - distance.
func (s *PostgresStore) NearestNeighbors(ctx context.Context, vec []float32, minSimilarity float64, limit int) ([]ScoredMessage, error) {
	qv := pgvector.NewVector(vec)

	var rows []struct {
		messageRow
		Similarity float64
	}
	err := s.db.WithContext(ctx).Raw(`
		SELECT *, 1 - (embedding <=> ?) AS similarity
		FROM messages
		WHERE embedding IS NOT NULL AND 1 - (embedding <=> ?) >= ?
		ORDER BY embedding <=> ?
		LIMIT ?`,
		qv, qv, minSimilarity, qv, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("nearest neighbor query: %w", err)
	}

	results := make([]ScoredMessage, len(rows))
	for i, r := range rows {
		results[i] = ScoredMessage{Message: rowToMessage(r.messageRow), Similarity: r.Similarity}
	}
	return results, nil
}

// AllMessages returns every stored row. Kept for the shared fallback path
// and migrations between backends.
func (s *PostgresStore) AllMessages(ctx context.Context) ([]Message, error) {
	var rows []messageRow
	if err := s.db.WithContext(ctx).Order("channel ASC, ts ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	msgs := make([]Message, len(rows))
	for i, r := range rows {
		msgs[i] = rowToMessage(r)
	}
	return msgs, nil
}

// CountMessages returns the number of stored messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&messageRow{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func rowToMessage(r messageRow) Message {
	return Message{
		SourceMessageID: r.SourceMessageID,
		Content:         r.Content,
		Author:          r.Author,
		Channel:         r.Channel,
		Timestamp:       r.Ts,
		ThreadTS:        r.ThreadTs,
		Permalink:       r.Permalink,
		Embedding:       r.Embedding.Slice(),
		Metadata:        r.Metadata,
		CreatedAt:       r.CreatedAt,
	}
}
