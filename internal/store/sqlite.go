package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Compile-time check that SQLiteStore implements MessageStore.
var _ MessageStore = (*SQLiteStore)(nil)

// SQLiteStore is the default backend. It has no vector index; the search
// layer falls back to a client-side scan over AllMessages.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "kraken.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: slog.Default()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate applies embedded SQL migrations that haven't been run yet.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// UpsertMessages writes rows with insert-or-replace semantics keyed by
// source_message_id. Re-running a sync cycle over already-seen messages
// overwrites rather than duplicating.
func (s *SQLiteStore) UpsertMessages(ctx context.Context, msgs []Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (source_message_id, content, author, channel, ts, thread_ts, permalink, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_message_id) DO UPDATE SET
			content = excluded.content,
			author = excluded.author,
			channel = excluded.channel,
			ts = excluded.ts,
			thread_ts = excluded.thread_ts,
			permalink = excluded.permalink,
			embedding = excluded.embedding,
			metadata = excluded.metadata`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		metadata := m.Metadata
		if metadata == "" {
			metadata = "{}"
		}
		var blob []byte
		if m.Embedding != nil {
			blob = encodeFloat32s(m.Embedding)
		}
		if _, err := stmt.Exec(
			m.SourceMessageID, m.Content, m.Author, m.Channel, m.Timestamp,
			m.ThreadTS, m.Permalink, blob, metadata, createdAt.Format(time.RFC3339),
		); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("upserting message %s: %w", m.SourceMessageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing upsert: %w", err)
	}
	return len(msgs), nil
}

// AllMessages returns every stored row in channel/timestamp order.
func (s *SQLiteStore) AllMessages(ctx context.Context) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_message_id, content, author, channel, ts, thread_ts, permalink, embedding, metadata, created_at
		FROM messages ORDER BY channel ASC, ts ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var blob []byte
		var createdAt string
		if err := rows.Scan(&m.SourceMessageID, &m.Content, &m.Author, &m.Channel, &m.Timestamp,
			&m.ThreadTS, &m.Permalink, &blob, &m.Metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		// A corrupt row must not take the rest of the table with it: the
		// message survives without a vector and the search layer skips it.
		if len(blob) > 0 {
			embedding, err := decodeFloat32s(blob)
			if err != nil {
				s.logger.Warn("skipping unreadable embedding", "message", m.SourceMessageID, "error", err)
			} else {
				m.Embedding = embedding
			}
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err != nil {
			s.logger.Warn("skipping unreadable created_at", "message", m.SourceMessageID, "error", err)
		} else {
			m.CreatedAt = t
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessages returns the number of stored messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count)
	return count, err
}

// --- Sync job registry ---

// SaveSyncJob registers (or re-registers) the sync cadence for a channel.
// Re-adding the same channel replaces the interval.
func (s *SQLiteStore) SaveSyncJob(ctx context.Context, job SyncJob) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_jobs (channel_id, interval_minutes, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			interval_minutes = excluded.interval_minutes,
			updated_at = excluded.updated_at`,
		job.ChannelID, job.IntervalMinutes, now, now)
	return err
}

// ListSyncJobs returns the registered jobs in channel order.
func (s *SQLiteStore) ListSyncJobs(ctx context.Context) ([]SyncJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, interval_minutes, created_at, updated_at
		FROM sync_jobs ORDER BY channel_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying sync jobs: %w", err)
	}
	defer rows.Close()

	var jobs []SyncJob
	for rows.Next() {
		var j SyncJob
		var createdAt, updatedAt string
		if err := rows.Scan(&j.ChannelID, &j.IntervalMinutes, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning sync job: %w", err)
		}
		if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ChannelID, err)
		}
		if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ChannelID, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteSyncJob removes a channel's registry entry.
func (s *SQLiteStore) DeleteSyncJob(ctx context.Context, channelID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sync_jobs WHERE channel_id = ?", channelID)
	if err != nil {
		return fmt.Errorf("deleting sync job %s: %w", channelID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
