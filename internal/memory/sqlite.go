// ABOUTME: SQLite implementation of the memory Store using modernc.org/sqlite.
// ABOUTME: Provides turn persistence with automatic schema creation and WAL mode.

package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite. Memory survives
// process restarts, which is the point: the retention window is independent
// of gateway lifetime.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "memory")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("memory store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS turns (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id  TEXT NOT NULL,
			actor_id   TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_turns_key_created
			ON turns(memory_id, actor_id, session_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_turns_expires
			ON turns(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AppendTurn appends one turn to the session's stream.
func (s *SQLiteStore) AppendTurn(ctx context.Context, key Key, turn Turn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (memory_id, actor_id, session_id, role, content, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.MemoryID, key.ActorID, key.SessionID,
		turn.Role, turn.Content,
		turn.CreatedAt.UTC().Format(time.RFC3339Nano),
		turn.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	return nil
}

// LastTurns returns up to k most recent unexpired turns, oldest first.
func (s *SQLiteStore) LastTurns(ctx context.Context, key Key, k int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at, expires_at
		FROM turns
		WHERE memory_id = ? AND actor_id = ? AND session_id = ? AND expires_at > ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		key.MemoryID, key.ActorID, key.SessionID,
		time.Now().UTC().Format(time.RFC3339Nano), k,
	)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var createdAt, expiresAt string
		if err := rows.Scan(&turn.Role, &turn.Content, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		if turn.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if turn.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
			return nil, fmt.Errorf("parsing expires_at: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest-first; callers want oldest-first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// PurgeExpired physically removes expired turns.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE expires_at <= ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("purging turns: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
