package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"liveline/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	started_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	is_error INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	FOREIGN KEY(session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id, id);
`

// SQLite persists conversation entries to a local database file.
type SQLite struct {
	db      *sql.DB
	timeout time.Duration
}

func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	return &SQLite{db: db, timeout: 5 * time.Second}, nil
}

func (s *SQLite) Append(entry domain.ChatEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin journal write: %w", err)
	}
	defer tx.Rollback()

	createdAt := entry.CreatedAt.UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, started_at) VALUES (?, ?)`,
		entry.SessionID, createdAt,
	); err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (session_id, role, content, is_error, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.SessionID, string(entry.Role), entry.Content, entry.IsError, createdAt,
	); err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return tx.Commit()
}

// Entries returns a session's entries in append order.
func (s *SQLite) Entries(ctx context.Context, sessionID string) ([]domain.ChatEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, role, content, is_error, created_at FROM entries WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.ChatEntry
	for rows.Next() {
		var (
			entry domain.ChatEntry
			role  string
		)
		if err := rows.Scan(&entry.SessionID, &role, &entry.Content, &entry.IsError, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entry.Role = domain.ChatRole(role)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
