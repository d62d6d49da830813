package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register driver

	"github.com/quiltfox/fablebot/pkg/backend"
)

// Store persists conversation transcripts and long-term memory summaries in
// SQLite. A single connection is enforced so concurrent writers never hit
// SQLITE_BUSY.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_chat_id ON conversations (chat_id);`,
		`CREATE TABLE IF NOT EXISTS long_term_memory (
			chat_id INTEGER PRIMARY KEY,
			summary TEXT NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}
	return nil
}

// AppendMessage adds one message to a conversation transcript.
func (s *Store) AppendMessage(chatID int64, role, content string) error {
	_, err := s.db.Exec(
		"INSERT INTO conversations (chat_id, role, content) VALUES (?, ?, ?)",
		chatID, role, content,
	)
	if err != nil {
		return fmt.Errorf("append message for chat %d: %w", chatID, err)
	}
	return nil
}

// History returns the most recent limit messages in insertion order, plus the
// total persisted message count for the chat. limit 0 means unbounded.
func (s *Store) History(chatID int64, limit int) ([]backend.Message, int, error) {
	var total int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM conversations WHERE chat_id = ?", chatID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages for chat %d: %w", chatID, err)
	}

	var rows *sql.Rows
	var err error
	if limit == 0 {
		rows, err = s.db.Query(
			"SELECT role, content FROM conversations WHERE chat_id = ? ORDER BY id ASC",
			chatID,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT role, content FROM (
				SELECT id, role, content FROM conversations
				WHERE chat_id = ?
				ORDER BY id DESC
				LIMIT ?
			) ORDER BY id ASC`,
			chatID, limit,
		)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("query history for chat %d: %w", chatID, err)
	}
	defer rows.Close()

	var history []backend.Message
	for rows.Next() {
		var m backend.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, 0, fmt.Errorf("scan history row: %w", err)
		}
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate history for chat %d: %w", chatID, err)
	}
	return history, total, nil
}

// Summary returns the long-term memory summary for a chat; ok is false when
// none has been stored yet.
func (s *Store) Summary(chatID int64) (string, bool, error) {
	var summary string
	err := s.db.QueryRow(
		"SELECT summary FROM long_term_memory WHERE chat_id = ?", chatID,
	).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get summary for chat %d: %w", chatID, err)
	}
	return summary, true, nil
}

// SetSummary replaces the stored summary wholesale. Accumulation semantics
// (old + new) are the caller's concern.
func (s *Store) SetSummary(chatID int64, summary string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO long_term_memory (chat_id, summary) VALUES (?, ?)",
		chatID, summary,
	)
	if err != nil {
		return fmt.Errorf("set summary for chat %d: %w", chatID, err)
	}
	return nil
}

// ClearConversation deletes both the transcript and the memory summary.
func (s *Store) ClearConversation(chatID int64) error {
	if _, err := s.db.Exec("DELETE FROM conversations WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("clear history for chat %d: %w", chatID, err)
	}
	if _, err := s.db.Exec("DELETE FROM long_term_memory WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("clear memory for chat %d: %w", chatID, err)
	}
	return nil
}

// DeleteLastTurn removes the most recent user+assistant pair, used by
// regeneration.
func (s *Store) DeleteLastTurn(chatID int64) error {
	_, err := s.db.Exec(
		`DELETE FROM conversations WHERE id IN (
			SELECT id FROM conversations
			WHERE chat_id = ? ORDER BY id DESC LIMIT 2
		)`,
		chatID,
	)
	if err != nil {
		return fmt.Errorf("delete last turn for chat %d: %w", chatID, err)
	}
	return nil
}
