package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const defaultMaxOpenConns = 1

// SQLiteStore persists conversation logs in a local SQLite database. A
// single connection with WAL journaling keeps writers serialized without
// busy-timeout churn.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the conversation database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		owner_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (owner_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (owner_id, agent_id) REFERENCES conversations(owner_id, agent_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(owner_id, agent_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, ref EntryRef) (EntryRef, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (owner_id, agent_id, created_at) VALUES (?, ?, ?)`,
		ref.OwnerID, ref.AgentID, time.Now().UTC())
	if err != nil {
		return ref, fmt.Errorf("failed to create conversation: %w", err)
	}
	return ref, nil
}

func (s *SQLiteStore) Append(ctx context.Context, ref EntryRef, role Role, content string) error {
	if err := role.Validate(); err != nil {
		return err
	}

	if _, err := s.GetOrCreate(ctx, ref); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (owner_id, agent_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		ref.OwnerID, ref.AgentID, string(role), content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadRecent(ctx context.Context, ref EntryRef, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats negative LIMIT as unlimited.
	}

	// Take the tail by descending id, then reverse back to oldest-first.
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages
		 WHERE owner_id = ? AND agent_id = ?
		 ORDER BY id DESC LIMIT ?`,
		ref.OwnerID, ref.AgentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	defer rows.Close()

	var reversed []Message
	for rows.Next() {
		var msg Message
		var role string
		if err := rows.Scan(&role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = Role(role)
		reversed = append(reversed, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	out := make([]Message, len(reversed))
	for i, msg := range reversed {
		out[len(reversed)-1-i] = msg
	}
	return out, nil
}

func (s *SQLiteStore) DeleteForAgent(ctx context.Context, ref EntryRef) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE owner_id = ? AND agent_id = ?`,
		ref.OwnerID, ref.AgentID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE owner_id = ? AND agent_id = ?`,
		ref.OwnerID, ref.AgentID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin sweep: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT c.owner_id, c.agent_id FROM conversations c
		 WHERE COALESCE(
			(SELECT MAX(m.created_at) FROM messages m
			 WHERE m.owner_id = c.owner_id AND m.agent_id = c.agent_id),
			c.created_at) < ?`,
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to find stale conversations: %w", err)
	}

	var stale []EntryRef
	for rows.Next() {
		var ref EntryRef
		if err := rows.Scan(&ref.OwnerID, &ref.AgentID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan stale conversation: %w", err)
		}
		stale = append(stale, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate stale conversations: %w", err)
	}

	for _, ref := range stale {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE owner_id = ? AND agent_id = ?`,
			ref.OwnerID, ref.AgentID); err != nil {
			return 0, fmt.Errorf("failed to delete stale messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conversations WHERE owner_id = ? AND agent_id = ?`,
			ref.OwnerID, ref.AgentID); err != nil {
			return 0, fmt.Errorf("failed to delete stale conversation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sweep: %w", err)
	}
	return len(stale), nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*MemoryStore)(nil)
