package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists state records to SQLite. Suitable for single-process
// deployments that want queryable history alongside the conversation logs.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) a SQLite record store at path. Use
// ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS state_records (
			session_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			memory BLOB NOT NULL,
			conversation_ref TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(record *StateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := ValidateSessionID(record.SessionID); err != nil {
		return err
	}
	if !record.Status.Valid() {
		return fmt.Errorf("invalid status: %q", record.Status)
	}

	record.UpdatedAt = time.Now().UTC()

	memory, err := json.Marshal(record.Memory)
	if err != nil {
		return fmt.Errorf("failed to marshal memory: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO state_records (session_id, status, memory, conversation_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			memory = excluded.memory,
			conversation_ref = excluded.conversation_ref,
			updated_at = excluded.updated_at
	`, record.SessionID, string(record.Status), memory, record.ConversationRef,
		record.CreatedAt.Format(time.RFC3339Nano), record.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save state record: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(sessionID string) (*StateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	var (
		record    StateRecord
		status    string
		memory    []byte
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRow(`
		SELECT session_id, status, memory, conversation_ref, created_at, updated_at
		FROM state_records WHERE session_id = ?
	`, sessionID).Scan(&record.SessionID, &status, &memory, &record.ConversationRef, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load state record: %w", err)
	}

	record.Status = Status(status)
	if err := json.Unmarshal(memory, &record.Memory); err != nil {
		return nil, fmt.Errorf("failed to parse memory: %w", err)
	}
	if record.Memory == nil {
		record.Memory = make(map[string]any)
	}
	record.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	record.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return &record, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	if _, err := s.db.Exec(`DELETE FROM state_records WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete state record: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`SELECT session_id FROM state_records ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list state records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state records: %w", err)
	}
	return ids, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
