package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hivehq/hive/internal/observability"
)

// FileStore persists one JSON state record per session under a root
// directory. Writes go through a temp file and rename so a crash mid-write
// leaves the previous snapshot intact.
type FileStore struct {
	dir    string
	mu     sync.RWMutex
	closed bool
}

// NewFileStore creates a file-backed record store rooted at dir. The
// directory is created if missing.
func NewFileStore(dir string) (*FileStore, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".hive", "state")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("State record store initialized")

	return &FileStore{dir: dir}, nil
}

func (s *FileStore) recordPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Save implements Store.
func (s *FileStore) Save(record *StateRecord) error {
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

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state record: %w", err)
	}

	path := s.recordPath(record.SessionID)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write state record: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync state record: %w", err)
	}
	file.Close()

	// Atomic replace
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace state record: %w", err)
	}

	observability.RecordStateWrite(string(record.Status))

	log.Debug().
		Str("sessionId", record.SessionID).
		Str("status", string(record.Status)).
		Msg("State record saved")

	return nil
}

// Load implements Store.
func (s *FileStore) Load(sessionID string) (*StateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.recordPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read state record: %w", err)
	}

	var record StateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse state record: %w", err)
	}
	if record.Memory == nil {
		record.Memory = make(map[string]any)
	}

	return &record, nil
}

// Delete implements Store.
func (s *FileStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	if err := os.Remove(s.recordPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state record: %w", err)
	}
	return nil
}

// List implements Store.
func (s *FileStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
