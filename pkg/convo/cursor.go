package convo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/hivehq/hive/pkg/session"
)

// Accumulator holds the partially completed structured output of the node
// currently executing against the session.
type Accumulator struct {
	Content   string           `json:"content"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Outputs   map[string]any   `json:"outputs,omitempty"`
}

// Empty reports whether the accumulator holds no text, no tool calls, and
// no structured outputs.
func (a Accumulator) Empty() bool {
	return a.Content == "" && len(a.ToolCalls) == 0 && len(a.Outputs) == 0
}

// Cursor is the transient per-run progress state stored alongside the log.
// It is deliberately NOT part of session memory: a fresh trigger on a shared
// session resets it so the node never believes a prior run's output is its
// own completed work.
type Cursor struct {
	Iterations  int         `json:"iterations"`
	Accumulator Accumulator `json:"accumulator"`
}

// Zero reports whether the cursor describes a run that has made no progress.
func (c Cursor) Zero() bool {
	return c.Iterations == 0 && c.Accumulator.Empty()
}

func (l *Log) cursorPath(sessionID string) string {
	return filepath.Join(l.dir, sessionID+".cursor.json")
}

// LoadCursor reads the stored cursor for a session. A session without a
// stored cursor yields the zero cursor.
func (l *Log) LoadCursor(sessionID string) (Cursor, error) {
	if err := session.ValidateSessionID(sessionID); err != nil {
		return Cursor{}, err
	}

	data, err := os.ReadFile(l.cursorPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return Cursor{}, nil
		}
		return Cursor{}, fmt.Errorf("failed to read cursor: %w", err)
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		// A torn cursor is recoverable: treat it as no progress.
		log.Warn().Str("sessionId", sessionID).Err(err).Msg("Corrupt cursor, resetting")
		return Cursor{}, nil
	}
	return cursor, nil
}

// SaveCursor persists the cursor for a session atomically.
func (l *Log) SaveCursor(sessionID string, cursor Cursor) error {
	if err := session.ValidateSessionID(sessionID); err != nil {
		return err
	}

	lock := l.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("failed to marshal cursor: %w", err)
	}

	path := l.cursorPath(sessionID)
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace cursor: %w", err)
	}
	return nil
}

// ResetCursor stores the zero cursor for a session.
func (l *Log) ResetCursor(sessionID string) error {
	return l.SaveCursor(sessionID, Cursor{})
}
