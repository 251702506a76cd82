package convo

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hivehq/hive/internal/observability"
	"github.com/hivehq/hive/internal/tracing"
	"github.com/hivehq/hive/pkg/session"
)

// Metadata keys reserved by the store.
const (
	// MetaCheckpoint marks a message as a named replay checkpoint.
	MetaCheckpoint = "checkpoint"
	// MetaTransition marks the attachment of a fresh shared-session
	// execution; the value is the triggering entry point ID.
	MetaTransition = "transition"
)

// Message is a single conversation turn.
type Message struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// ToolCallRecord is a tool invocation captured in the log.
type ToolCallRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Entry is a message with its session ID.
type Entry struct {
	SessionID string  `json:"session_id"`
	Message   Message `json:"message"`
}

// Log manages conversation persistence using JSONL files, one per session.
type Log struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.RWMutex
}

// NewLog creates a conversation log store rooted at dir.
func NewLog(dir string) (*Log, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".hive", "conversations")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create conversations directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("Conversation log initialized")

	return &Log{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

func (l *Log) logPath(sessionID string) string {
	return filepath.Join(l.dir, sessionID+".jsonl")
}

func (l *Log) getWriteLock(sessionID string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()

	if lock, exists := l.writeLocks[sessionID]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	l.writeLocks[sessionID] = lock
	return lock
}

// Append adds a message to a session's log.
func (l *Log) Append(sessionID string, message Message) error {
	return l.AppendWithContext(context.Background(), sessionID, message)
}

// AppendWithContext adds a message to a session's log with tracing context.
func (l *Log) AppendWithContext(ctx context.Context, sessionID string, message Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"hive.convo",
		"convo.append",
		attribute.String("session_id", sessionID),
		attribute.String("role", message.Role),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordConversationAppend(time.Since(start))
	}()

	if err := session.ValidateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if message.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if message.Content == "" && len(message.ToolCalls) == 0 {
		return fmt.Errorf("message must carry content or tool calls")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}

	lock := l.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(l.logPath(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open conversation file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(Entry{SessionID: sessionID, Message: message})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync conversation file: %w", err)
	}

	log.Debug().
		Str("sessionId", sessionID).
		Str("role", message.Role).
		Msg("Message appended")

	return nil
}

// AppendCheckpoint appends a named replay checkpoint marker.
func (l *Log) AppendCheckpoint(sessionID, name string) error {
	return l.Append(sessionID, Message{
		Role:     "system",
		Content:  fmt.Sprintf("[checkpoint %s]", name),
		Metadata: map[string]any{MetaCheckpoint: name},
	})
}

// AppendTransitionMarker records that a fresh execution attached to the
// session via the named entry point. The marker keeps the history readable
// for later runs: everything above it belongs to earlier triggers.
func (l *Log) AppendTransitionMarker(ctx context.Context, sessionID, entryPointID string) error {
	return l.AppendWithContext(ctx, sessionID, Message{
		Role:     "system",
		Content:  fmt.Sprintf("[trigger %s attached to shared session]", entryPointID),
		Metadata: map[string]any{MetaTransition: entryPointID},
	})
}

// Load reads the full message history for a session. Missing sessions yield
// an empty history, corrupt lines are skipped.
func (l *Log) Load(sessionID string) ([]Entry, error) {
	return l.LoadWithContext(context.Background(), sessionID)
}

// LoadWithContext reads the full message history with tracing context.
func (l *Log) LoadWithContext(ctx context.Context, sessionID string) ([]Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"hive.convo",
		"convo.load",
		attribute.String("session_id", sessionID),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordConversationLoad(time.Since(start))
	}()

	if err := session.ValidateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	path := l.logPath(sessionID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return []Entry{}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open conversation file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			log.Warn().
				Str("sessionId", sessionID).
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse line, skipping")
			continue
		}
		if entry.Message.Role == "" {
			log.Warn().
				Str("sessionId", sessionID).
				Int("line", lineNum).
				Msg("Invalid entry, skipping")
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}

	return entries, nil
}

// LoadFrom replays the history starting after the named checkpoint marker.
// An unknown checkpoint replays from offset zero.
func (l *Log) LoadFrom(sessionID, checkpoint string) ([]Entry, error) {
	entries, err := l.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if checkpoint == "" {
		return entries, nil
	}

	for i := len(entries) - 1; i >= 0; i-- {
		if name, ok := entries[i].Message.Metadata[MetaCheckpoint].(string); ok && name == checkpoint {
			return entries[i+1:], nil
		}
	}
	return entries, nil
}

// Repair rewrites a session's log, dropping corrupt lines.
func (l *Log) Repair(sessionID string) error {
	entries, err := l.Load(sessionID)
	if err != nil {
		return err
	}

	lock := l.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := l.logPath(sessionID)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace conversation file: %w", err)
	}

	log.Info().
		Str("sessionId", sessionID).
		Int("entries", len(entries)).
		Msg("Conversation repaired")

	return nil
}

// Delete removes a session's log and cursor.
func (l *Log) Delete(sessionID string) error {
	if err := session.ValidateSessionID(sessionID); err != nil {
		return err
	}

	lock := l.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(l.logPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete conversation file: %w", err)
	}
	if err := os.Remove(l.cursorPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cursor file: %w", err)
	}

	l.locksMu.Lock()
	delete(l.writeLocks, sessionID)
	l.locksMu.Unlock()

	return nil
}

// List returns the session IDs with a conversation log.
func (l *Log) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read conversations directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".jsonl"))
	}
	return ids, nil
}
