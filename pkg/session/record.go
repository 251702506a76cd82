package session

import (
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusErrored   Status = "errored"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status ends the session's lifecycle.
// Terminal sessions are removed from the runtime registry and can no
// longer be resumed or shared.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusErrored, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusPaused, StatusCompleted, StatusErrored, StatusCancelled:
		return true
	}
	return false
}

// StateRecord is the durable snapshot of a session. It is mutated at
// execution start, on every node transition, and at completion, error, or
// cancellation - but only by the session's owner execution.
type StateRecord struct {
	SessionID       string         `json:"session_id"`
	Status          Status         `json:"status"`
	Memory          map[string]any `json:"memory"`
	ConversationRef string         `json:"conversation_ref"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewRecord creates a running state record for a fresh session.
func NewRecord(sessionID string) *StateRecord {
	now := time.Now().UTC()
	return &StateRecord{
		SessionID:       sessionID,
		Status:          StatusRunning,
		Memory:          make(map[string]any),
		ConversationRef: sessionID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewSessionID generates a new session identifier.
func NewSessionID() string {
	id, err := gonanoid.New()
	if err != nil {
		// gonanoid only fails if the platform has no entropy source
		panic(fmt.Sprintf("session: generate id: %v", err))
	}
	return id
}

// ValidateSessionID rejects identifiers that could escape the store's
// directory or corrupt file names.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}
