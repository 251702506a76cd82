package session

import "errors"

// Store persists state records. Implementations must be safe for concurrent
// use and must make Save atomic: a crashed process may observe a stale
// record, never a torn one.
type Store interface {
	// Save writes the record, overwriting any previous snapshot for the
	// same session.
	Save(record *StateRecord) error

	// Load retrieves the record for a session.
	// Returns ErrNotFound if the session has no record.
	Load(sessionID string) (*StateRecord, error)

	// Delete removes a session's record. Deleting a missing record is not
	// an error.
	Delete(sessionID string) error

	// List returns the session IDs of all persisted records.
	List() ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Sentinel errors for record stores.
var (
	// ErrNotFound indicates a session has no persisted record.
	ErrNotFound = errors.New("state record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("state record store closed")
)
