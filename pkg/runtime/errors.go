package runtime

import "fmt"

// NoPrimarySessionError is returned when an async entry point fires with
// no registered primary session to attach to. Trigger surfaces map it to a
// conflict response rather than a hard failure: the event arrived at a
// valid entry point, just at the wrong time.
type NoPrimarySessionError struct {
	EntryPoint string
}

func (e *NoPrimarySessionError) Error() string {
	return fmt.Sprintf("no primary session to attach entry point %q to", e.EntryPoint)
}

// PrimaryActiveError is returned when the primary entry point fires while
// a primary session is already registered.
type PrimaryActiveError struct {
	SessionID string
}

func (e *PrimaryActiveError) Error() string {
	return fmt.Sprintf("primary session %s is already active", e.SessionID)
}
