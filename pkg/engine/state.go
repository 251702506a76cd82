package engine

import "time"

// SessionState is what a new execution inherits from an existing session.
// The agent runtime constructs it when an async trigger attaches to the
// primary session: ResumeSessionID names the shared session and Memory is
// the primary session's memory already filtered to the triggering entry
// point's declared input keys.
type SessionState struct {
	ResumeSessionID      string
	ResumeFromCheckpoint string
	PausedAt             time.Time
	Memory               map[string]any
}

// FreshSharedTrigger reports whether this state describes a brand-new event
// attaching to a shared session, as opposed to a resume of a paused or
// crashed run. Fresh triggers inherit conversation history and filtered
// memory but must NOT inherit the stored progress cursor: the prior run's
// partial output would otherwise convince the node its work is already done.
func (s SessionState) FreshSharedTrigger() bool {
	return s.ResumeSessionID != "" && s.ResumeFromCheckpoint == "" && s.PausedAt.IsZero()
}
