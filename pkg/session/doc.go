// Package session defines the durable per-session state record and its
// storage backends.
//
// A session is the unit of shared identity between the primary execution and
// any webhook- or cron-triggered executions of the same agent instance. The
// state record is the session's durable snapshot: declared-variable memory,
// status, and a pointer into the conversation log. Exactly one execution per
// session (the owner) writes the record; see pkg/engine for how ownership is
// enforced structurally.
package session
