// Package engine executes workflow graphs against shared sessions.
//
// An execution is either an Owner or a Guest of its session. The Owner is
// the single long-lived execution permitted to persist the session's state
// record; Guests are webhook- or cron-triggered executions that share the
// session's conversation history and memory but hold no reference to the
// record store at all, so a Guest write is a compile-time impossibility
// rather than a guarded branch.
//
// Each graph node runs as a bounded loop of stream, judge, and maybe-retry
// steps driven through the provider retry wrapper; see LoopNode.
package engine
