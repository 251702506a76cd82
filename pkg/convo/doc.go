// Package convo persists per-session conversation logs.
//
// The log itself is append-only JSONL: every execution sharing a session
// reads the full history for context and appends to the same file. Per-run
// progress lives in a separate cursor file (iteration counter plus the
// partially accumulated node output) so that crash recovery can restore it
// while a fresh webhook-triggered execution can reset it without touching
// the message history.
package convo
