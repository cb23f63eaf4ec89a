// Package session implements the crawl session orchestrator: the persisted,
// resumable state machine that sequences navigation, extraction, dedup,
// anti-bot stops and finalization for the single live session.
package session
