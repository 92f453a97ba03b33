// ABOUTME: Package documentation for conversational session memory.
// ABOUTME: Describes the store boundary and the best-effort hook semantics.

// Package memory provides conversational memory keyed by
// (memoryID, actorID, sessionID).
//
// The store is external and persistent: turns survive gateway restarts and
// carry a per-turn expiry derived from the configured retention window.
// Expired turns never appear in reads even before physical purge.
//
// The Hook is deliberately best-effort. OnTurnStart degrades to an empty
// history when the store is down, and OnTurnEnd is fire-and-forget; memory
// is an enrichment around the orchestration loop, not a dependency of tool
// routing.
package memory
