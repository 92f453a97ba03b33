// ABOUTME: Package documentation for the gateway router.
// ABOUTME: Describes the request state machine, auth, rate limiting, and error surface.

// Package gateway implements the authenticated network-facing router.
//
// Each inbound request moves through Unauthenticated -> Authenticated ->
// Routing -> (Completed | Failed). The auth middleware terminates the first
// transition: a request with a bad or expired token is rejected with a 401
// and never touches the registry or any adapter.
//
// The endpoint is a single JSON-RPC POST handler supporting initialize,
// ping, tools/list, and tools/call. tools/call resolves the qualified name
// through the registry, applies a per-caller token bucket, and forwards at
// most once; retries and deduplication are deliberately the caller's and the
// adapter's problem respectively.
//
// Failures returned to callers always carry a machine-readable kind in the
// error data alongside a human-readable message, so the orchestration loop
// can explain the failure instead of crashing on it.
package gateway
