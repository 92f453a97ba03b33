// ABOUTME: Package documentation for gateway authentication.
// ABOUTME: Describes token verification and the caller identity flow.

// Package auth provides bearer token authentication for the gateway.
//
// Tokens are HS256 JWTs validated against a shared secret and, when
// configured, a trusted issuer/audience pair. The HTTP middleware rejects
// invalid or expired tokens with a 401 before any routing logic runs; the
// authenticated caller identity travels on the request context and is the
// key for per-caller rate limiting.
package auth
