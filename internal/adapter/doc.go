// ABOUTME: Package documentation for the tool server adapter layer.
// ABOUTME: Explains transports, serialization, and lifecycle states.

// Package adapter wraps individual tool server backends behind a uniform
// ListTools/CallTool contract.
//
// # Overview
//
// A tool server is an independent process exposing named, schema-described
// tools over JSON-RPC 2.0 with Content-Length framing. The adapter speaks
// that protocol over one of two transports:
//
//   - stdio: the adapter launches the backend process and owns its pipes
//   - tcp: the adapter dials a loopback address where the backend listens
//
// # Lifecycle
//
// An adapter moves through the states starting -> ready -> (degraded |
// stopped). Start performs the initialize handshake with bounded retries and
// exponential backoff. Health probes are issued by the registry's monitor;
// repeated failures mark the adapter degraded, which also invalidates its
// descriptor cache.
//
// # Serialization
//
// Backends are assumed to be single-threaded stdio programs unless the
// manifest opts them into concurrency. Non-concurrent adapters push calls
// through a single worker goroutine fed by a channel, so calls execute
// strictly in arrival order. Discovery takes an exclusive transport lock and
// never interleaves with execution.
package adapter
