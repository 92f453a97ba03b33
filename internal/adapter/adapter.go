// ABOUTME: Core adapter contract, tool descriptor types, and lifecycle states.
// ABOUTME: Defines the uniform ListTools/CallTool interface over heterogeneous backends.

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Adapter errors
var (
	// ErrStartFailure indicates the backend failed to initialize after all
	// configured start attempts.
	ErrStartFailure = errors.New("adapter start failure")

	// ErrUnresponsive indicates the backend did not reply within the
	// configured timeout.
	ErrUnresponsive = errors.New("adapter unresponsive")

	// ErrClosed indicates the adapter has been stopped and accepts no
	// further calls.
	ErrClosed = errors.New("adapter closed")
)

// State describes the transport state of an adapter.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateDegraded
	StateStopped
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// ToolDescriptor is the published metadata for one callable tool.
// Immutable once returned; regenerated on every discovery cycle.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	AdapterID   string          `json:"-"`
}

// Content is a single content item in a tool call result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallResult is the outcome of a tool invocation.
type CallResult struct {
	Content []Content
	IsError bool
	Latency time.Duration
}

// Adapter is the uniform contract over one tool server backend.
type Adapter interface {
	// ID returns the adapter's stable identifier used for namespacing.
	ID() string

	// Concurrent reports whether the backend advertises concurrency
	// support. Non-concurrent adapters serialize calls in arrival order.
	Concurrent() bool

	// State returns the current transport state.
	State() State

	// Start launches or connects to the backend and completes the
	// initialize handshake. Returns ErrStartFailure after the configured
	// number of attempts.
	Start(ctx context.Context) error

	// ListTools performs capability discovery. Results are cached until
	// Invalidate is called; two calls without an intervening Invalidate
	// return identical descriptor sets.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)

	// Invalidate drops the cached descriptor set so the next ListTools
	// performs a fresh discovery handshake.
	Invalidate()

	// CallTool forwards a call to the backend using the tool's native
	// (un-namespaced) name. Returns ErrUnresponsive on timeout.
	CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error)

	// Ping issues a liveness probe.
	Ping(ctx context.Context) error

	// MarkDegraded transitions the adapter to degraded and invalidates
	// its descriptor cache. Called by the health monitor.
	MarkDegraded()

	// MarkReady transitions a degraded adapter back to ready.
	MarkReady()

	// Close stops the adapter and tears down the backend connection.
	Close() error
}
