// ABOUTME: Gateway error taxonomy and mapping from internal errors to JSON-RPC failures.
// ABOUTME: Every failure carries a machine-readable kind plus a human-readable message.

package gateway

import (
	"context"
	"errors"

	"github.com/2389/toolgate/internal/adapter"
	"github.com/2389/toolgate/internal/registry"
)

// ErrorKind is the machine-readable failure classification returned to
// callers alongside the human-readable message.
type ErrorKind string

const (
	KindAuthenticationFailure ErrorKind = "authentication_failure"
	KindUnknownTool           ErrorKind = "unknown_tool"
	KindAdapterUnresponsive   ErrorKind = "adapter_unresponsive"
	KindAdapterStartFailure   ErrorKind = "adapter_start_failure"
	KindRateLimited           ErrorKind = "rate_limited"
	KindInternalRouting       ErrorKind = "internal_routing_error"
)

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// Application error codes in the implementation-defined range.
const (
	CodeAuthenticationFailure = -32001
	CodeRateLimited           = -32002
	CodeUnknownTool           = -32004
	CodeAdapterUnresponsive   = -32005
)

// classifyCallError maps a routing or adapter error to its wire representation.
// Raw backend errors never propagate past this point.
func classifyCallError(err error) (code int, kind ErrorKind, message string) {
	switch {
	case errors.Is(err, registry.ErrUnknownTool):
		return CodeUnknownTool, KindUnknownTool, "no such tool"
	case errors.Is(err, adapter.ErrUnresponsive):
		return CodeAdapterUnresponsive, KindAdapterUnresponsive, "tool backend did not respond in time"
	case errors.Is(err, adapter.ErrStartFailure):
		return JSONRPCInternalError, KindAdapterStartFailure, "tool backend failed to start"
	case errors.Is(err, adapter.ErrClosed):
		return JSONRPCInternalError, KindInternalRouting, "tool backend unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return CodeAdapterUnresponsive, KindAdapterUnresponsive, "tool call timed out"
	case errors.Is(err, context.Canceled):
		return JSONRPCInternalError, KindInternalRouting, "request cancelled"
	default:
		return JSONRPCInternalError, KindInternalRouting, "tool execution failed"
	}
}
