// ABOUTME: Authenticated HTTP JSON-RPC endpoint routing tool calls to adapters.
// ABOUTME: Implements initialize, tools/list, tools/call, and ping with per-caller rate limits.

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/2389/toolgate/internal/auth"
	"github.com/2389/toolgate/internal/registry"
)

const serverName = "toolgate"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object. Data carries the
// machine-readable failure kind.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ToolInfo is one published tool in tools/list output.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result for tools/call.
type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ContentItem represents content in a tool result.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// clientSession tracks an initialized client.
type clientSession struct {
	id        string
	callerID  string
	createdAt time.Time
}

type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*clientSession
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*clientSession)}
}

func (s *sessionStore) create(callerID string) *clientSession {
	sess := &clientSession{
		id:        uuid.New().String(),
		callerID:  callerID,
		createdAt: time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(id string) (*clientSession, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

// Config holds configuration for the gateway server.
type Config struct {
	Registry *registry.Registry
	Logger   *slog.Logger
	Verifier auth.TokenVerifier

	// RateLimit is tokens per second allowed per caller on tools/call;
	// zero disables limiting. RateBurst defaults to 1 when limiting is on.
	RateLimit float64
	RateBurst int
}

// Server is the authenticated network-facing router. It validates bearer
// tokens, resolves tool names through the registry, and forwards calls to
// the owning adapter with at-most-once semantics.
type Server struct {
	registry *registry.Registry
	logger   *slog.Logger
	verifier auth.TokenVerifier
	limiter  *callerLimiter
	sessions *sessionStore
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Server{
		registry: cfg.Registry,
		logger:   logger.With("component", "gateway"),
		verifier: cfg.Verifier,
		limiter:  newCallerLimiter(rate.Limit(cfg.RateLimit), burst),
		sessions: newSessionStore(),
	}, nil
}

// RegisterRoutes registers the gateway endpoint on the given mux. All
// routes sit behind the bearer token middleware, so an invalid token never
// reaches routing logic or any adapter.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	handler := auth.Middleware(s.verifier)(http.HandlerFunc(s.handleRPC))
	mux.Handle("/mcp", handler)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a client session. Only the caller that
// initialized a session may terminate it.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if caller := auth.CallerFromContext(r.Context()); caller == nil || caller.ID != sess.callerID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	s.sessions.delete(sessionID)
	s.logger.Info("session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendError(w, nil, JSONRPCParseError, "failed to read request body", "")
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendError(w, nil, JSONRPCInvalidRequest, "request body too large", "")
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendError(w, nil, JSONRPCParseError, "invalid JSON", "")
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", "")
		return
	}

	// Notifications get no reply.
	if len(req.ID) == 0 || string(req.ID) == "null" {
		if !strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Warn("notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// A session header, when present, must refer to a live session.
	if sessionID := r.Header.Get("Mcp-Session-Id"); sessionID != "" && req.Method != "initialize" {
		if _, ok := s.sessions.get(sessionID); !ok {
			http.Error(w, "Not Found: unknown session", http.StatusNotFound)
			return
		}
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, r, req)
	case "ping":
		s.sendResult(w, req.ID, map[string]any{})
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolsCall(w, r, req)
	default:
		s.sendError(w, req.ID, JSONRPCMethodNotFound, "method not found", "")
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	caller := auth.CallerFromContext(r.Context())
	sess := s.sessions.create(caller.ID)

	s.logger.Info("session created", "session_id", sess.id, "caller_id", caller.ID)
	w.Header().Set("Mcp-Session-Id", sess.id)

	s.sendResult(w, req.ID, map[string]any{
		"protocolVersion": "2025-03-26",
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": serverName, "version": "1.0.0"},
	})
}

// handleToolsList returns the registry's current published set. Callers must
// not cache it beyond a single turn; the set changes as adapters come and go.
func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	descriptors := s.registry.Descriptors()
	result := ListToolsResult{Tools: make([]ToolInfo, len(descriptors))}
	for i, d := range descriptors {
		result.Tools[i] = ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}
	}
	s.logger.Debug("tools/list", "count", len(descriptors))
	s.sendResult(w, req.ID, result)
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendError(w, req.ID, JSONRPCInvalidParams, "invalid params", "")
			return
		}
	}
	if params.Name == "" {
		s.sendError(w, req.ID, JSONRPCInvalidParams, "tool name is required", "")
		return
	}

	caller := auth.CallerFromContext(r.Context())
	if !s.limiter.allow(caller.ID) {
		s.logger.Warn("rate limited", "caller_id", caller.ID, "tool_name", params.Name)
		s.sendError(w, req.ID, CodeRateLimited, "rate limit exceeded, retry after backoff", KindRateLimited)
		return
	}

	a, err := s.registry.Resolve(params.Name)
	if err != nil {
		code, kind, msg := classifyCallError(err)
		s.sendError(w, req.ID, code, msg, kind)
		return
	}
	native := s.registry.NativeName(params.Name)
	correlationID := uuid.New().String()

	s.logger.Debug("tools/call",
		"tool_name", params.Name,
		"adapter_id", a.ID(),
		"correlation_id", correlationID,
		"caller_id", caller.ID,
	)

	res, err := a.CallTool(r.Context(), native, params.Arguments)
	if err != nil {
		code, kind, msg := classifyCallError(err)
		s.logger.Warn("tool call failed",
			"tool_name", params.Name,
			"correlation_id", correlationID,
			"kind", string(kind),
			"error", err,
		)
		s.sendError(w, req.ID, code, msg, kind)
		return
	}

	result := CallToolResult{
		Content: make([]ContentItem, len(res.Content)),
		IsError: res.IsError,
	}
	for i, c := range res.Content {
		result.Content[i] = ContentItem{Type: c.Type, Text: c.Text}
	}

	s.logger.Info("tools/call complete",
		"tool_name", params.Name,
		"correlation_id", correlationID,
		"latency_ms", res.Latency.Milliseconds(),
		"is_error", res.IsError,
	)
	s.sendResult(w, req.ID, result)
}

func (s *Server) sendResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string, kind ErrorKind) {
	rpcErr := &JSONRPCError{Code: code, Message: message}
	if kind != "" {
		rpcErr.Data = map[string]string{"kind": string(kind)}
	}
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode error response", "error", err)
	}
}
