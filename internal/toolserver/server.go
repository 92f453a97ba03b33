// ABOUTME: Minimal tool server harness speaking framed JSON-RPC over a byte stream.
// ABOUTME: Used by the fake-tools binary and adapter tests as an in-process backend.

package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

// HandlerFunc executes one tool call and returns a JSON-serializable payload.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is one registered tool with its schema and handler.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     HandlerFunc
}

// Server hosts a set of tools behind the framed JSON-RPC protocol.
type Server struct {
	name   string
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewServer creates a tool server with the given advertised name.
func NewServer(name string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		name:   name,
		logger: logger.With("component", "toolserver", "server_name", name),
		tools:  make(map[string]Tool),
	}
}

// Register adds a tool. Registration order is preserved in tools/list output
// so repeated discovery yields identical descriptor sets.
func (s *Server) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}
	if len(t.InputSchema) == 0 {
		t.InputSchema = json.RawMessage(`{"type":"object"}`)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	s.tools[t.Name] = t
	s.order = append(s.order, t.Name)
	return nil
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      *int64    `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ServeStdio serves requests over the process's stdin/stdout.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout})
}

// Serve reads framed requests from conn until EOF or context cancellation.
// Each request is handled on its own goroutine so a slow tool does not stall
// liveness probes; serialization is the caller's concern.
func (s *Server) Serve(ctx context.Context, conn io.ReadWriter) error {
	reader := bufio.NewReader(conn)
	var writeMu sync.Mutex

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := readFrame(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		var req rpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			s.logger.Warn("dropping malformed request", "error", err)
			continue
		}

		// Notifications carry no ID and get no reply.
		if req.ID == nil {
			continue
		}

		go func(req rpcRequest) {
			resp := s.dispatch(ctx, req)
			data, err := json.Marshal(resp)
			if err != nil {
				s.logger.Warn("encoding response", "error", err)
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
			if _, err := io.WriteString(conn, header); err != nil {
				s.logger.Warn("writing response header", "error", err)
				return
			}
			if _, err := conn.Write(data); err != nil {
				s.logger.Warn("writing response body", "error", err)
			}
		}(req)
	}
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": s.name, "version": "1.0.0"},
		}}
	case "ping":
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}}
	case "tools/list":
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: s.listResult()}
	case "tools/call":
		return s.handleCall(ctx, req)
	default:
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "method not found"}}
	}
}

func (s *Server) listResult() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tools := make([]toolInfo, 0, len(s.order))
	for _, name := range s.order {
		t := s.tools[name]
		tools = append(tools, toolInfo{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return map[string]any{"tools": tools}
}

func (s *Server) handleCall(ctx context.Context, req rpcRequest) rpcResponse {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "invalid params"}}
	}

	s.mu.RLock()
	tool, ok := s.tools[params.Name]
	s.mu.RUnlock()
	if !ok {
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "unknown tool: " + params.Name}}
	}

	payload, err := tool.Handler(ctx, params.Arguments)
	if err != nil {
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: callResult{
			Content: []contentItem{{Type: "text", Text: err.Error()}},
			IsError: true,
		}}
	}

	text, err := encodePayload(payload)
	if err != nil {
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32603, Message: "encoding result"}}
	}
	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: callResult{
		Content: []contentItem{{Type: "text", Text: text}},
	}}
}

func encodePayload(payload any) (string, error) {
	switch v := payload.(type) {
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// readFrame reads one Content-Length framed message.
func readFrame(reader *bufio.Reader) ([]byte, error) {
	var length int
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if name, value, ok := strings.Cut(line, ":"); ok {
			if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
				length, err = strconv.Atoi(strings.TrimSpace(value))
				if err != nil {
					return nil, fmt.Errorf("invalid Content-Length: %w", err)
				}
			}
		}
	}
	if length <= 0 {
		return nil, errors.New("missing Content-Length header")
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(reader, body); err != nil {
		return nil, err
	}
	return body, nil
}
