// ABOUTME: HTTP JSON-RPC client for the gateway used by the orchestration loop.
// ABOUTME: Handles bearer auth, session tracking, discovery, and tool invocation.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/2389/toolgate/internal/gateway"
)

// CallError is a structured failure returned by the gateway. The orchestration
// loop is expected to relay Message into the reasoning loop so the agent can
// explain the failure instead of crashing.
type CallError struct {
	Code    int
	Kind    string
	Message string
}

func (e *CallError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("gateway error %d (%s): %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Message)
}

// Config holds client configuration.
type Config struct {
	BaseURL    string // gateway base URL, e.g. http://127.0.0.1:8400
	Token      string // bearer token
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks JSON-RPC to the gateway endpoint.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger

	counter atomic.Int64

	mu        sync.Mutex
	sessionID string
}

// New creates a gateway client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("token is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    httpClient,
		logger:  logger.With("component", "client"),
	}, nil
}

// Initialize opens a session with the gateway.
func (c *Client) Initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": "2025-03-26",
		"clientInfo":      map[string]string{"name": "toolgate-client", "version": "1.0.0"},
		"capabilities":    map[string]any{"tools": map[string]any{}},
	}
	resp, header, err := c.call(ctx, "initialize", params)
	if err != nil {
		return err
	}
	_ = resp
	if sessionID := header.Get("Mcp-Session-Id"); sessionID != "" {
		c.mu.Lock()
		c.sessionID = sessionID
		c.mu.Unlock()
	}
	return nil
}

// ListTools fetches the gateway's current published tool set. The result
// must not be cached beyond one turn; the set is dynamic.
func (c *Client) ListTools(ctx context.Context) ([]gateway.ToolInfo, error) {
	raw, _, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var result gateway.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a qualified tool name through the gateway.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*gateway.CallToolResult, error) {
	params := gateway.CallToolParams{Name: name, Arguments: args}
	raw, _, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	var result gateway.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding tools/call result: %w", err)
	}
	return &result, nil
}

// Close terminates the gateway session if one was opened.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()
	if sessionID == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/mcp", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Mcp-Session-Id", sessionID)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// call issues one JSON-RPC request and returns the raw result and response
// headers. Gateway failures come back as *CallError.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, http.Header, error) {
	id := c.counter.Add(1)
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.Lock()
	if c.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", c.sessionID)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: reading response: %w", method, err)
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    struct {
				Kind string `json:"kind"`
			} `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, nil, fmt.Errorf("%s: HTTP %d: %s", method, resp.StatusCode, string(body))
	}
	if rpcResp.Error != nil {
		return nil, resp.Header, &CallError{
			Code:    rpcResp.Error.Code,
			Kind:    rpcResp.Error.Data.Kind,
			Message: rpcResp.Error.Message,
		}
	}
	return rpcResp.Result, resp.Header, nil
}
