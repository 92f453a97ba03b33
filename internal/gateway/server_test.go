// ABOUTME: Tests for the gateway's authenticated JSON-RPC routing surface.
// ABOUTME: Covers auth rejection, discovery, call routing, error kinds, and rate limiting.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/adapter"
	"github.com/2389/toolgate/internal/auth"
	"github.com/2389/toolgate/internal/registry"
)

// mockAdapter records call traffic for routing assertions.
type mockAdapter struct {
	id        string
	tools     []adapter.ToolDescriptor
	callErr   error
	callCount atomic.Int32
	lastName  string
	lastArgs  json.RawMessage
}

func newMockAdapter(id string, toolNames ...string) *mockAdapter {
	m := &mockAdapter{id: id}
	for _, name := range toolNames {
		m.tools = append(m.tools, adapter.ToolDescriptor{
			Name:        name,
			Description: "mock tool " + name,
			InputSchema: json.RawMessage(`{"type":"object"}`),
			AdapterID:   id,
		})
	}
	return m
}

func (m *mockAdapter) ID() string                  { return m.id }
func (m *mockAdapter) Concurrent() bool            { return false }
func (m *mockAdapter) State() adapter.State        { return adapter.StateReady }
func (m *mockAdapter) Start(context.Context) error { return nil }
func (m *mockAdapter) Invalidate()                 {}
func (m *mockAdapter) MarkDegraded()               {}
func (m *mockAdapter) MarkReady()                  {}
func (m *mockAdapter) Close() error                { return nil }
func (m *mockAdapter) Ping(context.Context) error  { return nil }

func (m *mockAdapter) ListTools(context.Context) ([]adapter.ToolDescriptor, error) {
	out := make([]adapter.ToolDescriptor, len(m.tools))
	copy(out, m.tools)
	return out, nil
}

func (m *mockAdapter) CallTool(_ context.Context, name string, args json.RawMessage) (*adapter.CallResult, error) {
	m.callCount.Add(1)
	m.lastName = name
	m.lastArgs = args
	if m.callErr != nil {
		return nil, m.callErr
	}
	return &adapter.CallResult{
		Content: []adapter.Content{{Type: "text", Text: `{"total": 150}`}},
		Latency: 5 * time.Millisecond,
	}, nil
}

type testGateway struct {
	url      string
	token    string
	adapter  *mockAdapter
	verifier *auth.JWTVerifier
}

func newTestGateway(t *testing.T, cfg Config) *testGateway {
	t.Helper()

	mock := newMockAdapter("cost", "get_monthly_costs")
	reg := registry.New(nil)
	require.NoError(t, reg.Register(context.Background(), mock))
	t.Cleanup(reg.Close)

	verifier := auth.NewJWTVerifier([]byte("test-secret"), "", "")
	token, err := verifier.Generate("caller-1", time.Hour)
	require.NoError(t, err)

	cfg.Registry = reg
	cfg.Verifier = verifier
	srv, err := NewServer(cfg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &testGateway{url: ts.URL, token: token, adapter: mock, verifier: verifier}
}

type rpcResult struct {
	status int
	header http.Header
	body   struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    struct {
				Kind string `json:"kind"`
			} `json:"data"`
		} `json:"error"`
	}
}

func (g *testGateway) rpc(t *testing.T, token, method string, params any) rpcResult {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, g.url+"/mcp", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := rpcResult{status: resp.StatusCode, header: resp.Header}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out.body))
	return out
}

func TestServer_RejectsUnauthenticated(t *testing.T) {
	g := newTestGateway(t, Config{})

	tests := []struct {
		name  string
		token string
	}{
		{name: "no token", token: ""},
		{name: "garbage token", token: "not-a-jwt"},
		{name: "expired token", token: func() string {
			tok, _ := g.verifier.Generate("caller-1", -time.Minute)
			return tok
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := g.rpc(t, tt.token, "tools/call", CallToolParams{Name: "cost_get_monthly_costs"})
			assert.Equal(t, http.StatusUnauthorized, res.status)
			require.NotNil(t, res.body.Error)
			assert.Equal(t, CodeAuthenticationFailure, res.body.Error.Code)
			assert.Equal(t, string(KindAuthenticationFailure), res.body.Error.Data.Kind)
		})
	}

	// No rejected request may have reached the adapter.
	assert.Equal(t, int32(0), g.adapter.callCount.Load())
}

func TestServer_InitializeCreatesSession(t *testing.T) {
	g := newTestGateway(t, Config{})

	res := g.rpc(t, g.token, "initialize", map[string]any{"protocolVersion": "2025-03-26"})
	assert.Equal(t, http.StatusOK, res.status)
	require.Nil(t, res.body.Error)
	assert.NotEmpty(t, res.header.Get("Mcp-Session-Id"))
}

func TestServer_ToolsListNamespaced(t *testing.T) {
	g := newTestGateway(t, Config{})

	res := g.rpc(t, g.token, "tools/list", map[string]any{})
	require.Nil(t, res.body.Error)

	var result ListToolsResult
	require.NoError(t, json.Unmarshal(res.body.Result, &result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "cost_get_monthly_costs", result.Tools[0].Name)
	assert.NotEmpty(t, result.Tools[0].InputSchema)
}

func TestServer_ToolsCallRoutesToAdapter(t *testing.T) {
	g := newTestGateway(t, Config{})

	res := g.rpc(t, g.token, "tools/call", CallToolParams{
		Name:      "cost_get_monthly_costs",
		Arguments: json.RawMessage(`{"month":"2026-08"}`),
	})
	require.Nil(t, res.body.Error)

	var result CallToolResult
	require.NoError(t, json.Unmarshal(res.body.Result, &result))
	require.Len(t, result.Content, 1)
	assert.JSONEq(t, `{"total": 150}`, result.Content[0].Text)
	assert.False(t, result.IsError)

	// The adapter sees the native name, not the qualified one.
	assert.Equal(t, "get_monthly_costs", g.adapter.lastName)
	assert.JSONEq(t, `{"month":"2026-08"}`, string(g.adapter.lastArgs))
}

func TestServer_ToolsCallErrors(t *testing.T) {
	tests := []struct {
		name     string
		toolName string
		callErr  error
		wantCode int
		wantKind ErrorKind
	}{
		{
			name:     "unknown tool",
			toolName: "nope_nothing",
			wantCode: CodeUnknownTool,
			wantKind: KindUnknownTool,
		},
		{
			name:     "unresponsive adapter",
			toolName: "cost_get_monthly_costs",
			callErr:  adapter.ErrUnresponsive,
			wantCode: CodeAdapterUnresponsive,
			wantKind: KindAdapterUnresponsive,
		},
		{
			name:     "closed adapter",
			toolName: "cost_get_monthly_costs",
			callErr:  adapter.ErrClosed,
			wantCode: JSONRPCInternalError,
			wantKind: KindInternalRouting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, Config{})
			g.adapter.callErr = tt.callErr

			res := g.rpc(t, g.token, "tools/call", CallToolParams{Name: tt.toolName})
			require.NotNil(t, res.body.Error)
			assert.Equal(t, tt.wantCode, res.body.Error.Code)
			assert.Equal(t, string(tt.wantKind), res.body.Error.Data.Kind)
			// Raw backend detail never leaks into the message.
			assert.NotContains(t, res.body.Error.Message, "adapter")
		})
	}
}

func TestServer_RateLimitPerCaller(t *testing.T) {
	g := newTestGateway(t, Config{RateLimit: 1, RateBurst: 2})

	params := CallToolParams{Name: "cost_get_monthly_costs"}
	for i := 0; i < 2; i++ {
		res := g.rpc(t, g.token, "tools/call", params)
		require.Nil(t, res.body.Error, "call %d within burst should succeed", i)
	}

	res := g.rpc(t, g.token, "tools/call", params)
	require.NotNil(t, res.body.Error)
	assert.Equal(t, CodeRateLimited, res.body.Error.Code)
	assert.Equal(t, string(KindRateLimited), res.body.Error.Data.Kind)
	assert.Contains(t, res.body.Error.Message, "retry")

	// A different caller has an independent bucket.
	otherToken, err := g.verifier.Generate("caller-2", time.Hour)
	require.NoError(t, err)
	res = g.rpc(t, otherToken, "tools/call", params)
	assert.Nil(t, res.body.Error)
}

func TestServer_InvalidRequests(t *testing.T) {
	g := newTestGateway(t, Config{})

	t.Run("wrong version", func(t *testing.T) {
		payload := []byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`)
		req, _ := http.NewRequest(http.MethodPost, g.url+"/mcp", bytes.NewReader(payload))
		req.Header.Set("Authorization", "Bearer "+g.token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		var body struct {
			Error *JSONRPCError `json:"error"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.NotNil(t, body.Error)
		assert.Equal(t, JSONRPCInvalidRequest, body.Error.Code)
	})

	t.Run("missing tool name", func(t *testing.T) {
		res := g.rpc(t, g.token, "tools/call", map[string]any{})
		require.NotNil(t, res.body.Error)
		assert.Equal(t, JSONRPCInvalidParams, res.body.Error.Code)
	})

	t.Run("unknown method", func(t *testing.T) {
		res := g.rpc(t, g.token, "resources/list", map[string]any{})
		require.NotNil(t, res.body.Error)
		assert.Equal(t, JSONRPCMethodNotFound, res.body.Error.Code)
	})
}

func TestServer_SessionTermination(t *testing.T) {
	g := newTestGateway(t, Config{})

	res := g.rpc(t, g.token, "initialize", map[string]any{})
	sessionID := res.header.Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionID)

	req, err := http.NewRequest(http.MethodDelete, g.url+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Mcp-Session-Id", sessionID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Requests naming the dead session are refused.
	payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	req, err = http.NewRequest(http.MethodPost, g.url+"/mcp", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Mcp-Session-Id", sessionID)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_SessionTerminationRequiresOwner(t *testing.T) {
	g := newTestGateway(t, Config{})

	res := g.rpc(t, g.token, "initialize", map[string]any{})
	sessionID := res.header.Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionID)

	otherToken, err := g.verifier.Generate("caller-2", time.Hour)
	require.NoError(t, err)

	del := func(token string) int {
		req, err := http.NewRequest(http.MethodDelete, g.url+"/mcp", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Mcp-Session-Id", sessionID)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	// Another authenticated caller cannot terminate someone else's session.
	assert.Equal(t, http.StatusForbidden, del(otherToken))

	// The session survives the rejected termination.
	payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	req, err := http.NewRequest(http.MethodPost, g.url+"/mcp", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Mcp-Session-Id", sessionID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusNoContent, del(g.token))
}
