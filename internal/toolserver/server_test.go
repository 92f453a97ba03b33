// ABOUTME: Tests for the tool server harness's registration and dispatch paths.
// ABOUTME: Drives the framed protocol directly over an in-memory pipe.

package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"testing"
)

func TestRegister_Validation(t *testing.T) {
	srv := NewServer("test", nil)
	handler := func(context.Context, json.RawMessage) (any, error) { return "ok", nil }

	if err := srv.Register(Tool{Name: "", Handler: handler}); err == nil {
		t.Error("Register() accepted empty name")
	}
	if err := srv.Register(Tool{Name: "x"}); err == nil {
		t.Error("Register() accepted nil handler")
	}
	if err := srv.Register(Tool{Name: "x", Handler: handler}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := srv.Register(Tool{Name: "x", Handler: handler}); err == nil {
		t.Error("Register() accepted duplicate name")
	}
}

// rawClient speaks the framed protocol without the adapter layer on top.
type rawClient struct {
	conn   net.Conn
	reader *bufio.Reader
	nextID int64
}

func newRawClient(t *testing.T, srv *Server) *rawClient {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	go func() {
		_ = srv.Serve(context.Background(), serverConn)
		_ = serverConn.Close()
	}()
	t.Cleanup(func() { _ = clientConn.Close() })
	return &rawClient{conn: clientConn, reader: bufio.NewReader(clientConn)}
}

func (c *rawClient) call(t *testing.T, method string, params any) rpcResponse {
	t.Helper()
	c.nextID++
	id := c.nextID
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	if _, err := io.WriteString(c.conn, header); err != nil {
		t.Fatalf("writing header: %v", err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		t.Fatalf("writing payload: %v", err)
	}

	body, err := readFrame(c.reader)
	if err != nil {
		t.Fatalf("reading response frame: %v", err)
	}
	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ID == nil || *resp.ID != id {
		t.Fatalf("response ID = %v, want %d", resp.ID, id)
	}
	return resp
}

func TestServe_Lifecycle(t *testing.T) {
	srv := NewServer("lifecycle", nil)
	err := srv.Register(Tool{
		Name:        "greet",
		Description: "Greets the caller",
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			var p struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return nil, err
			}
			return "hello " + p.Name, nil
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	c := newRawClient(t, srv)

	t.Run("initialize", func(t *testing.T) {
		resp := c.call(t, "initialize", map[string]any{"protocolVersion": "2025-03-26"})
		if resp.Error != nil {
			t.Fatalf("initialize error = %v", resp.Error)
		}
		data, _ := json.Marshal(resp.Result)
		var result struct {
			ServerInfo struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
		}
		if err := json.Unmarshal(data, &result); err != nil {
			t.Fatalf("decoding result: %v", err)
		}
		if result.ServerInfo.Name != "lifecycle" {
			t.Errorf("serverInfo.name = %q, want %q", result.ServerInfo.Name, "lifecycle")
		}
	})

	t.Run("ping", func(t *testing.T) {
		resp := c.call(t, "ping", map[string]any{})
		if resp.Error != nil {
			t.Fatalf("ping error = %v", resp.Error)
		}
	})

	t.Run("tools list", func(t *testing.T) {
		resp := c.call(t, "tools/list", map[string]any{})
		if resp.Error != nil {
			t.Fatalf("tools/list error = %v", resp.Error)
		}
		data, _ := json.Marshal(resp.Result)
		var result struct {
			Tools []toolInfo `json:"tools"`
		}
		if err := json.Unmarshal(data, &result); err != nil {
			t.Fatalf("decoding result: %v", err)
		}
		if len(result.Tools) != 1 || result.Tools[0].Name != "greet" {
			t.Errorf("tools = %+v, want single greet", result.Tools)
		}
		if len(result.Tools) == 1 && len(result.Tools[0].InputSchema) == 0 {
			t.Error("registered tool missing default input schema")
		}
	})

	t.Run("tools call", func(t *testing.T) {
		resp := c.call(t, "tools/call", map[string]any{
			"name":      "greet",
			"arguments": map[string]string{"name": "world"},
		})
		if resp.Error != nil {
			t.Fatalf("tools/call error = %v", resp.Error)
		}
		data, _ := json.Marshal(resp.Result)
		var result callResult
		if err := json.Unmarshal(data, &result); err != nil {
			t.Fatalf("decoding result: %v", err)
		}
		if result.IsError {
			t.Fatal("call returned isError")
		}
		if len(result.Content) != 1 || result.Content[0].Text != "hello world" {
			t.Errorf("content = %+v, want hello world", result.Content)
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		resp := c.call(t, "tools/call", map[string]any{"name": "missing"})
		if resp.Error == nil {
			t.Fatal("tools/call for unknown tool should return an error")
		}
		if resp.Error.Code != -32602 {
			t.Errorf("error code = %d, want -32602", resp.Error.Code)
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		resp := c.call(t, "resources/list", map[string]any{})
		if resp.Error == nil || resp.Error.Code != -32601 {
			t.Errorf("error = %v, want method not found", resp.Error)
		}
	})
}

func TestServe_HandlerErrorBecomesToolError(t *testing.T) {
	srv := NewServer("errors", nil)
	err := srv.Register(Tool{
		Name: "fail",
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, fmt.Errorf("disk on fire")
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	c := newRawClient(t, srv)
	c.call(t, "initialize", map[string]any{})

	resp := c.call(t, "tools/call", map[string]any{"name": "fail"})
	if resp.Error != nil {
		t.Fatalf("handler failure should be a result, got protocol error %v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	var result callResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !result.IsError {
		t.Error("IsError = false, want true")
	}
	if len(result.Content) == 0 || result.Content[0].Text != "disk on fire" {
		t.Errorf("content = %+v, want error text", result.Content)
	}
}
