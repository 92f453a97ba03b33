// ABOUTME: Framed JSON-RPC 2.0 session over an arbitrary byte stream.
// ABOUTME: Handles Content-Length framing, request correlation, and the initialize handshake.

package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const protocolVersion = "2025-03-26"

var errSessionClosed = errors.New("session closed")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// session is one JSON-RPC connection to a backend. It owns a reader goroutine
// that correlates responses to pending requests by ID.
type session struct {
	conn io.ReadWriteCloser

	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[int64]chan rpcResponse
	counter   atomic.Int64

	done     chan struct{}
	err      error
	doneOnce sync.Once

	serverName string
}

// newSession starts the read loop and performs the initialize handshake.
func newSession(ctx context.Context, conn io.ReadWriteCloser, clientName string) (*session, error) {
	s := &session{
		conn:    conn,
		pending: make(map[int64]chan rpcResponse),
		done:    make(chan struct{}),
	}
	go s.readLoop()

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]string{"name": clientName, "version": "1.0.0"},
		"capabilities":    map[string]any{"tools": map[string]any{}},
	}
	var result struct {
		ServerInfo struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	if err := s.call(ctx, "initialize", params, &result); err != nil {
		s.close()
		return nil, fmt.Errorf("initialize handshake: %w", err)
	}
	s.serverName = result.ServerInfo.Name
	_ = s.notify("notifications/initialized", map[string]any{})
	return s, nil
}

func (s *session) readLoop() {
	reader := bufio.NewReader(s.conn)
	for {
		payload, err := readFrame(reader)
		if err != nil {
			s.finish(err)
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			s.finish(fmt.Errorf("decoding response: %w", err))
			return
		}
		if resp.ID == nil {
			// Server-initiated notification; nothing to correlate.
			continue
		}
		s.pendingMu.Lock()
		ch, ok := s.pending[*resp.ID]
		if ok {
			delete(s.pending, *resp.ID)
		}
		s.pendingMu.Unlock()
		if ok {
			select {
			case ch <- resp:
			default:
			}
		}
	}
}

// finish records the terminal error and unblocks all pending callers.
func (s *session) finish(err error) {
	s.pendingMu.Lock()
	if s.err == nil {
		s.err = err
	}
	for id, ch := range s.pending {
		delete(s.pending, id)
		select {
		case ch <- rpcResponse{Error: &rpcError{Message: errSessionClosed.Error()}}:
		default:
		}
	}
	s.pendingMu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *session) call(ctx context.Context, method string, params, result any) error {
	id := s.counter.Add(1)
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		return err
	}

	respCh := make(chan rpcResponse, 1)
	s.pendingMu.Lock()
	if s.err != nil {
		s.pendingMu.Unlock()
		return errSessionClosed
	}
	s.pending[id] = respCh
	s.pendingMu.Unlock()

	if err := s.writeFrame(payload); err != nil {
		s.removePending(id)
		return err
	}

	select {
	case <-ctx.Done():
		s.removePending(id)
		return ctx.Err()
	case <-s.done:
		s.removePending(id)
		return errSessionClosed
	case resp := <-respCh:
		if resp.Error != nil {
			return fmt.Errorf("backend error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		if result != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	}
}

func (s *session) notify(method string, params any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	return s.writeFrame(payload)
}

func (s *session) removePending(id int64) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

func (s *session) writeFrame(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	if _, err := io.WriteString(s.conn, header); err != nil {
		return err
	}
	_, err := s.conn.Write(payload)
	return err
}

func (s *session) close() {
	s.finish(errSessionClosed)
	_ = s.conn.Close()
}

// readFrame reads one Content-Length framed message from the reader.
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
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return body, nil
}
