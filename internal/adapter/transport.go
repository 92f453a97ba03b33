// ABOUTME: Transport implementations connecting an adapter to its backend process.
// ABOUTME: Supports launched stdio child processes and loopback TCP dialing.

package adapter

import (
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"time"
)

// Transport produces a byte stream to a tool server backend.
type Transport interface {
	// Connect establishes a fresh connection. The returned stream is owned
	// by the caller and must be closed when the session ends.
	Connect(ctx context.Context) (io.ReadWriteCloser, error)

	// String describes the transport target for logging.
	String() string
}

// StdioTransport launches the backend as a child process and speaks over its
// stdin/stdout pipes.
type StdioTransport struct {
	Command string
	Args    []string
	Env     []string
}

// Connect starts the child process. The child's lifetime is tied to the
// returned stream, not to ctx: closing the stream closes the pipes and kills
// the process if it has not already exited.
func (t *StdioTransport) Connect(_ context.Context) (io.ReadWriteCloser, error) {
	if t.Command == "" {
		return nil, fmt.Errorf("stdio transport: command is required")
	}
	cmd := exec.Command(t.Command, t.Args...)
	if len(t.Env) > 0 {
		cmd.Env = t.Env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdio transport: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stdio transport: starting %s: %w", t.Command, err)
	}
	return &procConn{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (t *StdioTransport) String() string {
	return "stdio:" + t.Command
}

// procConn bundles a child process with its pipes as one stream.
type procConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (c *procConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *procConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

func (c *procConn) Close() error {
	_ = c.stdin.Close()
	_ = c.stdout.Close()
	if c.cmd.ProcessState == nil {
		_ = c.cmd.Process.Kill()
	}
	// Reap the child so it does not linger as a zombie.
	_ = c.cmd.Wait()
	return nil
}

// TCPTransport dials a tool server listening on a loopback address.
type TCPTransport struct {
	Addr        string
	DialTimeout time.Duration
}

// Connect dials the configured address.
func (t *TCPTransport) Connect(ctx context.Context) (io.ReadWriteCloser, error) {
	if t.Addr == "" {
		return nil, fmt.Errorf("tcp transport: address is required")
	}
	timeout := t.DialTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return nil, fmt.Errorf("tcp transport: dialing %s: %w", t.Addr, err)
	}
	return conn, nil
}

func (t *TCPTransport) String() string {
	return "tcp:" + t.Addr
}

// pipeTransport wraps a pre-established stream, used by tests.
type pipeTransport struct {
	conn io.ReadWriteCloser
}

// NewPipeTransport returns a Transport over an already-connected stream.
func NewPipeTransport(conn io.ReadWriteCloser) Transport {
	return &pipeTransport{conn: conn}
}

func (t *pipeTransport) Connect(context.Context) (io.ReadWriteCloser, error) {
	return t.conn, nil
}

func (t *pipeTransport) String() string { return "pipe" }
