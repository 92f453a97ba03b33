// ABOUTME: Tests for the stdio transport's child process lifecycle.
// ABOUTME: Verifies the child is bound to the stream, not the connect context.

package adapter

import (
	"context"
	"io"
	"testing"

	"golang.org/x/sync/errgroup"
)

// Backends are launched concurrently at boot under a short-lived group
// context. The child must keep running after that context is canceled;
// only closing the stream may tear it down.
func TestStdioTransport_ChildOutlivesConnectContext(t *testing.T) {
	tr := &StdioTransport{Command: "cat"}

	var conn io.ReadWriteCloser
	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		c, err := tr.Connect(gctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	// Wait returning cancels the group context.
	<-gctx.Done()

	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("Write() after context cancel: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("Read() after context cancel: %v", err)
	}
	if got := string(buf); got != "ping\n" {
		t.Errorf("round trip = %q, want %q", got, "ping\n")
	}
}

func TestStdioTransport_RequiresCommand(t *testing.T) {
	tr := &StdioTransport{}
	if _, err := tr.Connect(context.Background()); err == nil {
		t.Fatal("Connect() with no command: expected error")
	}
}
