// ABOUTME: Minimal fake tool server for E2E testing — serves echo, cost, and sleep tools over stdio.
// ABOUTME: Usage: fake-tools [-name "fake"] [-addr host:port for TCP instead of stdio]

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/2389/toolgate/internal/toolserver"
)

func main() {
	name := flag.String("name", "fake", "Server display name")
	addr := flag.String("addr", "", "Listen on TCP address instead of stdio")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, *name, *addr); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, name, addr string) error {
	// Diagnostics go to stderr; stdout carries the protocol.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	srv := toolserver.NewServer(name, logger)
	if err := registerTools(srv); err != nil {
		return err
	}

	if addr == "" {
		return srv.ServeStdio(ctx)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	defer ln.Close()
	logger.Info("listening", "addr", addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			defer conn.Close()
			if err := srv.Serve(ctx, conn); err != nil {
				logger.Warn("session ended", "error", err)
			}
		}()
	}
}

func registerTools(srv *toolserver.Server) error {
	tools := []toolserver.Tool{
		{
			Name:        "echo",
			Description: "Echoes back the given message",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`),
			Handler: func(_ context.Context, args json.RawMessage) (any, error) {
				var p struct {
					Message string `json:"message"`
				}
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
				return p.Message, nil
			},
		},
		{
			Name:        "get_monthly_costs",
			Description: "Returns the current month's cost summary",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			Handler: func(_ context.Context, _ json.RawMessage) (any, error) {
				return json.RawMessage(`{"total": 150}`), nil
			},
		},
		{
			Name:        "sleep",
			Description: "Sleeps for the given number of milliseconds",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"ms":{"type":"integer"}},"required":["ms"]}`),
			Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				var p struct {
					MS int `json:"ms"`
				}
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
				select {
				case <-time.After(time.Duration(p.MS) * time.Millisecond):
					return "slept", nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		},
	}
	for _, t := range tools {
		if err := srv.Register(t); err != nil {
			return err
		}
	}
	return nil
}
