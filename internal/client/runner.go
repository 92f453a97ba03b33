// ABOUTME: Turn runner bracketing the reasoning loop with memory and tool discovery.
// ABOUTME: Pulls history and tools on turn start, persists new turns on turn end.

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/2389/toolgate/internal/gateway"
	"github.com/2389/toolgate/internal/memory"
)

// ToolCaller relays one chosen tool call through the gateway.
type ToolCaller func(ctx context.Context, name string, args json.RawMessage) (*gateway.CallToolResult, error)

// ReasonFunc is the black-box reasoning loop. It receives the user input,
// recent history, and the current tool list, and may invoke tools through
// the provided caller.
type ReasonFunc func(ctx context.Context, input string, history []memory.Turn, tools []gateway.ToolInfo, call ToolCaller) (string, error)

// TurnRunner drives one orchestration turn: memory in, tools in, reasoning,
// memory out.
type TurnRunner struct {
	client   *Client
	hook     *memory.Hook
	memoryID string
	actorID  string
	logger   *slog.Logger
}

// RunnerConfig configures a TurnRunner.
type RunnerConfig struct {
	Client   *Client
	Hook     *memory.Hook
	MemoryID string
	ActorID  string
	Logger   *slog.Logger
}

// NewTurnRunner creates a turn runner.
func NewTurnRunner(cfg RunnerConfig) (*TurnRunner, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if cfg.Hook == nil {
		return nil, fmt.Errorf("memory hook is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnRunner{
		client:   cfg.Client,
		hook:     cfg.Hook,
		memoryID: cfg.MemoryID,
		actorID:  cfg.ActorID,
		logger:   logger.With("component", "runner"),
	}, nil
}

// RunTurn executes one turn for the session. History retrieval is
// best-effort; tool discovery is not, since the reasoning loop needs an
// accurate tool list every turn.
func (r *TurnRunner) RunTurn(ctx context.Context, sessionID, input string, reason ReasonFunc) (string, error) {
	key := memory.Key{MemoryID: r.memoryID, ActorID: r.actorID, SessionID: sessionID}

	history := r.hook.OnTurnStart(ctx, key)

	tools, err := r.client.ListTools(ctx)
	if err != nil {
		return "", fmt.Errorf("listing tools: %w", err)
	}

	r.logger.Debug("turn started",
		"session_id", sessionID,
		"history_turns", len(history),
		"tool_count", len(tools),
	)

	reply, err := reason(ctx, input, history, tools, r.client.CallTool)
	if err != nil {
		return "", err
	}

	r.hook.OnTurnEnd(key, "user", input)
	r.hook.OnTurnEnd(key, "assistant", reply)
	return reply, nil
}
