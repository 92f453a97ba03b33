// ABOUTME: Turn-bracketing hook layering best-effort memory around orchestration turns.
// ABOUTME: Reads history on turn start, appends asynchronously on turn end, never fails a turn.

package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hook defaults.
const (
	DefaultHistoryDepth  = 3
	DefaultRetention     = 30 * 24 * time.Hour
	DefaultWriteTimeout  = 5 * time.Second
	DefaultPurgeInterval = 1 * time.Hour
)

// HookConfig configures the session memory hook.
type HookConfig struct {
	Store        Store
	Logger       *slog.Logger
	HistoryDepth int           // k: turns returned by OnTurnStart
	Retention    time.Duration // per-turn expiry window
	WriteTimeout time.Duration // bound on async appends
}

// Hook brackets orchestration turns with memory retrieval and storage.
// It is an enrichment side-channel: every failure is absorbed and logged,
// never surfaced into the routing path.
type Hook struct {
	store        Store
	logger       *slog.Logger
	historyDepth int
	retention    time.Duration
	writeTimeout time.Duration

	wg sync.WaitGroup
}

// NewHook creates a session memory hook.
func NewHook(cfg HookConfig) *Hook {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hook{
		store:        cfg.Store,
		logger:       logger.With("component", "memory_hook"),
		historyDepth: cfg.HistoryDepth,
		retention:    cfg.Retention,
		writeTimeout: cfg.WriteTimeout,
	}
	if h.historyDepth <= 0 {
		h.historyDepth = DefaultHistoryDepth
	}
	if h.retention <= 0 {
		h.retention = DefaultRetention
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = DefaultWriteTimeout
	}
	return h
}

// OnTurnStart fetches the last k turns for the session. If the store is
// unavailable the turn proceeds without history.
func (h *Hook) OnTurnStart(ctx context.Context, key Key) []Turn {
	turns, err := h.store.LastTurns(ctx, key, h.historyDepth)
	if err != nil {
		h.logger.Warn("history fetch failed, proceeding without",
			"session_id", key.SessionID,
			"error", err,
		)
		return nil
	}
	return turns
}

// OnTurnEnd appends the new turn asynchronously. Write failures are logged
// and dropped; losing one memory write must not break the conversation.
func (h *Hook) OnTurnEnd(key Key, role, content string) {
	now := time.Now()
	turn := Turn{
		Role:      role,
		Content:   content,
		CreatedAt: now,
		ExpiresAt: now.Add(h.retention),
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		defer cancel()
		if err := h.store.AppendTurn(ctx, key, turn); err != nil {
			h.logger.Warn("turn append failed, dropping",
				"session_id", key.SessionID,
				"role", role,
				"error", err,
			)
		}
	}()
}

// Flush waits for in-flight appends. Used on shutdown and by tests.
func (h *Hook) Flush() {
	h.wg.Wait()
}

// RunPurge periodically removes expired turns until ctx is cancelled.
func (h *Hook) RunPurge(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := h.store.PurgeExpired(ctx)
			if err != nil {
				h.logger.Warn("purge failed", "error", err)
				continue
			}
			if purged > 0 {
				h.logger.Debug("purged expired turns", "count", purged)
			}
		}
	}
}
