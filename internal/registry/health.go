// ABOUTME: Periodic liveness probing of registered adapters.
// ABOUTME: Marks adapters degraded after consecutive failures and republishes the tool set.

package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/toolgate/internal/adapter"
)

// Monitor defaults.
const (
	DefaultProbeInterval    = 30 * time.Second
	DefaultProbeTimeout     = 5 * time.Second
	DefaultFailureThreshold = 3
)

// MonitorConfig configures the health monitor.
type MonitorConfig struct {
	Registry         *Registry
	Logger           *slog.Logger
	Interval         time.Duration
	ProbeTimeout     time.Duration
	FailureThreshold int
}

// Monitor probes registered adapters and drives their degraded/ready
// transitions. Three consecutive probe failures (configurable) exclude an
// adapter from the published set until it answers a probe again.
type Monitor struct {
	registry  *Registry
	logger    *slog.Logger
	interval  time.Duration
	timeout   time.Duration
	threshold int
}

// NewMonitor creates a health monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		registry:  cfg.Registry,
		logger:    logger.With("component", "health"),
		interval:  cfg.Interval,
		timeout:   cfg.ProbeTimeout,
		threshold: cfg.FailureThreshold,
	}
	if m.interval <= 0 {
		m.interval = DefaultProbeInterval
	}
	if m.timeout <= 0 {
		m.timeout = DefaultProbeTimeout
	}
	if m.threshold <= 0 {
		m.threshold = DefaultFailureThreshold
	}
	return m
}

// Run probes all adapters on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep probes every registered adapter once. Exported so tests and the
// serve loop can force a probe cycle without waiting for the ticker.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, handle := range m.registry.Handles() {
		m.probe(ctx, handle)
	}
}

func (m *Monitor) probe(ctx context.Context, handle *Handle) {
	a := handle.Adapter
	if a.State() == adapter.StateStopped {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := a.Ping(probeCtx)
	cancel()

	failures := handle.RecordProbe(err == nil)

	switch {
	case err == nil && a.State() == adapter.StateDegraded:
		a.MarkReady()
		m.logger.Info("adapter recovered, republishing", "adapter_id", a.ID())
		if rerr := m.registry.Refresh(ctx); rerr != nil {
			m.logger.Error("refresh after recovery failed", "adapter_id", a.ID(), "error", rerr)
		}
	case err != nil && failures == m.threshold && a.State() == adapter.StateReady:
		m.logger.Warn("adapter failed consecutive probes, degrading",
			"adapter_id", a.ID(),
			"failures", failures,
			"error", err,
		)
		a.MarkDegraded()
		if rerr := m.registry.Refresh(ctx); rerr != nil {
			m.logger.Error("refresh after degradation failed", "adapter_id", a.ID(), "error", rerr)
		}
	case err != nil:
		m.logger.Debug("probe failed", "adapter_id", a.ID(), "failures", failures, "error", err)
	}
}
