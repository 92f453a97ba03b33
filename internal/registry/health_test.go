// ABOUTME: Tests for the health monitor's degradation and recovery transitions.
// ABOUTME: Drives probe sweeps directly instead of waiting on the ticker.

package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/2389/toolgate/internal/adapter"
)

func TestMonitor_DegradesAfterConsecutiveFailures(t *testing.T) {
	r := New(nil)
	defer r.Close()
	ctx := context.Background()

	fake := newFakeAdapter("flappy", "tool")
	if err := r.Register(ctx, fake); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m := NewMonitor(MonitorConfig{
		Registry:         r,
		Interval:         time.Hour, // ticker unused; sweeps are manual
		ProbeTimeout:     time.Second,
		FailureThreshold: 3,
	})

	fake.pingErr = errors.New("no answer")

	// Two failures: still published.
	m.Sweep(ctx)
	m.Sweep(ctx)
	if fake.State() != adapter.StateReady {
		t.Fatalf("state after 2 failures = %v, want ready", fake.State())
	}
	if _, err := r.Resolve("flappy_tool"); err != nil {
		t.Fatalf("Resolve() after 2 failures error = %v, tool should still be published", err)
	}

	// Third failure crosses the threshold.
	m.Sweep(ctx)
	if fake.State() != adapter.StateDegraded {
		t.Fatalf("state after 3 failures = %v, want degraded", fake.State())
	}
	if _, err := r.Resolve("flappy_tool"); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("Resolve() after degradation error = %v, want ErrUnknownTool", err)
	}
	// The handle survives for recovery.
	if got := r.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestMonitor_RecoveryRepublishes(t *testing.T) {
	r := New(nil)
	defer r.Close()
	ctx := context.Background()

	fake := newFakeAdapter("flappy", "tool")
	if err := r.Register(ctx, fake); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m := NewMonitor(MonitorConfig{
		Registry:         r,
		Interval:         time.Hour,
		ProbeTimeout:     time.Second,
		FailureThreshold: 1,
	})

	fake.pingErr = errors.New("no answer")
	m.Sweep(ctx)
	if fake.State() != adapter.StateDegraded {
		t.Fatalf("state = %v, want degraded", fake.State())
	}

	fake.pingErr = nil
	m.Sweep(ctx)
	if fake.State() != adapter.StateReady {
		t.Fatalf("state after recovery = %v, want ready", fake.State())
	}
	if _, err := r.Resolve("flappy_tool"); err != nil {
		t.Errorf("Resolve() after recovery error = %v", err)
	}
}

func TestMonitor_SuccessResetsFailureCount(t *testing.T) {
	r := New(nil)
	defer r.Close()
	ctx := context.Background()

	fake := newFakeAdapter("flappy", "tool")
	if err := r.Register(ctx, fake); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m := NewMonitor(MonitorConfig{
		Registry:         r,
		Interval:         time.Hour,
		ProbeTimeout:     time.Second,
		FailureThreshold: 3,
	})

	fake.pingErr = errors.New("no answer")
	m.Sweep(ctx)
	m.Sweep(ctx)

	fake.pingErr = nil
	m.Sweep(ctx) // resets the streak

	fake.pingErr = errors.New("no answer")
	m.Sweep(ctx)
	m.Sweep(ctx)

	if fake.State() != adapter.StateReady {
		t.Errorf("state = %v, want ready; failure streak should have reset", fake.State())
	}
}
