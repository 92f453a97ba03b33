// ABOUTME: Thread-safe capability registry aggregating tool descriptors across adapters.
// ABOUTME: Applies adapter-id namespacing and publishes a copy-on-write descriptor snapshot.

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/toolgate/internal/adapter"
)

// Registry errors
var (
	// ErrAdapterRegistered indicates an adapter with the same ID already exists.
	ErrAdapterRegistered = errors.New("adapter already registered")

	// ErrAdapterNotFound indicates the specified adapter is not registered.
	ErrAdapterNotFound = errors.New("adapter not found")

	// ErrToolCollision indicates two adapters published the same qualified
	// tool name. This is a configuration error, not a runtime condition.
	ErrToolCollision = errors.New("tool name collision")

	// ErrUnknownTool indicates no published descriptor matches the name.
	ErrUnknownTool = errors.New("unknown tool")
)

// Handle tracks one registered adapter and its probe history. Handles are
// owned exclusively by the Registry; other components refer to adapters by ID.
type Handle struct {
	Adapter      adapter.Adapter
	RegisteredAt time.Time

	mu              sync.Mutex
	lastHealthCheck time.Time
	failures        int
}

// RecordProbe updates probe bookkeeping and returns the number of
// consecutive failures after this probe.
func (h *Handle) RecordProbe(ok bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastHealthCheck = time.Now()
	if ok {
		h.failures = 0
	} else {
		h.failures++
	}
	return h.failures
}

// LastHealthCheck returns the time of the most recent probe.
func (h *Handle) LastHealthCheck() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastHealthCheck
}

// snapshot is an immutable published descriptor set. Readers load it through
// an atomic pointer so a slow refresh never blocks them.
type snapshot struct {
	descriptors []adapter.ToolDescriptor
	owners      map[string]string // qualified tool name -> adapter ID
}

func emptySnapshot() *snapshot {
	return &snapshot{owners: make(map[string]string)}
}

// Registry aggregates tool descriptors from all registered adapters into one
// collision-free namespace.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	adapters map[string]*Handle

	publishMu sync.Mutex
	published atomic.Pointer[snapshot]
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:   logger.With("component", "registry"),
		adapters: make(map[string]*Handle),
	}
	r.published.Store(emptySnapshot())
	return r
}

// Register adds a started adapter, triggers immediate discovery, and
// republishes the merged descriptor set. A qualified-name collision is
// reported here as a fatal configuration error and the adapter is not kept.
func (r *Registry) Register(ctx context.Context, a adapter.Adapter) error {
	r.mu.Lock()
	if _, exists := r.adapters[a.ID()]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAdapterRegistered, a.ID())
	}
	handle := &Handle{Adapter: a, RegisteredAt: time.Now()}
	r.adapters[a.ID()] = handle
	r.mu.Unlock()

	if err := r.Refresh(ctx); err != nil {
		r.mu.Lock()
		delete(r.adapters, a.ID())
		r.mu.Unlock()
		// Roll the published set back to a state without the new adapter.
		if rerr := r.Refresh(ctx); rerr != nil {
			r.logger.Error("rollback refresh failed", "error", rerr)
		}
		return err
	}

	snap := r.published.Load()
	r.logger.Info("adapter registered",
		"adapter_id", a.ID(),
		"total_adapters", r.Count(),
		"total_tools", len(snap.descriptors),
	)
	return nil
}

// Deregister removes an adapter, closes it, and republishes without its tools.
func (r *Registry) Deregister(ctx context.Context, adapterID string) error {
	r.mu.Lock()
	handle, exists := r.adapters[adapterID]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, adapterID)
	}
	delete(r.adapters, adapterID)
	r.mu.Unlock()

	_ = handle.Adapter.Close()
	if err := r.Refresh(ctx); err != nil {
		return err
	}
	r.logger.Info("adapter deregistered", "adapter_id", adapterID)
	return nil
}

// Refresh re-runs discovery across all ready adapters and atomically swaps
// the published snapshot. Degraded adapters lose their descriptors but their
// handles are retained for recovery. Discovery runs in parallel; an
// individual adapter failure excludes its tools rather than failing the
// whole refresh.
func (r *Registry) Refresh(ctx context.Context) error {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.adapters))
	for _, h := range r.adapters {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	type discovery struct {
		adapterID string
		tools     []adapter.ToolDescriptor
	}

	results := make([]discovery, len(handles))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			if h.Adapter.State() != adapter.StateReady {
				return nil
			}
			// A refresh must observe the backend's current toolset, not
			// the adapter's cached descriptors.
			h.Adapter.Invalidate()
			tools, err := h.Adapter.ListTools(gctx)
			if err != nil {
				r.logger.Warn("discovery failed, excluding adapter tools",
					"adapter_id", h.Adapter.ID(),
					"error", err,
				)
				return nil
			}
			results[i] = discovery{adapterID: h.Adapter.ID(), tools: tools}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	next := emptySnapshot()
	for _, res := range results {
		for _, tool := range res.tools {
			qualified := res.adapterID + "_" + tool.Name
			if owner, exists := next.owners[qualified]; exists {
				return fmt.Errorf("%w: %q published by both %q and %q",
					ErrToolCollision, qualified, owner, res.adapterID)
			}
			tool.Name = qualified
			next.owners[qualified] = res.adapterID
			next.descriptors = append(next.descriptors, tool)
		}
	}
	sort.Slice(next.descriptors, func(i, j int) bool {
		return next.descriptors[i].Name < next.descriptors[j].Name
	})

	r.published.Store(next)
	r.logger.Debug("published descriptor set", "tool_count", len(next.descriptors))
	return nil
}

// Resolve maps a qualified tool name to its owning adapter in O(1).
func (r *Registry) Resolve(qualifiedName string) (adapter.Adapter, error) {
	snap := r.published.Load()
	adapterID, ok := snap.owners[qualifiedName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, qualifiedName)
	}

	r.mu.RLock()
	handle, exists := r.adapters[adapterID]
	r.mu.RUnlock()
	if !exists {
		// Published set and adapter map disagree; a refresh is in flight or
		// something went badly wrong. Surface as unknown either way.
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, qualifiedName)
	}
	return handle.Adapter, nil
}

// NativeName strips the owning adapter's prefix from a qualified name.
func (r *Registry) NativeName(qualifiedName string) string {
	snap := r.published.Load()
	adapterID, ok := snap.owners[qualifiedName]
	if !ok {
		return qualifiedName
	}
	return qualifiedName[len(adapterID)+1:]
}

// Descriptors returns a copy of the current published descriptor set.
func (r *Registry) Descriptors() []adapter.ToolDescriptor {
	snap := r.published.Load()
	out := make([]adapter.ToolDescriptor, len(snap.descriptors))
	copy(out, snap.descriptors)
	return out
}

// Handles returns the live adapter handles, used by the health monitor.
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.adapters))
	for _, h := range r.adapters {
		out = append(out, h)
	}
	return out
}

// Count returns the number of registered adapters.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// Close closes all adapters and publishes an empty set.
func (r *Registry) Close() {
	r.mu.Lock()
	adapters := r.adapters
	r.adapters = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range adapters {
		_ = h.Adapter.Close()
	}
	r.published.Store(emptySnapshot())
	r.logger.Info("registry closed", "adapters_closed", len(adapters))
}
