// ABOUTME: Concrete adapter implementation over a framed JSON-RPC transport.
// ABOUTME: Handles start retries, descriptor caching, FIFO call serialization, and liveness probes.

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Default tuning, overridable through Options.
const (
	DefaultStartAttempts = 3
	DefaultStartBackoff  = 1 * time.Second
	DefaultListTimeout   = 10 * time.Second
	DefaultCallTimeout   = 30 * time.Second
	DefaultQueueSize     = 16
)

// Options configures a Remote adapter.
type Options struct {
	ID         string
	Transport  Transport
	Concurrent bool // backend explicitly advertises concurrency support

	StartAttempts int
	StartBackoff  time.Duration
	ListTimeout   time.Duration
	CallTimeout   time.Duration
	QueueSize     int

	// CallRetries is how many times a timed-out call is re-attempted before
	// ErrUnresponsive surfaces. Zero means a single attempt; leave it zero
	// for tools with side effects.
	CallRetries int

	Logger *slog.Logger
}

// Remote is an Adapter speaking framed JSON-RPC to an external backend.
type Remote struct {
	id         string
	concurrent bool
	transport  Transport
	logger     *slog.Logger

	startAttempts int
	startBackoff  time.Duration
	listTimeout   time.Duration
	callTimeout   time.Duration
	callRetries   int

	state atomic.Int32

	sessMu sync.RWMutex
	sess   *session

	// transportMu keeps discovery and execution from interleaving:
	// ListTools holds the write lock, calls hold read locks.
	transportMu sync.RWMutex

	cacheMu sync.Mutex
	cache   []ToolDescriptor

	queue      chan *queuedCall
	workerOnce sync.Once
	closeOnce  sync.Once
	closed     chan struct{}
}

type queuedCall struct {
	ctx   context.Context
	name  string
	args  json.RawMessage
	reply chan callReply
}

type callReply struct {
	result *CallResult
	err    error
}

// New creates a Remote adapter from options. The adapter is not connected
// until Start is called.
func New(opts Options) (*Remote, error) {
	if opts.ID == "" {
		return nil, errors.New("adapter id is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("adapter transport is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Remote{
		id:            opts.ID,
		concurrent:    opts.Concurrent,
		transport:     opts.Transport,
		logger:        logger.With("adapter_id", opts.ID),
		startAttempts: opts.StartAttempts,
		startBackoff:  opts.StartBackoff,
		listTimeout:   opts.ListTimeout,
		callTimeout:   opts.CallTimeout,
		callRetries:   opts.CallRetries,
		queue:         make(chan *queuedCall, queueSize(opts.QueueSize)),
		closed:        make(chan struct{}),
	}
	if r.startAttempts <= 0 {
		r.startAttempts = DefaultStartAttempts
	}
	if r.startBackoff <= 0 {
		r.startBackoff = DefaultStartBackoff
	}
	if r.listTimeout <= 0 {
		r.listTimeout = DefaultListTimeout
	}
	if r.callTimeout <= 0 {
		r.callTimeout = DefaultCallTimeout
	}
	r.state.Store(int32(StateStarting))
	return r, nil
}

func queueSize(n int) int {
	if n <= 0 {
		return DefaultQueueSize
	}
	return n
}

// ID returns the adapter identifier.
func (r *Remote) ID() string { return r.id }

// Concurrent reports whether the backend opted into concurrent calls.
func (r *Remote) Concurrent() bool { return r.concurrent }

// State returns the current transport state.
func (r *Remote) State() State { return State(r.state.Load()) }

// Start connects to the backend with bounded retries and exponential backoff.
func (r *Remote) Start(ctx context.Context) error {
	r.state.Store(int32(StateStarting))

	backoff := r.startBackoff
	var lastErr error
	for attempt := 1; attempt <= r.startAttempts; attempt++ {
		sess, err := r.connect(ctx)
		if err == nil {
			r.sessMu.Lock()
			r.sess = sess
			r.sessMu.Unlock()
			r.state.Store(int32(StateReady))
			if !r.concurrent {
				r.workerOnce.Do(func() { go r.worker() })
			}
			r.logger.Info("adapter started",
				"transport", r.transport.String(),
				"attempt", attempt,
				"server_name", sess.serverName,
			)
			return nil
		}
		lastErr = err
		r.logger.Warn("adapter start attempt failed",
			"transport", r.transport.String(),
			"attempt", attempt,
			"error", err,
		)
		if attempt < r.startAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				r.state.Store(int32(StateStopped))
				return fmt.Errorf("%w: %v", ErrStartFailure, ctx.Err())
			}
			backoff *= 2
		}
	}

	r.state.Store(int32(StateStopped))
	return fmt.Errorf("%w: %d attempts: %v", ErrStartFailure, r.startAttempts, lastErr)
}

func (r *Remote) connect(ctx context.Context) (*session, error) {
	conn, err := r.transport.Connect(ctx)
	if err != nil {
		return nil, err
	}
	handshakeCtx, cancel := context.WithTimeout(ctx, r.listTimeout)
	defer cancel()
	sess, err := newSession(handshakeCtx, conn, "toolgate")
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return sess, nil
}

// ListTools performs capability discovery, serving from the cache when valid.
// Discovery holds the transport exclusively so it never interleaves with
// in-flight calls.
func (r *Remote) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	r.cacheMu.Lock()
	if r.cache != nil {
		out := make([]ToolDescriptor, len(r.cache))
		copy(out, r.cache)
		r.cacheMu.Unlock()
		return out, nil
	}
	r.cacheMu.Unlock()

	sess, err := r.session()
	if err != nil {
		return nil, err
	}

	r.transportMu.Lock()
	defer r.transportMu.Unlock()

	listCtx, cancel := context.WithTimeout(ctx, r.listTimeout)
	defer cancel()

	var resp struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := sess.call(listCtx, "tools/list", map[string]any{}, &resp); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: tools/list timed out after %s", ErrUnresponsive, r.listTimeout)
		}
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	tools := make([]ToolDescriptor, len(resp.Tools))
	for i, t := range resp.Tools {
		t.AdapterID = r.id
		tools[i] = t
	}

	r.cacheMu.Lock()
	r.cache = tools
	r.cacheMu.Unlock()

	r.logger.Debug("discovered tools", "count", len(tools))

	out := make([]ToolDescriptor, len(tools))
	copy(out, tools)
	return out, nil
}

// Invalidate drops the descriptor cache.
func (r *Remote) Invalidate() {
	r.cacheMu.Lock()
	r.cache = nil
	r.cacheMu.Unlock()
}

// CallTool forwards a tool call. Non-concurrent adapters queue calls through
// a single worker so the backend observes strict arrival order.
func (r *Remote) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	if r.State() == StateStopped {
		return nil, ErrClosed
	}
	if r.concurrent {
		return r.executeWithRetry(ctx, name, args)
	}

	call := &queuedCall{ctx: ctx, name: name, args: args, reply: make(chan callReply, 1)}
	select {
	case r.queue <- call:
	case <-r.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-call.reply:
		return reply.result, reply.err
	case <-ctx.Done():
		// Abandon the wait; the worker releases the serialization slot when
		// the backend call unwinds on the same cancelled context.
		return nil, ctx.Err()
	}
}

// worker drains the call queue one request at a time.
func (r *Remote) worker() {
	for {
		select {
		case call := <-r.queue:
			if err := call.ctx.Err(); err != nil {
				call.reply <- callReply{err: err}
				continue
			}
			result, err := r.executeWithRetry(call.ctx, call.name, call.args)
			call.reply <- callReply{result: result, err: err}
		case <-r.closed:
			// Fail any calls still queued behind the close.
			for {
				select {
				case call := <-r.queue:
					call.reply <- callReply{err: ErrClosed}
				default:
					return
				}
			}
		}
	}
}

// executeWithRetry re-attempts timed-out calls up to the configured bound.
// Only ErrUnresponsive is retried; caller errors and cancellations are not.
func (r *Remote) executeWithRetry(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	var lastErr error
	for attempt := 0; attempt <= r.callRetries; attempt++ {
		result, err := r.execute(ctx, name, args)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !errors.Is(err, ErrUnresponsive) || ctx.Err() != nil {
			return nil, err
		}
		if attempt < r.callRetries {
			r.logger.Warn("retrying timed-out tool call",
				"tool_name", name,
				"attempt", attempt+1,
			)
		}
	}
	return nil, lastErr
}

func (r *Remote) execute(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	sess, err := r.session()
	if err != nil {
		return nil, err
	}

	r.transportMu.RLock()
	defer r.transportMu.RUnlock()

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	params := map[string]any{"name": name, "arguments": args}

	var resp struct {
		Content []Content `json:"content"`
		IsError bool      `json:"isError"`
	}

	start := time.Now()
	err = sess.call(callCtx, "tools/call", params, &resp)
	latency := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			r.logger.Warn("tool call timed out",
				"tool_name", name,
				"timeout", r.callTimeout,
			)
			return nil, fmt.Errorf("%w: call to %q timed out after %s", ErrUnresponsive, name, r.callTimeout)
		}
		return nil, fmt.Errorf("tools/call %q: %w", name, err)
	}

	return &CallResult{Content: resp.Content, IsError: resp.IsError, Latency: latency}, nil
}

// Ping issues a liveness probe against the backend.
func (r *Remote) Ping(ctx context.Context) error {
	sess, err := r.session()
	if err != nil {
		return err
	}
	if err := sess.call(ctx, "ping", map[string]any{}, nil); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: ping timed out", ErrUnresponsive)
		}
		return err
	}
	return nil
}

// MarkDegraded transitions to degraded and invalidates cached descriptors.
func (r *Remote) MarkDegraded() {
	if r.state.CompareAndSwap(int32(StateReady), int32(StateDegraded)) {
		r.Invalidate()
		r.logger.Warn("adapter marked degraded")
	}
}

// MarkReady transitions a degraded adapter back to ready.
func (r *Remote) MarkReady() {
	if r.state.CompareAndSwap(int32(StateDegraded), int32(StateReady)) {
		r.logger.Info("adapter recovered")
	}
}

// Close stops the adapter and tears down the backend connection.
func (r *Remote) Close() error {
	r.closeOnce.Do(func() {
		r.state.Store(int32(StateStopped))
		close(r.closed)
		r.sessMu.RLock()
		sess := r.sess
		r.sessMu.RUnlock()
		if sess != nil {
			sess.close()
		}
		r.logger.Info("adapter closed")
	})
	return nil
}

func (r *Remote) session() (*session, error) {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	if r.sess == nil || r.State() == StateStopped {
		return nil, ErrClosed
	}
	return r.sess, nil
}
