// Package fetch provides a race-safe, retrying controller that owns the
// loading/error/staleness view of one remote resource.
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cinetrack/internal/metrics"
	"cinetrack/internal/retry"
)

// Operation loads the resource. It is invoked through the controller's
// backoff executor, so one Fetch may call it several times.
type Operation[T any] func(ctx context.Context) (T, error)

type Listener[T any] func(State[T])

// Controller commits the result of the most recently issued Fetch only.
// Results of superseded requests, and of requests that finish after Reset or
// Close, are dropped at commit time; in-flight calls are never aborted.
type Controller[T any] struct {
	op       Operation[T]
	executor *retry.Executor
	label    string
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	state  State[T]
	epoch  uint64 // bumped by Reset so rewound request ids never collide
	closed bool
	// version orders committed transitions for listeners.
	version   uint64
	listeners []Listener[T]

	notifyMu     sync.Mutex
	lastNotified uint64
}

type config struct {
	executor  *retry.Executor
	label     string
	logger    *slog.Logger
	autoFetch context.Context
	now       func() time.Time
}

type Option func(*config)

// WithRetry sets the executor every Fetch goes through.
func WithRetry(executor *retry.Executor) Option {
	return func(c *config) {
		if executor != nil {
			c.executor = executor
		}
	}
}

// WithLabel names the controller in logs, metrics and retry errors.
func WithLabel(label string) Option {
	return func(c *config) {
		if label != "" {
			c.label = label
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAutoFetch starts a Fetch with ctx as soon as the controller is built.
func WithAutoFetch(ctx context.Context) Option {
	return func(c *config) {
		c.autoFetch = ctx
	}
}

func withClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

func New[T any](op func(ctx context.Context) (T, error), options ...Option) *Controller[T] {
	cfg := config{
		label:  "fetch",
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(&cfg)
		}
	}
	if cfg.executor == nil {
		cfg.executor = retry.New(retry.DefaultConfig(), retry.WithLogger(cfg.logger))
	}

	c := &Controller[T]{
		op:       op,
		executor: cfg.executor,
		label:    cfg.label,
		logger:   cfg.logger,
		now:      cfg.now,
	}
	if cfg.autoFetch != nil {
		go c.Fetch(cfg.autoFetch)
	}
	return c
}

// State returns the current snapshot.
func (c *Controller[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn to receive every committed transition in order.
// Snapshots older than one already delivered are skipped.
func (c *Controller[T]) Subscribe(fn Listener[T]) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.listeners = append(c.listeners, fn)
}

// Fetch starts a new logical request and blocks until it completes. It
// returns the controller state observed after the request finished, which
// reflects a newer request if this one was superseded.
func (c *Controller[T]) Fetch(ctx context.Context) State[T] {
	c.mu.Lock()
	if c.closed {
		snapshot := c.state
		c.mu.Unlock()
		return snapshot
	}
	c.state.RequestID++
	requestID := c.state.RequestID
	epoch := c.epoch
	c.state.Loading = true
	c.state.Err = nil
	snapshot, version, listeners := c.commitLocked()
	c.mu.Unlock()
	c.notify(snapshot, version, listeners)

	data, err := retry.Do(ctx, c.executor, c.label, func(ctx context.Context) (T, error) {
		return c.op(ctx)
	})

	c.mu.Lock()
	if c.closed || c.epoch != epoch || c.state.RequestID != requestID {
		snapshot = c.state
		c.mu.Unlock()
		metrics.FetchCommitsTotal.WithLabelValues(c.label, "superseded").Inc()
		c.logger.Debug("fetch result superseded",
			slog.String("label", c.label),
			slog.Uint64("requestId", requestID),
			slog.Uint64("currentRequestId", snapshot.RequestID),
		)
		return snapshot
	}

	c.state.Loading = false
	if err != nil {
		c.state.Err = err
		c.state.Stale = c.state.HasData
		metrics.FetchCommitsTotal.WithLabelValues(c.label, "error").Inc()
		c.logger.Warn("fetch failed",
			slog.String("label", c.label),
			slog.Uint64("requestId", requestID),
			slog.Bool("stale", c.state.Stale),
			slog.String("error", err.Error()),
		)
	} else {
		c.state.Data = data
		c.state.HasData = true
		c.state.Stale = false
		c.state.UpdatedAt = c.now()
		metrics.FetchCommitsTotal.WithLabelValues(c.label, "success").Inc()
	}
	snapshot, version, listeners = c.commitLocked()
	c.mu.Unlock()
	c.notify(snapshot, version, listeners)
	return snapshot
}

// Refetch is Fetch; the later call always wins.
func (c *Controller[T]) Refetch(ctx context.Context) State[T] {
	return c.Fetch(ctx)
}

// Reset discards all state and rewinds the request id to zero. Requests still
// in flight are treated as superseded.
func (c *Controller[T]) Reset() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.epoch++
	c.state = State[T]{}
	snapshot, version, listeners := c.commitLocked()
	c.mu.Unlock()
	c.notify(snapshot, version, listeners)
}

// MarkStale flags the current data as stale without touching data or error.
func (c *Controller[T]) MarkStale() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state.Stale = true
	snapshot, version, listeners := c.commitLocked()
	c.mu.Unlock()
	c.notify(snapshot, version, listeners)
}

// Close tears the controller down. Later results are dropped and listeners
// are released.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.listeners = nil
}

func (c *Controller[T]) commitLocked() (State[T], uint64, []Listener[T]) {
	c.version++
	return c.state, c.version, c.listeners
}

func (c *Controller[T]) notify(snapshot State[T], version uint64, listeners []Listener[T]) {
	if len(listeners) == 0 {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if version <= c.lastNotified {
		return
	}
	c.lastNotified = version
	for _, fn := range listeners {
		fn(snapshot)
	}
}
