// Package connection keeps the process-wide handle to the contact store.
//
// A serverless host may reuse a process for many invocations (warm start) or
// create a fresh one per invocation (cold start). Cache establishes the
// downstream connection at most once per process and shares a single
// in-flight attempt between concurrent invocations, so racing requests never
// open duplicate connections.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned to callers of an attempt that was overtaken by Close.
var ErrClosed = errors.New("connection cache closed during connect")

// DefaultConnectTimeout bounds a single connection attempt.
const DefaultConnectTimeout = 10 * time.Second

// connectKey is the singleflight key; a Cache owns exactly one connection.
const connectKey = "connect"

// State is the lifecycle state of the cached connection.
type State int32

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Conn is an established downstream connection.
type Conn interface {
	// Host identifies the server the connection is attached to.
	Host() string
	// Close releases the connection.
	Close(ctx context.Context) error
}

// Dialer establishes a new connection. It must return a ready-to-use Conn or
// an error; Cache never calls it concurrently.
type Dialer func(ctx context.Context) (Conn, error)

// ConnectionError reports a failed connection attempt.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("store connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError returns true if err is or wraps a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for state transition lines.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTimeout bounds each connection attempt. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock overrides the time source used in transition logs.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache memoizes a single downstream connection.
type Cache struct {
	dial    Dialer
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	group    singleflight.Group
	attempts atomic.Int64

	mu      sync.RWMutex
	state   State
	conn    Conn
	host    string
	lastErr error
	// gen is bumped by Close; an attempt started under an older gen must not
	// publish its connection.
	gen uint64
}

// New creates a Cache in the Uninitialized state. No connection is attempted
// until the first EnsureReady call.
func New(dial Dialer, opts ...Option) *Cache {
	c := &Cache{
		dial:    dial,
		timeout: DefaultConnectTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureReady returns the cached connection, establishing it if needed.
//
// If an attempt is already in flight the caller waits for its outcome instead
// of starting another one. A Failed cache retries on the next call. The attempt
// itself is detached from ctx and bounded by the connect timeout; if ctx ends
// first only this caller stops waiting.
func (c *Cache) EnsureReady(ctx context.Context) (Conn, error) {
	if conn, ok := c.ready(); ok {
		return conn, nil
	}

	ch := c.group.DoChan(connectKey, func() (any, error) {
		return c.connect(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Conn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) ready() (Conn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == StateReady {
		return c.conn, true
	}
	return nil, false
}

// connect runs one attempt. It is only ever entered through the singleflight
// group, so at most one attempt is in flight.
func (c *Cache) connect(ctx context.Context) (conn Conn, err error) {
	c.mu.Lock()
	if c.state == StateReady {
		conn = c.conn
		c.mu.Unlock()
		return conn, nil
	}
	gen := c.gen
	c.transitionLocked(StateConnecting, c.host)
	c.mu.Unlock()

	c.attempts.Add(1)

	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	conn, err = c.safeDial(dialCtx)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if err != nil {
			return nil, &ConnectionError{Err: err}
		}
		if cerr := conn.Close(dialCtx); cerr != nil {
			c.logger.Warn("failed to close stale store connection", slog.String("error", cerr.Error()))
		}
		c.logger.Info("store connection discarded after close", slog.String("host", conn.Host()))
		return nil, &ConnectionError{Err: ErrClosed}
	}
	defer c.mu.Unlock()

	if err != nil {
		c.lastErr = err
		c.conn = nil
		c.transitionLocked(StateFailed, c.host)
		c.logger.Error("store connection error", slog.String("error", err.Error()))
		return nil, &ConnectionError{Err: err}
	}

	c.conn = conn
	c.host = conn.Host()
	c.lastErr = nil
	c.transitionLocked(StateReady, c.host)
	return conn, nil
}

func (c *Cache) safeDial(ctx context.Context) (conn Conn, err error) {
	defer func() {
		if p := recover(); p != nil {
			conn, err = nil, fmt.Errorf("dial panicked: %v", p)
		}
	}()

	if c.dial == nil {
		return nil, errors.New("no dialer configured")
	}
	conn, err = c.dial(ctx)
	if err == nil && conn == nil {
		err = errors.New("dialer returned no connection")
	}
	return conn, err
}

func (c *Cache) transitionLocked(next State, host string) {
	prev := c.state
	c.state = next
	c.logger.Info("store connection state changed",
		slog.String("from", prev.String()),
		slog.String("state", next.String()),
		slog.Time("time", c.now()),
		slog.String("host", host),
	)
}

// State returns the current connection state.
func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Host returns the host of the last successful connection, if any.
func (c *Cache) Host() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.host
}

// Conn returns the connection when Ready, nil otherwise.
func (c *Cache) Conn() Conn {
	conn, _ := c.ready()
	return conn
}

// LastError returns the error of the most recent failed attempt.
func (c *Cache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Attempts returns how many connection attempts have been started.
func (c *Cache) Attempts() int64 {
	return c.attempts.Load()
}

// Close releases the connection and returns the cache to Uninitialized. An
// attempt still in flight closes its connection instead of publishing it.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	conn := c.conn
	c.conn = nil
	if c.state != StateUninitialized {
		c.transitionLocked(StateUninitialized, c.host)
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(ctx); err != nil {
		return fmt.Errorf("close store connection: %w", err)
	}
	return nil
}
