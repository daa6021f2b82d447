// Package connection implements the Server Connection: one server's
// Session, Transport, CircuitBreaker and RetryStrategy composed behind a
// private state machine. The Lifecycle Manager is the only caller that ever
// touches a Connection directly; tool dispatch goes through GetSession.
package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xdien/cipher/internal/domain"
	"github.com/xdien/cipher/internal/events"
	"github.com/xdien/cipher/internal/resilience"
	"github.com/xdien/cipher/internal/rpc"
	"github.com/xdien/cipher/internal/transport"
)

// Connection owns the full lifecycle of one server's channel: dialing a
// Transport, opening a Session over it, and running the health probe
// through the circuit breaker. The session returned by GetSession is not
// wrapped by the breaker: calls made on it bypass breaker admission. State
// transitions are serialized by connectionLock so initialize and shutdown
// never interleave.
type Connection struct {
	connectionLock sync.Mutex

	descriptor *domain.ServerDescriptor
	clientInfo rpc.ClientInfo
	attempt    int

	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryStrategy
	sink    events.Sink

	state domain.ConnectionState

	transport transport.Transport
	session   *rpc.Session

	initialized chan struct{}
	initDone    bool
	initErr     error

	shutdownRequested chan struct{}
	shutdownOnce      sync.Once
	shutdownDone      chan struct{}
}

// New constructs a Connection in the new state. It dials nothing until
// Initialize is called.
func New(descriptor *domain.ServerDescriptor, breakerCfg domain.CircuitBreakerConfig, retryCfg domain.RetryConfig, clientInfo rpc.ClientInfo, sink events.Sink) *Connection {
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Connection{
		descriptor:        descriptor,
		clientInfo:        clientInfo,
		breaker:           resilience.NewCircuitBreaker(breakerCfg),
		retry:             resilience.NewRetryStrategy(retryCfg),
		sink:              sink,
		state:             domain.StateNew,
		initialized:       make(chan struct{}),
		shutdownRequested: make(chan struct{}),
		shutdownDone:      make(chan struct{}),
	}
}

// State returns the connection's current state.
func (c *Connection) State() domain.ConnectionState {
	c.connectionLock.Lock()
	defer c.connectionLock.Unlock()
	return c.state
}

func (c *Connection) setState(next domain.ConnectionState) {
	c.state = next
}

// Initialize dials the transport, opens a session, and performs the
// handshake, retrying per the configured RetryStrategy. It may be called
// again after BeginRecovery to re-establish a dropped connection; it must
// never be called concurrently with RequestShutdown, which connectionLock
// enforces.
func (c *Connection) Initialize(ctx context.Context) error {
	c.connectionLock.Lock()
	defer c.connectionLock.Unlock()

	if c.state.IsTerminal() {
		return domain.NewConnectionLostError(c.descriptor.Name, nil)
	}
	c.setState(domain.StateInitializing)
	c.attempt++

	var sess *rpc.Session
	_, err := c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		t, dialErr := transport.New(ctx, c.descriptor, attempt, "")
		if dialErr != nil {
			return dialErr
		}
		s := rpc.NewSession(c.descriptor.Name, t)
		s.Start()
		if _, initErr := s.Initialize(ctx, c.clientInfo); initErr != nil {
			s.Disconnect()
			_ = transport.Dispose(t)
			// A transport that drops mid-handshake (e.g. a stdio command
			// that exits immediately after spawning) never reached a
			// running state, so it is a dial failure, not a lost
			// connection: reclassify before it reaches the caller.
			var lost *domain.ConnectionLostError
			if errors.As(initErr, &lost) {
				return domain.NewTransportUnavailableError(c.descriptor.Name, string(c.descriptor.Kind), lost.Err)
			}
			return initErr
		}
		c.transport = t
		sess = s
		return nil
	})

	if err != nil {
		c.setState(domain.StateFailed)
		c.initErr = err
		if !c.initDone {
			c.initDone = true
			close(c.initialized)
		}
		c.emit(events.KindConnectionFailed, map[string]any{"error": err.Error()})
		return err
	}

	c.session = sess
	c.setState(domain.StateRunning)
	if !c.initDone {
		c.initDone = true
		close(c.initialized)
	}
	c.emit(events.KindConnectionReady, nil)
	return nil
}

// BeginRecovery transitions a running-but-dropped connection into the
// recovering state ahead of a fresh Initialize call. It refuses to start a
// second recovery while shutdown is already underway.
func (c *Connection) BeginRecovery() error {
	c.connectionLock.Lock()
	defer c.connectionLock.Unlock()

	if c.state == domain.StateShuttingDown || c.state == domain.StateShutdown {
		return &domain.ShuttingDownError{Server: c.descriptor.Name}
	}
	c.setState(domain.StateRecovering)
	return nil
}

// GetSession returns the live session, blocking until the first
// Initialize completes or ctx is cancelled. Returns ConnectionLostError if
// the connection has since failed or shut down.
func (c *Connection) GetSession(ctx context.Context) (*rpc.Session, error) {
	select {
	case <-c.initialized:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.connectionLock.Lock()
	defer c.connectionLock.Unlock()

	if c.state.IsTerminal() {
		return nil, domain.NewConnectionLostError(c.descriptor.Name, c.initErr)
	}
	return c.session, nil
}

// PerformHealthCheck issues a trivial RPC (listPrompts) through the circuit
// breaker, counting as a liveness probe per the Health Monitor's contract.
func (c *Connection) PerformHealthCheck(ctx context.Context) error {
	c.connectionLock.Lock()
	sess := c.session
	name := c.descriptor.Name
	c.connectionLock.Unlock()

	if sess == nil {
		return domain.NewConnectionLostError(name, nil)
	}

	return c.breaker.Execute(ctx, name, "listPrompts", func(ctx context.Context) error {
		_, err := sess.ListPrompts(ctx)
		return err
	})
}

// BreakerPhase exposes the breaker's admission phase for observability.
func (c *Connection) BreakerPhase() domain.BreakerPhase {
	return c.breaker.Phase()
}

// RequestShutdown begins an idempotent graceful teardown: it marks the
// connection shutting_down, disconnects the session and disposes the
// transport, then marks it shutdown and signals waiters.
func (c *Connection) RequestShutdown() {
	c.shutdownOnce.Do(func() {
		close(c.shutdownRequested)

		c.connectionLock.Lock()
		c.setState(domain.StateShuttingDown)
		sess := c.session
		t := c.transport
		c.connectionLock.Unlock()

		if sess != nil {
			sess.Disconnect()
		}
		if t != nil {
			_ = transport.Dispose(t)
		}

		c.connectionLock.Lock()
		c.setState(domain.StateShutdown)
		c.connectionLock.Unlock()

		c.emit(events.KindConnectionShutdown, nil)
		close(c.shutdownDone)
	})
}

// WaitForShutdown blocks until RequestShutdown has completed teardown, or
// ctx is cancelled.
func (c *Connection) WaitForShutdown(ctx context.Context) error {
	select {
	case <-c.shutdownDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) emit(kind events.Kind, detail map[string]any) {
	c.sink.Emit(events.Event{
		Kind:   kind,
		Server: c.descriptor.Name,
		At:     time.Now(),
		Detail: detail,
	})
}
