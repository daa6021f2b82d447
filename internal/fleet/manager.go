// Package fleet implements the Lifecycle Manager: the fleet supervisor that
// owns every Connection Record, enforces max concurrency, and coordinates
// recovery and shutdown across the whole fleet.
package fleet

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xdien/cipher/internal/connection"
	"github.com/xdien/cipher/internal/domain"
	"github.com/xdien/cipher/internal/events"
	"github.com/xdien/cipher/internal/health"
	"github.com/xdien/cipher/internal/rpc"
	"github.com/xdien/cipher/internal/util"
)

// Config bounds the fleet's overall behaviour.
type Config struct {
	MaxConcurrentConnections int
	ShutdownTimeout           time.Duration
	MaxRecoveryAttempts       int
	RecoveryDelay             time.Duration
	RecoveryBackoffMultiplier float64
	CircuitBreaker            domain.CircuitBreakerConfig
	Retry                     domain.RetryConfig
	Health                    health.Config
	ClientInfo                rpc.ClientInfo
}

// DefaultConfig supplies a conservative fleet-wide policy.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentConnections: 32,
		ShutdownTimeout:           30 * time.Second,
		MaxRecoveryAttempts:       5,
		RecoveryDelay:             time.Second,
		RecoveryBackoffMultiplier: 2,
		CircuitBreaker:            domain.DefaultCircuitBreakerConfig(),
		Retry:                     domain.DefaultRetryConfig(),
		Health:     health.DefaultConfig(),
		ClientInfo: rpc.ClientInfo{Name: "cipher", Version: "dev"},
	}
}

// record is the Lifecycle Manager's private bookkeeping for one server
// name: the public ConnectionRecord plus the live handles needed to drive
// it (the connection and its monitor, the cancel func for its background
// task group).
type record struct {
	public *domain.ConnectionRecord
	conn   *connection.Connection
	mon    *health.Monitor
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Manager is the fleet supervisor. One instance per process; never a
// package-level global, so tests can construct isolated instances.
type Manager struct {
	cfg  Config
	sink events.Sink

	connections *xsync.Map[string, *record]
	// sem gates concurrent connection startup at cfg.MaxConcurrentConnections;
	// nil when the fleet is configured with no cap.
	sem *semaphore.Weighted

	connectionLock sync.Mutex
	shuttingDown   atomic.Bool

	wg sync.WaitGroup
}

// New constructs an idle Manager. Nothing is started until StartConnection
// is called for each server.
func New(cfg Config, sink events.Sink) *Manager {
	if sink == nil {
		sink = events.NoopSink{}
	}
	m := &Manager{
		cfg:         cfg,
		sink:        sink,
		connections: xsync.NewMap[string, *record](),
	}
	if cfg.MaxConcurrentConnections > 0 {
		m.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentConnections))
	}
	return m
}

// StartConnection registers and initializes a connection for descriptor,
// per the fleet supervisor's startConnection algorithm: refuse if shutting
// down, reuse a non-failed existing record, refuse over capacity, then
// launch the lifecycle and health-monitor tasks.
func (m *Manager) StartConnection(ctx context.Context, descriptor *domain.ServerDescriptor) (*connection.Connection, error) {
	m.connectionLock.Lock()

	if m.shuttingDown.Load() {
		m.connectionLock.Unlock()
		return nil, &domain.ShuttingDownError{}
	}

	if existing, ok := m.connections.Load(descriptor.Name); ok {
		existing.mu.Lock()
		state := existing.public.State
		existing.mu.Unlock()
		if state != domain.StateFailed {
			m.connectionLock.Unlock()
			return existing.conn, nil
		}
		m.connections.Delete(descriptor.Name)
		if m.sem != nil {
			m.sem.Release(1)
		}
	}

	if m.sem != nil && !m.sem.TryAcquire(1) {
		m.connectionLock.Unlock()
		return nil, &domain.ConfigInvalidError{Server: descriptor.Name, Reason: "max concurrent connections reached"}
	}

	conn := connection.New(descriptor, m.cfg.CircuitBreaker, m.cfg.Retry, m.cfg.ClientInfo, m.sink)
	mon := health.New(descriptor.Name, conn, m.cfg.Health, m.sink)

	taskCtx, cancel := context.WithCancel(ctx)
	rec := &record{
		public: &domain.ConnectionRecord{
			Descriptor:      descriptor,
			State:           domain.StateInitializing,
			StartTime:       time.Now(),
			LastStateChange: time.Now(),
		},
		conn:   conn,
		mon:    mon,
		cancel: cancel,
	}
	m.connections.Store(descriptor.Name, rec)
	m.connectionLock.Unlock()

	m.wg.Add(1)
	go m.runLifecycleTask(taskCtx, descriptor.Name, rec)

	select {
	case <-connInitialized(conn):
		rec.mu.Lock()
		if rec.public.State != domain.StateFailed {
			rec.public.RecordChange(domain.StateRunning)
		}
		rec.mu.Unlock()
	case <-ctx.Done():
		return conn, ctx.Err()
	}

	return conn, nil
}

// connInitialized adapts Connection.GetSession's blocking wait into a
// plain channel usable in a select, without caring about the session value.
func connInitialized(conn *connection.Connection) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		_, _ = conn.GetSession(context.Background())
		close(done)
	}()
	return done
}

// runLifecycleTask is the bounded per-connection task group: initialize,
// then wait for shutdown; on initialization failure, schedule recovery.
func (m *Manager) runLifecycleTask(ctx context.Context, name string, rec *record) {
	defer m.wg.Done()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.lifecycle(gCtx, ctx, name, rec)
	})
	g.Go(func() error {
		rec.mon.Start(gCtx)
		rec.mon.Wait()
		return nil
	})
	_ = g.Wait()
}

// lifecycle runs the lifecycle task: initialize then wait for shutdown.
// recoveryCtx (the task group's un-cancelled parent) is what recovery
// attempts run under, so one failed attempt racing the errgroup's
// first-error cancellation doesn't also cancel the recovery it triggers.
func (m *Manager) lifecycle(taskCtx, recoveryCtx context.Context, name string, rec *record) error {
	if err := rec.conn.Initialize(taskCtx); err != nil {
		m.handleInitError(recoveryCtx, name, rec, err)
		return err
	}
	return rec.conn.WaitForShutdown(taskCtx)
}

func (m *Manager) handleInitError(ctx context.Context, name string, rec *record, err error) {
	rec.mu.Lock()
	rec.public.RecordFailure(err)
	mode := rec.public.Descriptor.ConnectionMode
	rec.mu.Unlock()

	// strict fails the connection immediately regardless of the fleet's
	// recovery budget; lenient is subject to MaxRecoveryAttempts as before.
	if mode == domain.ConnectionModeStrict || m.cfg.MaxRecoveryAttempts <= 0 {
		rec.mu.Lock()
		rec.public.RecordChange(domain.StateFailed)
		rec.mu.Unlock()
		m.emit(events.KindConnectionFailed, name, map[string]any{"error": err.Error()})
		return
	}

	go m.recover(ctx, name, rec)
}

// recover runs the bounded-attempt recovery algorithm: reinitialize with
// exponential backoff, reporting recovery_started/connection_recovered on
// success or recovery_failed on exhaustion.
func (m *Manager) recover(ctx context.Context, name string, rec *record) {
	m.emit(events.KindRecoveryStarted, name, nil)

	delay := m.cfg.RecoveryDelay
	multiplier := m.cfg.RecoveryBackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	for attempt := 1; attempt <= m.cfg.MaxRecoveryAttempts; attempt++ {
		if err := rec.conn.BeginRecovery(); err != nil {
			return
		}

		if delay > util.DefaultMaxBackoffSeconds {
			delay = util.DefaultMaxBackoffSeconds
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := rec.conn.Initialize(ctx); err == nil {
			rec.mu.Lock()
			rec.public.RecordChange(domain.StateRunning)
			rec.public.ErrorCount = 0
			rec.public.LastError = nil
			rec.mu.Unlock()
			m.emit(events.KindConnectionRecovered, name, map[string]any{"attempt": attempt})
			return
		} else {
			rec.mu.Lock()
			rec.public.RecordFailure(err)
			rec.mu.Unlock()
		}

		delay = time.Duration(float64(delay) * multiplier)
	}

	rec.mu.Lock()
	rec.public.RecordChange(domain.StateFailed)
	rec.mu.Unlock()
	m.emit(events.KindRecoveryFailed, name, map[string]any{"attempts": m.cfg.MaxRecoveryAttempts})
}

// GetConnection returns the connection for name only if it is running and
// healthy.
func (m *Manager) GetConnection(name string) (*connection.Connection, bool) {
	rec, ok := m.connections.Load(name)
	if !ok {
		return nil, false
	}

	rec.mu.Lock()
	state := rec.public.State
	rec.mu.Unlock()

	if state != domain.StateRunning {
		return nil, false
	}
	if rec.conn.BreakerPhase() == domain.BreakerOpen {
		return nil, false
	}
	return rec.conn, true
}

// Servers returns a snapshot of every Connection Record currently tracked.
func (m *Manager) Servers() []domain.ConnectionRecord {
	var out []domain.ConnectionRecord
	m.connections.Range(func(name string, rec *record) bool {
		rec.mu.Lock()
		out = append(out, *rec.public)
		rec.mu.Unlock()
		return true
	})
	return out
}

// StopConnection transitions name to shutting_down, requests its teardown,
// awaits completion, then removes its record.
func (m *Manager) StopConnection(ctx context.Context, name string) error {
	rec, ok := m.connections.Load(name)
	if !ok {
		return &domain.ToolNotFoundError{Name: name}
	}

	rec.mu.Lock()
	rec.public.RecordChange(domain.StateShuttingDown)
	rec.mu.Unlock()

	rec.conn.RequestShutdown()
	if err := rec.conn.WaitForShutdown(ctx); err != nil {
		return err
	}
	rec.cancel()

	rec.mu.Lock()
	rec.public.RecordChange(domain.StateShutdown)
	rec.mu.Unlock()

	m.connections.Delete(name)
	if m.sem != nil {
		m.sem.Release(1)
	}
	m.emit(events.KindConnectionShutdown, name, nil)
	return nil
}

// Shutdown idempotently tears down the whole fleet: every connection is
// asked to shut down concurrently, bounded by cfg.ShutdownTimeout.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	shutdownCtx := ctx
	var cancel context.CancelFunc
	if m.cfg.ShutdownTimeout > 0 {
		shutdownCtx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}

	var names []string
	m.connections.Range(func(name string, _ *record) bool {
		names = append(names, name)
		return true
	})

	var wg sync.WaitGroup
	for _, name := range names {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.StopConnection(shutdownCtx, name)
		}()
	}
	wg.Wait()

	m.wg.Wait()
	m.emit(events.KindShutdownComplete, "", nil)
	return nil
}

func (m *Manager) emit(kind events.Kind, server string, detail map[string]any) {
	m.sink.Emit(events.Event{Kind: kind, Server: server, At: time.Now(), Detail: detail})
}
