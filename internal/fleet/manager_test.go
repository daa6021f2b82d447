package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdien/cipher/internal/domain"
	"github.com/xdien/cipher/internal/events"
	"github.com/xdien/cipher/internal/health"
)

func catDescriptor(name string) *domain.ServerDescriptor {
	return &domain.ServerDescriptor{
		Name:           name,
		Kind:           domain.KindStdio,
		Command:        "/bin/cat",
		TimeoutMs:      1000,
		ConnectionMode: domain.ConnectionModeStrict,
		Enabled:        true,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	cfg.Health = health.Config{Enabled: false}
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestManager_StartGetStopConnection(t *testing.T) {
	m := New(testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := m.StartConnection(ctx, catDescriptor("alpha"))
	require.NoError(t, err)
	assert.NotNil(t, conn)

	got, ok := m.GetConnection("alpha")
	require.True(t, ok)
	assert.Same(t, conn, got)

	servers := m.Servers()
	require.Len(t, servers, 1)
	assert.Equal(t, domain.StateRunning, servers[0].State)

	require.NoError(t, m.StopConnection(ctx, "alpha"))
	_, ok = m.GetConnection("alpha")
	assert.False(t, ok)
}

func TestManager_StartConnectionReusesExisting(t *testing.T) {
	m := New(testConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := m.StartConnection(ctx, catDescriptor("beta"))
	require.NoError(t, err)

	second, err := m.StartConnection(ctx, catDescriptor("beta"))
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestManager_ShutdownIsIdempotentAndTearsDownAll(t *testing.T) {
	m := New(testConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := m.StartConnection(ctx, catDescriptor("gamma"))
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(ctx))
	require.NoError(t, m.Shutdown(ctx))

	assert.Empty(t, m.Servers())

	_, err = m.StartConnection(ctx, catDescriptor("delta"))
	require.Error(t, err)
}

func TestManager_RefusesOverCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentConnections = 1
	m := New(cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := m.StartConnection(ctx, catDescriptor("one"))
	require.NoError(t, err)

	_, err = m.StartConnection(ctx, catDescriptor("two"))
	require.Error(t, err)
}

func unreachableDescriptor(name string, mode domain.ConnectionMode) *domain.ServerDescriptor {
	d := catDescriptor(name)
	d.Command = "/no/such/binary-for-cipher-tests"
	d.ConnectionMode = mode
	return d
}

func TestManager_HandleInitError_StrictFailsImmediatelyWithoutRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRecoveryAttempts = 3
	cfg.RecoveryDelay = time.Millisecond
	sink := events.NewChannelSink(16)
	m := New(cfg, sink)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := m.StartConnection(ctx, unreachableDescriptor("strict-one", domain.ConnectionModeStrict))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, rec := range m.Servers() {
			if rec.Descriptor.Name == "strict-one" {
				return rec.State == domain.StateFailed
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// give a wrongly-recovering implementation a chance to emit before asserting its absence
	time.Sleep(50 * time.Millisecond)
	for {
		select {
		case ev := <-sink.Events():
			assert.NotEqual(t, events.KindRecoveryStarted, ev.Kind, "strict mode must not schedule recovery")
		default:
			return
		}
	}
}

func TestManager_HandleInitError_LenientSchedulesRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRecoveryAttempts = 2
	cfg.RecoveryDelay = time.Millisecond
	sink := events.NewChannelSink(16)
	m := New(cfg, sink)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := m.StartConnection(ctx, unreachableDescriptor("lenient-one", domain.ConnectionModeLenient))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case ev := <-sink.Events():
			return ev.Kind == events.KindRecoveryStarted
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
