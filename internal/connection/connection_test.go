package connection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdien/cipher/internal/domain"
	"github.com/xdien/cipher/internal/events"
	"github.com/xdien/cipher/internal/rpc"
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

func fastRetryConfig() domain.RetryConfig {
	return domain.RetryConfig{
		Kind:        domain.BackoffFixed,
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}
}

func TestConnection_InitializeRunsAndShutsDown(t *testing.T) {
	c := New(catDescriptor("alpha"), domain.DefaultCircuitBreakerConfig(), fastRetryConfig(), rpc.ClientInfo{Name: "cipher", Version: "test"}, events.NoopSink{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, c.Initialize(ctx))
	assert.Equal(t, domain.StateRunning, c.State())

	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.NotNil(t, sess)

	c.RequestShutdown()
	require.NoError(t, c.WaitForShutdown(ctx))
	assert.Equal(t, domain.StateShutdown, c.State())

	// idempotent
	c.RequestShutdown()
}

func TestConnection_InitializeFailsOnInvalidDescriptor(t *testing.T) {
	bad := &domain.ServerDescriptor{
		Name:           "broken",
		Kind:           domain.KindStdio,
		TimeoutMs:      1000,
		ConnectionMode: domain.ConnectionModeStrict,
	}
	sink := events.NewChannelSink(4)
	c := New(bad, domain.DefaultCircuitBreakerConfig(), fastRetryConfig(), rpc.ClientInfo{Name: "cipher", Version: "test"}, sink)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := c.Initialize(ctx)
	require.Error(t, err)
	assert.Equal(t, domain.StateFailed, c.State())

	select {
	case ev := <-sink.Events():
		assert.Equal(t, events.KindConnectionFailed, ev.Kind)
	default:
		t.Fatal("expected a connection_failed event")
	}
}

func TestConnection_InitializeOnImmediatelyExitingCommandYieldsTransportUnavailable(t *testing.T) {
	descriptor := &domain.ServerDescriptor{
		Name:           "gone",
		Kind:           domain.KindStdio,
		Command:        "/bin/sh",
		Args:           []string{"-c", "exit 0"},
		TimeoutMs:      1000,
		ConnectionMode: domain.ConnectionModeStrict,
		Enabled:        true,
	}
	c := New(descriptor, domain.DefaultCircuitBreakerConfig(), fastRetryConfig(), rpc.ClientInfo{Name: "cipher", Version: "test"}, events.NoopSink{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Initialize(ctx)
	require.Error(t, err)
	var unavailable *domain.TransportUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, domain.StateFailed, c.State())
}

func TestConnection_GetSessionBlocksUntilInitialized(t *testing.T) {
	c := New(catDescriptor("beta"), domain.DefaultCircuitBreakerConfig(), fastRetryConfig(), rpc.ClientInfo{Name: "cipher", Version: "test"}, events.NoopSink{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.GetSession(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
