package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdien/cipher/internal/domain"
	"github.com/xdien/cipher/internal/fleet"
)

func testFleetConfig() fleet.Config {
	cfg := fleet.DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	cfg.Health.Enabled = false
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestFleetSource_RunningServersOnlyListsRunningConnections(t *testing.T) {
	fm := fleet.New(testFleetConfig(), nil)
	defer func() { _ = fm.Shutdown(context.Background()) }()

	descriptor := &domain.ServerDescriptor{
		Name: "echo", Kind: domain.KindStdio, Command: "/bin/cat",
		TimeoutMs: 5000, ConnectionMode: domain.ConnectionModeLenient, Enabled: true,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := fm.StartConnection(ctx, descriptor)
	require.NoError(t, err)

	src := &fleetSource{fleet: fm}
	names := src.RunningServers()
	assert.Contains(t, names, "echo")

	srv, ok := src.Server("echo")
	require.True(t, ok)
	assert.NotNil(t, srv)

	_, ok = src.Server("ghost")
	assert.False(t, ok)
}
