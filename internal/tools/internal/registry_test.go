package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdien/cipher/internal/domain"
)

func echoHandler(ctx context.Context, execCtx ExecutionContext, args map[string]any) (any, error) {
	return args, nil
}

func TestRegistry_NormalizesNameOnRegisterAndLookup(t *testing.T) {
	r := New("cipher_", time.Second, Services{}, nil)
	require.NoError(t, r.Register(Registration{Name: "ping", Handler: echoHandler}))

	desc, ok := r.Lookup("ping")
	require.True(t, ok)
	assert.Equal(t, "cipher_ping", desc.Name)

	desc, ok = r.Lookup("cipher_ping")
	require.True(t, ok)
	assert.Equal(t, "cipher_ping", desc.Name)
}

func TestRegistry_RejectsDuplicateSameCategoryAndVersion(t *testing.T) {
	r := New("cipher_", time.Second, Services{}, nil)
	reg := Registration{Name: "ping", Category: "core", Version: "1.0.0", Handler: echoHandler}
	require.NoError(t, r.Register(reg))

	err := r.Register(reg)
	require.Error(t, err)
	var notAllowed *domain.ToolNotAllowedError
	require.ErrorAs(t, err, &notAllowed)
}

func TestRegistry_AllowsSupersedingVersion(t *testing.T) {
	r := New("cipher_", time.Second, Services{}, nil)
	require.NoError(t, r.Register(Registration{Name: "ping", Category: "core", Version: "1.0.0", Handler: echoHandler}))
	require.NoError(t, r.Register(Registration{Name: "ping", Category: "core", Version: "1.1.0", Handler: echoHandler}))

	desc, ok := r.Lookup("ping")
	require.True(t, ok)
	assert.Equal(t, "1.1.0", desc.Version)
}

func TestRegistry_ExecuteRecordsStatsAndReturnsResult(t *testing.T) {
	r := New("cipher_", time.Second, Services{}, nil)
	require.NoError(t, r.Register(Registration{Name: "echo", Handler: echoHandler}))

	result, err := r.Execute(context.Background(), "echo", map[string]any{"x": 1}, "session-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1}, result)

	stats, ok := r.Stats("echo")
	require.True(t, ok)
	assert.EqualValues(t, 1, stats.TotalExecutions)
	assert.EqualValues(t, 1, stats.SuccessfulExecutions)
}

func TestRegistry_ExecuteTimesOutSlowHandler(t *testing.T) {
	r := New("cipher_", 10*time.Millisecond, Services{}, nil)
	require.NoError(t, r.Register(Registration{Name: "slow", Handler: func(ctx context.Context, execCtx ExecutionContext, args map[string]any) (any, error) {
		select {
		case <-time.After(time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}))

	_, err := r.Execute(context.Background(), "slow", nil, "", "")
	require.Error(t, err)

	stats, ok := r.Stats("slow")
	require.True(t, ok)
	assert.EqualValues(t, 1, stats.FailedExecutions)
}

func TestRegistry_ExecuteUnknownToolReturnsNotFound(t *testing.T) {
	r := New("cipher_", time.Second, Services{}, nil)
	_, err := r.Execute(context.Background(), "missing", nil, "", "")
	require.Error(t, err)
	var notFound *domain.ToolNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRegistry_ExecuteRejectsMissingRequiredParameter(t *testing.T) {
	r := New("cipher_", time.Second, Services{}, nil)
	require.NoError(t, r.Register(Registration{
		Name:    "lookup",
		Handler: echoHandler,
		ParametersSchema: map[string]any{
			"type":     "object",
			"required": []any{"query"},
		},
	}))

	_, err := r.Execute(context.Background(), "lookup", map[string]any{"limit": 5}, "", "")
	require.Error(t, err)
	var invalid *domain.ToolValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "$.query", invalid.Path)

	_, err = r.Execute(context.Background(), "lookup", map[string]any{"query": "x"}, "", "")
	require.NoError(t, err)
}
