package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdien/cipher/internal/domain"
)

func TestNew_StdioRoundTrip(t *testing.T) {
	descriptor := &domain.ServerDescriptor{
		Name:           "echo",
		Kind:           domain.KindStdio,
		Command:        "/bin/cat",
		TimeoutMs:      1000,
		ConnectionMode: domain.ConnectionModeStrict,
		Enabled:        true,
	}

	tr, err := New(context.Background(), descriptor, 1, "")
	require.NoError(t, err)
	defer func() { _ = Dispose(tr) }()

	require.NoError(t, tr.Send(context.Background(), []byte(`{"id":1}`)))

	scanner := tr.Frames()
	require.True(t, scanner.Scan())
	assert.Equal(t, `{"id":1}`, scanner.Text())
}

func TestNew_RejectsInvalidDescriptor(t *testing.T) {
	descriptor := &domain.ServerDescriptor{
		Name:           "bad",
		Kind:           domain.KindStdio,
		TimeoutMs:      1000,
		ConnectionMode: domain.ConnectionModeStrict,
	}

	_, err := New(context.Background(), descriptor, 1, "")
	require.Error(t, err)
	var cfgErr *domain.ConfigInvalidError
	require.ErrorAs(t, err, &cfgErr)
}

func TestDispose_IsIdempotent(t *testing.T) {
	descriptor := &domain.ServerDescriptor{
		Name:           "echo",
		Kind:           domain.KindStdio,
		Command:        "/bin/cat",
		TimeoutMs:      1000,
		ConnectionMode: domain.ConnectionModeStrict,
	}

	tr, err := New(context.Background(), descriptor, 1, "")
	require.NoError(t, err)

	require.NoError(t, Dispose(tr))
	require.NoError(t, Dispose(tr))
}
