package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdien/cipher/internal/domain"
	"github.com/xdien/cipher/internal/fleet"
	toolsinternal "github.com/xdien/cipher/internal/tools/internal"
	"github.com/xdien/cipher/internal/tools/unified"
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

func newTestServer(t *testing.T) (*Server, *fleet.Manager, func()) {
	t.Helper()
	fm := fleet.New(testFleetConfig(), nil)
	registry := toolsinternal.New("cipher_", time.Second, toolsinternal.Services{}, nil)
	um := unified.New(unified.ModeAggregator, unified.ConflictPrefixInternal, nil, registry, unified.Capabilities{}, nil)

	s := New(DefaultConfig(), fm, um, nil)
	return s, fm, func() {
		_ = fm.Shutdown(context.Background())
		if s.limiter != nil {
			s.limiter.stop()
		}
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleAddServer_ValidationErrorReturnsBadRequestNoRecord(t *testing.T) {
	s, fm, _ := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/servers", map[string]any{
		"name": "x", "type": "stdio",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, CodeServerError, env.Code)
	assert.Empty(t, fm.Servers())
}

func TestHandleAddServer_StartsListsConflictsAndRemoves(t *testing.T) {
	s, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := doJSON(t, s.Handler(), http.MethodPost, "/servers", map[string]any{
		"name": "echo", "type": "stdio", "command": "/bin/cat",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var added addServerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	assert.Equal(t, "echo", added.ServerName)
	assert.True(t, added.Connected)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/servers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list listServersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.TotalServers)

	rec = doJSON(t, s.Handler(), http.MethodPost, "/servers", map[string]any{
		"name": "echo", "type": "stdio", "command": "/bin/cat",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodDelete, "/servers/echo", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var removed removeServerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &removed))
	assert.True(t, removed.Disconnected)
}

func TestHandleRemoveServer_UnknownNameReturnsNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodDelete, "/servers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListAllTools_ReturnsCatalog(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []unified.CatalogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	_ = domain.ToolDescriptor{}
}
