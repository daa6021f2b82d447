package unified

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/xdien/cipher/internal/domain"
	toolsinternal "github.com/xdien/cipher/internal/tools/internal"
)

func echo(ctx context.Context, execCtx toolsinternal.ExecutionContext, args map[string]any) (any, error) {
	return args, nil
}

type fakeServer struct {
	tools []domain.ToolDescriptor
	calls int
}

func (f *fakeServer) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	return f.tools, nil
}

func (f *fakeServer) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	f.calls++
	return map[string]any{"ok": true}, nil
}

type fakeSource struct {
	servers map[string]*fakeServer
}

func (f *fakeSource) RunningServers() []string {
	var out []string
	for name := range f.servers {
		out = append(out, name)
	}
	return out
}

func (f *fakeSource) Server(name string) (ExternalServer, bool) {
	s, ok := f.servers[name]
	return s, ok
}

func newInternalRegistry(t *testing.T) *toolsinternal.Registry {
	t.Helper()
	r := toolsinternal.New("cipher_", time.Second, toolsinternal.Services{}, nil)
	require.NoError(t, r.Register(toolsinternal.Registration{
		Name: "ping", Category: "core", Handler: echo, AgentAccessible: true,
	}))
	return r
}

func TestManager_DefaultModeReturnsSyntheticTool(t *testing.T) {
	m := New(ModeDefault, ConflictPrefixInternal, nil, newInternalRegistry(t), Capabilities{}, nil)
	entries, err := m.GetAllTools(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, askCipherName, entries[0].Descriptor.Name)
}

func TestManager_AggregatorModeMergesInternalAndExternal(t *testing.T) {
	src := &fakeSource{servers: map[string]*fakeServer{
		"weather": {tools: []domain.ToolDescriptor{{Name: "get_forecast", Category: "weather"}}},
	}}
	m := New(ModeAggregator, ConflictPrefixInternal, src, newInternalRegistry(t), Capabilities{}, nil)

	entries, err := m.GetAllTools(context.Background())
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Descriptor.Name] = true
	}
	assert.True(t, names["cipher_ping"])
	assert.True(t, names["weather/get_forecast"])
}

func TestManager_ExternalToolsFromDifferentServersDontCollide(t *testing.T) {
	src := &fakeSource{servers: map[string]*fakeServer{
		"alpha": {tools: []domain.ToolDescriptor{{Name: "ping"}}},
		"beta":  {tools: []domain.ToolDescriptor{{Name: "ping"}}},
	}}
	m := New(ModeAggregator, ConflictPrefixInternal, src, nil, Capabilities{}, nil)

	entries, err := m.GetAllTools(context.Background())
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Descriptor.Name] = true
	}
	require.Len(t, entries, 2)
	assert.True(t, names["alpha/ping"])
	assert.True(t, names["beta/ping"])

	_, err = m.ExecuteTool(context.Background(), "alpha/ping", nil, "sess")
	require.NoError(t, err)
	assert.Equal(t, 1, src.servers["alpha"].calls)
	assert.Equal(t, 0, src.servers["beta"].calls)

	_, err = m.ExecuteTool(context.Background(), "beta/ping", nil, "sess")
	require.NoError(t, err)
	assert.Equal(t, 1, src.servers["beta"].calls)
}

func TestManager_EmbeddingFilterHidesEmbeddingTools(t *testing.T) {
	src := &fakeSource{servers: map[string]*fakeServer{
		"vec": {tools: []domain.ToolDescriptor{{Name: "embed_text", Category: "embeddings"}}},
	}}
	m := New(ModeAggregator, ConflictPrefixInternal, src, newInternalRegistry(t), Capabilities{EmbeddingsEnabled: false}, nil)

	entries, err := m.GetAllTools(context.Background())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "vec/embed_text", e.Descriptor.Name)
	}
}

func TestManager_ExecuteToolRoutesInternalAndExternal(t *testing.T) {
	src := &fakeSource{servers: map[string]*fakeServer{
		"weather": {tools: []domain.ToolDescriptor{{Name: "get_forecast", Category: "weather"}}},
	}}
	m := New(ModeAggregator, ConflictPrefixInternal, src, newInternalRegistry(t), Capabilities{}, nil)
	_, err := m.GetAllTools(context.Background())
	require.NoError(t, err)

	result, err := m.ExecuteTool(context.Background(), "cipher_ping", map[string]any{"a": 1}, "sess")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, result)

	result, err = m.ExecuteTool(context.Background(), "weather/get_forecast", nil, "sess")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)
	assert.Equal(t, 1, src.servers["weather"].calls)
}

func TestManager_ExecuteToolRejectsEmbeddingsWhenDisabled(t *testing.T) {
	src := &fakeSource{servers: map[string]*fakeServer{
		"vec": {tools: []domain.ToolDescriptor{{Name: "embed_text", Category: "embeddings"}}},
	}}
	// Enable embeddings just long enough to index the tool, then disable to
	// exercise the dispatch-time rejection path independent of the catalog filter.
	m := New(ModeAggregator, ConflictPrefixInternal, src, newInternalRegistry(t), Capabilities{EmbeddingsEnabled: true}, nil)
	_, err := m.GetAllTools(context.Background())
	require.NoError(t, err)
	m.caps.EmbeddingsEnabled = false

	_, err = m.ExecuteTool(context.Background(), "vec/embed_text", nil, "sess")
	require.Error(t, err)
	var disabled *domain.EmbeddingsDisabledError
	require.ErrorAs(t, err, &disabled)
}

func TestManager_CLIModeFiltersInternalToolsByGlob(t *testing.T) {
	r := toolsinternal.New("cipher_", time.Second, toolsinternal.Services{}, nil)
	require.NoError(t, r.Register(toolsinternal.Registration{Name: "memory_lookup", Category: "core", Handler: echo}))
	require.NoError(t, r.Register(toolsinternal.Registration{Name: "file_write", Category: "core", Handler: echo}))

	m := New(ModeCLI, ConflictPrefixInternal, nil, r, Capabilities{}, nil)
	entries, err := m.GetAllTools(context.Background())
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Descriptor.Name] = true
	}
	assert.True(t, names["cipher_memory_lookup"])
	assert.False(t, names["cipher_file_write"])
}

func TestManager_CLIModeHonoursCustomGlobs(t *testing.T) {
	r := toolsinternal.New("cipher_", time.Second, toolsinternal.Services{}, nil)
	require.NoError(t, r.Register(toolsinternal.Registration{Name: "file_write", Category: "core", Handler: echo}))

	m := New(ModeCLI, ConflictPrefixInternal, nil, r, Capabilities{CLIToolGlobs: []string{"*write*"}}, nil)
	entries, err := m.GetAllTools(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cipher_file_write", entries[0].Descriptor.Name)
}

func TestManager_GetToolsForProviderTranslatesOpenAISchema(t *testing.T) {
	m := New(ModeAggregator, ConflictPrefixInternal, nil, newInternalRegistry(t), Capabilities{}, nil)
	raw, err := m.GetToolsForProvider(context.Background(), ProviderOpenAI)
	require.NoError(t, err)

	result := gjson.ParseBytes(raw)
	require.True(t, result.IsArray())
	first := result.Array()[0]
	assert.Equal(t, "function", first.Get("type").String())
	assert.Equal(t, "cipher_ping", first.Get("function.name").String())
}
