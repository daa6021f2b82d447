// Package unified implements the Unified Tool Manager: the single public
// dispatch surface over the Internal Tool Registry and the Lifecycle
// Manager's fleet-backed (external) tools.
package unified

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/xdien/cipher/internal/domain"
	"github.com/xdien/cipher/internal/events"
	toolsinternal "github.com/xdien/cipher/internal/tools/internal"
	"github.com/xdien/cipher/internal/util/pattern"
)

// Mode selects which tools the catalog exposes.
type Mode string

const (
	ModeDefault    Mode = "default"
	ModeCLI        Mode = "cli"
	ModeAggregator Mode = "aggregator"
	ModeAPI        Mode = "api"
)

// ConflictResolution decides what happens when an internal and an external
// tool share a catalog name.
type ConflictResolution string

const (
	ConflictPrefixInternal ConflictResolution = "prefix-internal"
	ConflictPreferInternal ConflictResolution = "prefer-internal"
	ConflictPreferMCP      ConflictResolution = "prefer-mcp"
	ConflictError          ConflictResolution = "error"
)

// Capabilities latches globally-disableable subsystems. Tools categorised
// "embeddings" are hidden from the catalog and rejected at dispatch while
// the capability is off.
type Capabilities struct {
	EmbeddingsEnabled bool

	// CLIToolGlobs restricts which internal tools ModeCLI exposes, matched
	// with pattern.MatchesGlob against the tool name. Defaults to
	// "*search*"/"*memory*" when empty.
	CLIToolGlobs []string
}

// ExternalServer is one fleet-backed tool source.
type ExternalServer interface {
	ListTools(ctx context.Context) ([]domain.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// ExternalSource enumerates the fleet's currently running servers. The
// Lifecycle Manager satisfies this by wrapping GetConnection/Servers.
type ExternalSource interface {
	RunningServers() []string
	Server(name string) (ExternalServer, bool)
}

const askCipherName = "ask_cipher"

// CatalogEntry is one tool as it appears in a built catalog, annotated with
// the server it came from (empty for internal tools and the synthetic
// default-mode tool). External entries carry a composite
// "serverID/toolName" in Descriptor.Name, so two running servers that each
// expose a same-named tool occupy distinct catalog slots instead of
// colliding.
type CatalogEntry struct {
	Descriptor domain.ToolDescriptor
	ServerID   string
}

// externalToolName composes the catalog name for a tool discovered on
// server serverID.
func externalToolName(serverID, toolName string) string {
	return serverID + "/" + toolName
}

// Manager is the Unified Tool Manager.
type Manager struct {
	mode     Mode
	conflict ConflictResolution
	external ExternalSource
	internal *toolsinternal.Registry
	caps     Capabilities
	sink     events.Sink

	mu          sync.RWMutex
	serverIndex map[string]string
	catIndex    map[string]string
}

// New constructs a Manager. external or internalRegistry may be nil to
// disable that half of the catalog.
func New(mode Mode, conflict ConflictResolution, external ExternalSource, internalRegistry *toolsinternal.Registry, caps Capabilities, sink events.Sink) *Manager {
	if sink == nil {
		sink = events.NoopSink{}
	}
	if conflict == "" {
		conflict = ConflictPrefixInternal
	}
	return &Manager{
		mode:        mode,
		conflict:    conflict,
		external:    external,
		internal:    internalRegistry,
		caps:        caps,
		sink:        sink,
		serverIndex: make(map[string]string),
		catIndex:    make(map[string]string),
	}
}

// GetAllTools builds the mode-filtered, conflict-resolved catalog, per the
// fleet's tool-dispatch design: default mode short-circuits to the single
// synthetic tool; every other mode merges internal and external tools
// through the embedding-dependency and conflict-resolution filters.
func (m *Manager) GetAllTools(ctx context.Context) ([]CatalogEntry, error) {
	if m.mode == ModeDefault {
		return []CatalogEntry{{Descriptor: domain.ToolDescriptor{
			Name:            askCipherName,
			Description:     "Query-only passthrough into the fleet's tool catalog.",
			Source:          domain.ToolSourceInternal,
			AgentAccessible: true,
		}}}, nil
	}

	external := m.collectExternal(ctx)
	internalEntries := m.collectInternal()

	external = m.applyModeFilter(external, false)
	internalEntries = m.applyModeFilter(internalEntries, true)

	external = m.applyEmbeddingFilter(external)
	internalEntries = m.applyEmbeddingFilter(internalEntries)

	merged, err := m.resolveConflicts(external, internalEntries)
	if err != nil {
		return nil, err
	}

	m.reindex(merged)
	return merged, nil
}

func (m *Manager) collectExternal(ctx context.Context) []CatalogEntry {
	if m.external == nil {
		return nil
	}
	var out []CatalogEntry
	for _, name := range m.external.RunningServers() {
		srv, ok := m.external.Server(name)
		if !ok {
			continue
		}
		tools, err := srv.ListTools(ctx)
		if err != nil {
			// A single unreachable server is skipped, without a warning,
			// rather than failing catalog construction for the whole fleet.
			continue
		}
		for _, t := range tools {
			t.Name = externalToolName(name, t.Name)
			out = append(out, CatalogEntry{Descriptor: t, ServerID: name})
		}
	}
	return out
}

func (m *Manager) collectInternal() []CatalogEntry {
	if m.internal == nil {
		return nil
	}
	var out []CatalogEntry
	for _, t := range m.internal.List() {
		out = append(out, CatalogEntry{Descriptor: t})
	}
	return out
}

func (m *Manager) applyModeFilter(entries []CatalogEntry, isInternal bool) []CatalogEntry {
	switch m.mode {
	case ModeAggregator:
		return entries
	case ModeAPI:
		var out []CatalogEntry
		for _, e := range entries {
			if e.Descriptor.AgentAccessible {
				out = append(out, e)
			}
		}
		return out
	case ModeCLI:
		if !isInternal {
			return entries
		}
		globs := m.caps.CLIToolGlobs
		if len(globs) == 0 {
			globs = defaultCLIToolGlobs
		}
		var out []CatalogEntry
		for _, e := range entries {
			if matchesAnyGlob(e.Descriptor.Name, globs) {
				out = append(out, e)
			}
		}
		return out
	default:
		return entries
	}
}

var defaultCLIToolGlobs = []string{"*search*", "*memory*"}

func matchesAnyGlob(name string, globs []string) bool {
	for _, g := range globs {
		if pattern.MatchesGlob(name, g) {
			return true
		}
	}
	return false
}

func (m *Manager) applyEmbeddingFilter(entries []CatalogEntry) []CatalogEntry {
	if m.caps.EmbeddingsEnabled {
		return entries
	}
	var out []CatalogEntry
	for _, e := range entries {
		if strings.EqualFold(e.Descriptor.Category, "embeddings") {
			continue
		}
		out = append(out, e)
	}
	return out
}

// resolveConflicts merges internal and external entries, applying the
// configured policy to any shared name. Internal entries are added first
// so prefer-internal/prefix-internal can find them already present.
func (m *Manager) resolveConflicts(external, internalEntries []CatalogEntry) ([]CatalogEntry, error) {
	index := make(map[string]int, len(internalEntries))
	out := make([]CatalogEntry, 0, len(internalEntries)+len(external))
	for _, e := range internalEntries {
		index[e.Descriptor.Name] = len(out)
		out = append(out, e)
	}

	for _, e := range external {
		pos, collides := index[e.Descriptor.Name]
		if !collides {
			index[e.Descriptor.Name] = len(out)
			out = append(out, e)
			continue
		}

		switch m.conflict {
		case ConflictPreferInternal:
			continue
		case ConflictPreferMCP:
			out[pos] = e
		case ConflictError:
			return nil, fmt.Errorf("tool name collision on %q: internal tool vs server %q", e.Descriptor.Name, e.ServerID)
		case ConflictPrefixInternal:
			fallthrough
		default:
			// Internal names already carry their prefix, so a genuine
			// collision here is unexpected; keep both rather than drop one.
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Manager) reindex(entries []CatalogEntry) {
	serverIndex := make(map[string]string, len(entries))
	catIndex := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.ServerID != "" {
			serverIndex[e.Descriptor.Name] = e.ServerID
		}
		catIndex[e.Descriptor.Name] = e.Descriptor.Category
	}
	m.mu.Lock()
	m.serverIndex = serverIndex
	m.catIndex = catIndex
	m.mu.Unlock()
}

// ExecuteTool dispatches name to its owning manager: the Internal Tool
// Registry for cipher_-prefixed names and for any name the last built
// catalog does not list as external, otherwise the external server that
// catalog names for it. A fresh execution id is emitted with every
// start/complete/fail milestone.
func (m *Manager) ExecuteTool(ctx context.Context, name string, args map[string]any, sessionID string) (any, error) {
	execID := uuid.NewString()
	m.emit(events.KindToolExecutionStarted, name, execID, nil)

	m.mu.RLock()
	category := m.catIndex[name]
	serverID, isExternal := m.serverIndex[name]
	m.mu.RUnlock()

	if !m.caps.EmbeddingsEnabled && strings.EqualFold(category, "embeddings") {
		err := &domain.EmbeddingsDisabledError{Operation: name}
		m.emit(events.KindToolExecutionFailed, name, execID, err)
		return nil, err
	}

	prefix := toolsinternal.DefaultPrefix
	if m.internal != nil {
		prefix = m.internal.Prefix()
	}

	var (
		result any
		err    error
	)
	switch {
	case !isExternal || strings.HasPrefix(name, prefix):
		if m.internal == nil {
			err = &domain.ToolNotFoundError{Name: name}
			break
		}
		result, err = m.internal.Execute(ctx, name, args, sessionID, "")
	default:
		srv, ok := m.external.Server(serverID)
		if !ok {
			err = &domain.ToolNotFoundError{Name: name}
			break
		}
		// The catalog name carries the "serverID/" prefix; the server
		// itself only knows its tool by the bare name.
		result, err = srv.CallTool(ctx, strings.TrimPrefix(name, serverID+"/"), args)
	}

	if err != nil {
		m.emit(events.KindToolExecutionFailed, name, execID, err)
		return nil, err
	}
	m.emit(events.KindToolExecutionCompleted, name, execID, nil)
	return result, nil
}

func (m *Manager) emit(kind events.Kind, name, execID string, err error) {
	detail := map[string]any{"tool": name, "executionId": execID}
	if err != nil {
		detail["error"] = err.Error()
	}
	m.sink.Emit(events.Event{Kind: kind, At: time.Now(), Detail: detail})
}

// ProviderKind names one tool-schema dialect.
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderGemini    ProviderKind = "gemini"
)

// GetToolsForProvider builds the catalog and remaps every descriptor's
// generic parameters schema into the given provider's tool-call shape. The
// remap is purely structural: field names move, nothing about the schema
// itself changes.
func (m *Manager) GetToolsForProvider(ctx context.Context, kind ProviderKind) ([]byte, error) {
	catalog, err := m.GetAllTools(ctx)
	if err != nil {
		return nil, err
	}

	out := []byte("[]")
	for i, entry := range catalog {
		obj, err := translateSchema(kind, entry.Descriptor)
		if err != nil {
			return nil, err
		}
		out, err = sjson.SetRawBytes(out, fmt.Sprintf("%d", i), obj)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func translateSchema(kind ProviderKind, d domain.ToolDescriptor) ([]byte, error) {
	paramsJSON, err := json.Marshal(d.Parameters)
	if err != nil {
		return nil, err
	}

	switch kind {
	case ProviderOpenAI:
		out, err := sjson.SetBytes([]byte(`{}`), "type", "function")
		if err != nil {
			return nil, err
		}
		out, err = sjson.SetBytes(out, "function.name", d.Name)
		if err != nil {
			return nil, err
		}
		out, err = sjson.SetBytes(out, "function.description", d.Description)
		if err != nil {
			return nil, err
		}
		return sjson.SetRawBytes(out, "function.parameters", paramsJSON)
	case ProviderAnthropic:
		out, err := sjson.SetBytes([]byte(`{}`), "name", d.Name)
		if err != nil {
			return nil, err
		}
		out, err = sjson.SetBytes(out, "description", d.Description)
		if err != nil {
			return nil, err
		}
		return sjson.SetRawBytes(out, "input_schema", paramsJSON)
	case ProviderGemini:
		out, err := sjson.SetBytes([]byte(`{}`), "name", d.Name)
		if err != nil {
			return nil, err
		}
		out, err = sjson.SetBytes(out, "description", d.Description)
		if err != nil {
			return nil, err
		}
		return sjson.SetRawBytes(out, "parameters", paramsJSON)
	default:
		return nil, fmt.Errorf("unknown provider kind: %s", kind)
	}
}

// ParameterNames reads the top-level JSON-schema property names out of a
// descriptor's generic parameters object without a full unmarshal.
func ParameterNames(d domain.ToolDescriptor) []string {
	raw, err := json.Marshal(d.Parameters)
	if err != nil {
		return nil
	}
	var names []string
	gjson.GetBytes(raw, "properties").ForEach(func(key, _ gjson.Result) bool {
		names = append(names, key.String())
		return true
	})
	return names
}
