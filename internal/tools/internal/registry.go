// Package internal implements the Internal Tool Registry & Manager: the
// local catalog of built-in tools, timeout-bounded dispatch, and per-tool
// execution statistics. One Registry is constructed once at process
// startup and passed by reference everywhere it is needed; this package
// never holds a package-level instance.
package internal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/xdien/cipher/internal/domain"
	"github.com/xdien/cipher/internal/events"
	"github.com/xdien/cipher/internal/util"
)

// DefaultPrefix identifies internal tools in the unified catalog.
const DefaultPrefix = "cipher_"

// DefaultExecutionTimeout bounds one tool invocation when the registry was
// not configured with an explicit timeout.
const DefaultExecutionTimeout = 30 * time.Second

// Handler is a built-in tool implementation. It receives the full
// ExecutionContext so it can decide for itself whether a missing optional
// service is fatal.
type Handler func(ctx context.Context, execCtx ExecutionContext, args map[string]any) (any, error)

// Services bundles the optional backing services a handler may consult.
// Fields are left as the zero value (nil) when not wired; handlers decide
// whether that is fatal for their own operation.
type Services struct {
	Embeddings     any
	VectorStore    any
	LLM            any
	KnowledgeGraph any
}

// ExecutionContext is built fresh for every Execute call.
type ExecutionContext struct {
	ToolName  string
	SessionID string
	StartTime time.Time
	UserID    string
	Services  Services
}

// Registration describes one built-in tool at registration time.
type Registration struct {
	Name             string
	Category         string
	Description      string
	ParametersSchema map[string]any
	Handler          Handler
	AgentAccessible  bool
	Version          string
}

type entry struct {
	mu    sync.Mutex
	reg   Registration
	stats domain.ExecutionStats
}

// Registry is the process-scoped container of built-in tools.
type Registry struct {
	mu               sync.RWMutex
	prefix           string
	executionTimeout time.Duration
	services         Services
	sink             events.Sink
	tools            map[string]*entry
	closed           bool
}

// New constructs a Registry. prefix defaults to DefaultPrefix and timeout
// to DefaultExecutionTimeout when zero-valued.
func New(prefix string, timeout time.Duration, services Services, sink events.Sink) *Registry {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if timeout <= 0 {
		timeout = DefaultExecutionTimeout
	}
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Registry{
		prefix:           prefix,
		executionTimeout: timeout,
		services:         services,
		sink:             sink,
		tools:            make(map[string]*entry),
	}
}

// Prefix returns the normalization prefix this registry was built with.
func (r *Registry) Prefix() string {
	return r.prefix
}

// Normalize prefixes name unless it already carries the registry's prefix.
func (r *Registry) Normalize(name string) string {
	if strings.HasPrefix(name, r.prefix) {
		return name
	}
	return r.prefix + name
}

// Register adds a tool under its normalized name. A second registration
// under the same normalized name is rejected unless it carries a different
// category or version than the one on file, which is treated as an
// explicit supersede.
func (r *Registry) Register(reg Registration) error {
	name := r.Normalize(reg.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return &domain.ShuttingDownError{}
	}
	if existing, ok := r.tools[name]; ok {
		existing.mu.Lock()
		samePair := reg.Category == existing.reg.Category && reg.Version == existing.reg.Version
		existing.mu.Unlock()
		if samePair {
			return &domain.ToolNotAllowedError{Name: name, Reason: "duplicate registration: same category and version"}
		}
	}

	reg.Name = name
	r.tools[name] = &entry{reg: reg}
	return nil
}

// Lookup returns the registered tool's descriptor.
func (r *Registry) Lookup(name string) (domain.ToolDescriptor, bool) {
	name = r.Normalize(name)
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return domain.ToolDescriptor{}, false
	}
	return descriptorOf(e.reg), true
}

// List returns every registered tool's descriptor.
func (r *Registry) List() []domain.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ToolDescriptor, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, descriptorOf(e.reg))
	}
	return out
}

// Stats returns the execution statistics recorded for name.
func (r *Registry) Stats(name string) (domain.ExecutionStats, bool) {
	name = r.Normalize(name)
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return domain.ExecutionStats{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats, true
}

// Execute normalizes and looks up name, validates args against the tool's
// required parameters, builds an ExecutionContext, races the handler
// against the registry's execution timeout, and records the outcome into
// that tool's ExecutionStats.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, sessionID, userID string) (any, error) {
	name = r.Normalize(name)

	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &domain.ToolNotFoundError{Name: name}
	}

	if err := validateRequired(name, e.reg.ParametersSchema, args); err != nil {
		return nil, err
	}

	execCtx := ExecutionContext{
		ToolName:  name,
		SessionID: sessionID,
		StartTime: time.Now(),
		UserID:    userID,
		Services:  r.services,
	}
	r.emitLifecycle(events.KindToolExecutionStarted, name, nil)

	opCtx, cancel := context.WithTimeout(ctx, r.executionTimeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	resCh := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resCh <- outcome{nil, fmt.Errorf("tool panic: %v", rec)}
			}
		}()
		value, err := e.reg.Handler(opCtx, execCtx, args)
		resCh <- outcome{value, err}
	}()

	select {
	case <-opCtx.Done():
		duration := time.Since(execCtx.StartTime)
		r.record(e, duration, false)
		err := domain.NewToolExecutionError(name, float64(duration.Milliseconds()), opCtx.Err())
		r.emitLifecycle(events.KindToolExecutionFailed, name, err)
		return nil, err
	case res := <-resCh:
		duration := time.Since(execCtx.StartTime)
		ok := res.err == nil
		r.record(e, duration, ok)
		if !ok {
			err := domain.NewToolExecutionError(name, float64(duration.Milliseconds()), res.err)
			r.emitLifecycle(events.KindToolExecutionFailed, name, err)
			return nil, err
		}
		r.emitLifecycle(events.KindToolExecutionCompleted, name, nil)
		return res.value, nil
	}
}

func (r *Registry) record(e *entry, duration time.Duration, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Record(float64(duration.Milliseconds()), ok)
}

// emitLifecycle reports one TOOL_EXECUTION_* milestone through the sink,
// mirroring the session-event trio the component design names.
func (r *Registry) emitLifecycle(kind events.Kind, name string, err error) {
	detail := map[string]any{"tool": name}
	if err != nil {
		detail["error"] = err.Error()
	}
	r.sink.Emit(events.Event{Kind: kind, At: time.Now(), Detail: detail})
}

// Clear empties the registry. Only valid while shut down; callers outside
// the shutdown path should never call this.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.tools = make(map[string]*entry)
}

func descriptorOf(reg Registration) domain.ToolDescriptor {
	return domain.ToolDescriptor{
		Name:            reg.Name,
		Description:     reg.Description,
		Parameters:      reg.ParametersSchema,
		Source:          domain.ToolSourceInternal,
		AgentAccessible: reg.AgentAccessible,
		Category:        reg.Category,
		Version:         reg.Version,
	}
}

// validateRequired walks schema's top-level "required" list and resolves
// each name against args with a JSONPath query, so the resulting error
// names the exact missing path rather than just the field name.
func validateRequired(name string, schema map[string]any, args map[string]any) error {
	for _, field := range util.GetStringArray(schema, "required") {
		path := "$." + field
		if _, err := jsonpath.Get(path, args); err != nil {
			return domain.NewToolValidationError(name, path, "required parameter missing")
		}
	}
	return nil
}
