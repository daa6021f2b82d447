// Package rpc implements the Server Session: a JSON-RPC-flavoured client
// that frames messages over a Transport, correlates requests by integer id,
// and surfaces server-initiated notifications.
//
// Wire framing is newline-delimited JSON objects, each carrying at minimum
// {id?, method?, params?, result?, error?}; a message with no id is a
// server-initiated notification.
package rpc

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xdien/cipher/internal/domain"
	"github.com/xdien/cipher/internal/transport"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RawMessage is encoding/json's raw-bytes type, reused so struct tags work
// with both the standard library and json-iterator's compatible codec.
type RawMessage = stdjson.RawMessage

// Message is one wire frame in either direction.
type Message struct {
	ID     *int64     `json:"id,omitempty"`
	Method string     `json:"method,omitempty"`
	Params RawMessage `json:"params,omitempty"`
	Result RawMessage `json:"result,omitempty"`
	Error  *WireError `json:"error,omitempty"`
}

// WireError is the error shape a server may embed in a response frame.
type WireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *WireError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ClientInfo identifies this host to the server during initialize.
type ClientInfo struct {
	Name    string
	Version string
}

// ServerInfo is what the server reports back from initialize.
type ServerInfo struct {
	Name            string
	Version         string
	ProtocolVersion string
}

// ToolResult is the outcome of a callTool invocation.
type ToolResult struct {
	OK    bool
	Value RawMessage
}

// Prompt describes one server-exposed prompt template.
type Prompt struct {
	Name        string
	Description string
}

// Notification is a server-initiated, id-less message delivered out of band.
type Notification struct {
	Method string
	Params RawMessage
}

// Session frames JSON messages over a Transport and correlates requests by
// integer id. Request ids are monotonically increasing within one session.
// callTool never retries internally; that is the caller's concern.
type Session struct {
	server    string
	transport transport.Transport

	nextID int64

	mu      sync.Mutex
	pending map[int64]chan Message
	closed  bool
	lostErr error

	Notifications chan Notification

	readOnce sync.Once
}

// NewSession wraps an already-open Transport. The caller is responsible for
// calling Initialize before any other operation.
func NewSession(server string, t transport.Transport) *Session {
	return &Session{
		server:        server,
		transport:     t,
		pending:       make(map[int64]chan Message),
		Notifications: make(chan Notification, 16),
	}
}

// Start begins the background frame-reading loop. Must be called once,
// after construction and before any request is sent.
func (s *Session) Start() {
	s.readOnce.Do(func() {
		go s.readLoop()
	})
}

func (s *Session) readLoop() {
	scanner := s.transport.Frames()
	for scanner.Scan() {
		var msg Message
		// Malformed frames fail the affected request but never tear down
		// the session, since framing stays byte-aligned (newline-delimited).
		// A frame whose id cannot be read at all is dropped.
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			var probe struct {
				ID *int64 `json:"id"`
			}
			if json.Unmarshal(scanner.Bytes(), &probe) == nil && probe.ID != nil {
				s.dispatch(Message{ID: probe.ID, Error: &WireError{Message: "malformed response frame: " + err.Error()}})
			}
			continue
		}
		s.dispatch(msg)
	}
	s.failAllPending(domain.NewConnectionLostError(s.server, scanner.Err()))
}

func (s *Session) dispatch(msg Message) {
	if msg.ID == nil {
		select {
		case s.Notifications <- Notification{Method: msg.Method, Params: msg.Params}:
		default:
		}
		return
	}

	s.mu.Lock()
	ch, ok := s.pending[*msg.ID]
	if ok {
		delete(s.pending, *msg.ID)
	}
	s.mu.Unlock()

	if ok {
		ch <- msg
	}
}

func (s *Session) failAllPending(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.lostErr = err
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

// call sends one request and waits for its correlated response.
func (s *Session) call(ctx context.Context, method string, params any) (Message, error) {
	start := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Message{}, domain.NewConnectionLostError(s.server, nil)
	}
	id := atomic.AddInt64(&s.nextID, 1)
	ch := make(chan Message, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	raw, err := json.Marshal(params)
	if err != nil {
		s.dropPending(id)
		return Message{}, err
	}

	msg := Message{ID: &id, Method: method, Params: raw}
	frame, err := json.Marshal(msg)
	if err != nil {
		s.dropPending(id)
		return Message{}, err
	}

	if err := s.transport.Send(ctx, frame); err != nil {
		s.dropPending(id)
		return Message{}, domain.NewConnectionLostError(s.server, err)
	}

	select {
	case <-ctx.Done():
		s.dropPending(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Message{}, &domain.TimeoutExceededError{Server: s.server, Operation: method, Elapsed: time.Since(start)}
		}
		return Message{}, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			s.mu.Lock()
			lost := s.lostErr
			s.mu.Unlock()
			return Message{}, lost
		}
		if resp.Error != nil {
			return Message{}, resp.Error
		}
		return resp, nil
	}
}

func (s *Session) dropPending(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Initialize performs the handshake and negotiates protocol version.
func (s *Session) Initialize(ctx context.Context, info ClientInfo) (ServerInfo, error) {
	resp, err := s.call(ctx, "initialize", map[string]any{
		"clientInfo": info,
	})
	if err != nil {
		return ServerInfo{}, err
	}
	var server ServerInfo
	if len(resp.Result) > 0 {
		_ = json.Unmarshal(resp.Result, &server)
	}
	return server, nil
}

// ListTools returns the server's current tool catalog.
func (s *Session) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	resp, err := s.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []domain.ToolDescriptor `json:"tools"`
	}
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &out); err != nil {
			return nil, err
		}
	}
	return out.Tools, nil
}

// CallTool invokes one tool by name. Does not retry internally.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	resp, err := s.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{OK: true, Value: resp.Result}, nil
}

// ListPrompts returns the server's prompt catalog. A trivial call used by
// the Health Monitor to count as a liveness probe.
func (s *Session) ListPrompts(ctx context.Context) ([]Prompt, error) {
	resp, err := s.call(ctx, "prompts/list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Prompts []Prompt `json:"prompts"`
	}
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &out); err != nil {
			return nil, err
		}
	}
	return out.Prompts, nil
}

// Disconnect tears down the session and fails every pending call with
// ConnectionLost. Transport disposal is the caller's responsibility.
func (s *Session) Disconnect() {
	s.failAllPending(domain.NewConnectionLostError(s.server, nil))
}
