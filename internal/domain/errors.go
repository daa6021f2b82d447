package domain

import (
	"fmt"
	"time"
)

// ConfigInvalidError reports a Server Descriptor that is missing a field
// its kind requires, or carries an out-of-range value.
type ConfigInvalidError struct {
	Server string
	Reason string
}

func (e *ConfigInvalidError) Error() string {
	return fmt.Sprintf("invalid config for server %s: %s", e.Server, e.Reason)
}

// TransportUnavailableError reports that a channel could not be opened:
// address unreachable, spawn failed, or the handshake never completed.
type TransportUnavailableError struct {
	Server string
	Kind   string
	Err    error
}

func (e *TransportUnavailableError) Error() string {
	return fmt.Sprintf("transport unavailable for %s (%s): %v", e.Server, e.Kind, e.Err)
}

func (e *TransportUnavailableError) Unwrap() error {
	return e.Err
}

// ConnectionLostError reports that a previously established channel failed.
// Retryable; triggers the Lifecycle Manager's recovery path.
type ConnectionLostError struct {
	Server string
	Err    error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("connection lost for %s: %v", e.Server, e.Err)
}

func (e *ConnectionLostError) Unwrap() error {
	return e.Err
}

// TimeoutExceededError reports that an operation exceeded its deadline.
type TimeoutExceededError struct {
	Server    string
	Operation string
	Elapsed   time.Duration
}

func (e *TimeoutExceededError) Error() string {
	return fmt.Sprintf("%s timed out on %s after %v", e.Operation, e.Server, e.Elapsed)
}

// CircuitOpenError reports a fast-failed call: the breaker itself controls
// readmission, this error is never directly retried.
type CircuitOpenError struct {
	Server    string
	Operation string
	OpenedAt  time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s/%s since %v", e.Server, e.Operation, e.OpenedAt)
}

// ToolNotFoundError reports a lookup against a name not present in the
// catalog being queried.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// ToolNotAllowedError reports a tool that exists but is blocked for the
// calling mode (e.g. agentAccessible=false, or disabled by descriptor).
type ToolNotAllowedError struct {
	Name   string
	Reason string
}

func (e *ToolNotAllowedError) Error() string {
	return fmt.Sprintf("tool not allowed: %s: %s", e.Name, e.Reason)
}

// ToolValidationError reports that tool call arguments failed schema
// validation before dispatch.
type ToolValidationError struct {
	Name   string
	Path   string
	Reason string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s at %s: %s", e.Name, e.Path, e.Reason)
}

// ToolExecutionError wraps a failure raised by the tool handler itself,
// whether internal or proxied to an external server.
type ToolExecutionError struct {
	Name       string
	DurationMs float64
	Err        error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool execution failed for %s after %.1fms: %v", e.Name, e.DurationMs, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// EmbeddingsDisabledError reports a call made while the embeddings
// capability latch is off.
type EmbeddingsDisabledError struct {
	Operation string
}

func (e *EmbeddingsDisabledError) Error() string {
	return fmt.Sprintf("embeddings disabled: %s unavailable", e.Operation)
}

// ShuttingDownError reports a call rejected because the fleet (or the
// connection it targeted) has begun or completed shutdown.
type ShuttingDownError struct {
	Server string
}

func (e *ShuttingDownError) Error() string {
	if e.Server == "" {
		return "fleet is shutting down"
	}
	return fmt.Sprintf("connection %s is shutting down", e.Server)
}

func NewTransportUnavailableError(server, kind string, err error) *TransportUnavailableError {
	return &TransportUnavailableError{Server: server, Kind: kind, Err: err}
}

func NewConnectionLostError(server string, err error) *ConnectionLostError {
	return &ConnectionLostError{Server: server, Err: err}
}

func NewToolExecutionError(name string, durationMs float64, err error) *ToolExecutionError {
	return &ToolExecutionError{Name: name, DurationMs: durationMs, Err: err}
}

func NewToolValidationError(name, path, reason string) *ToolValidationError {
	return &ToolValidationError{Name: name, Path: path, Reason: reason}
}
