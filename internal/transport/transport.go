// Package transport materializes wire channels from server descriptors:
// the Transport Factory of the fleet supervisor.
package transport

import (
	"bufio"
	"context"
	"io"

	"github.com/xdien/cipher/internal/domain"
)

// Transport is a framed byte channel to one external tool server. Frames
// are newline-delimited JSON; Server Session (internal/rpc) owns encoding
// and request correlation, Transport only moves bytes.
type Transport interface {
	// Send writes one frame. The stdio transport appends the newline
	// delimiter; the network transports post the frame as one request body.
	Send(ctx context.Context, frame []byte) error
	// Frames returns the channel's inbound reader, one frame per Scan.
	Frames() *bufio.Scanner
	// Close idempotently releases OS resources: pipes, child process,
	// sockets. Safe to call more than once.
	Close() error
}

// Dialer opens a Transport for one descriptor attempt. sessionIDHint, when
// non-empty, is threaded into the network transports' headers so a server
// can correlate reconnects with a prior streamable-http session.
type Dialer func(ctx context.Context, descriptor *domain.ServerDescriptor, attempt int, sessionIDHint string) (Transport, error)

// New dispatches to the transport implementation matching descriptor.Kind.
// Exceeding descriptor.TimeoutMs during the open handshake surfaces as
// TimeoutExceededError; missing required fields surface as
// ConfigInvalidError (callers should prefer calling Validate first).
func New(ctx context.Context, descriptor *domain.ServerDescriptor, attempt int, sessionIDHint string) (Transport, error) {
	if err := descriptor.Validate(); err != nil {
		return nil, err
	}

	switch descriptor.Kind {
	case domain.KindStdio:
		return dialStdio(ctx, descriptor, attempt)
	case domain.KindSSE:
		return dialSSE(ctx, descriptor, attempt, sessionIDHint)
	case domain.KindStreamableHTTP:
		return dialStreamableHTTP(ctx, descriptor, attempt, sessionIDHint)
	default:
		return nil, &domain.ConfigInvalidError{Server: descriptor.Name, Reason: "unknown transport kind: " + string(descriptor.Kind)}
	}
}

// Dispose releases a transport's OS resources. Safe on a nil transport.
func Dispose(t Transport) error {
	if t == nil {
		return nil
	}
	return t.Close()
}

// newlineScanner builds the standard bufio.Scanner used by every transport
// kind, so frame-splitting behaviour stays identical across stdio/SSE/HTTP.
func newlineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return scanner
}
