package transport

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/xdien/cipher/internal/domain"
)

// streamableHTTPTransport is a POST-based bidirectional stream: each Send
// issues a request whose response body (chunked) is folded into the shared
// inbound frame reader via a pipe, so Frames() presents one logical stream
// regardless of how many requests produced it.
type streamableHTTPTransport struct {
	client    *http.Client
	url       string
	headers   map[string]string
	sessionID string

	pr      *io.PipeReader
	pw      *io.PipeWriter
	scanner *bufio.Scanner

	closeOnce sync.Once
}

func dialStreamableHTTP(ctx context.Context, descriptor *domain.ServerDescriptor, attempt int, sessionIDHint string) (Transport, error) {
	openCtx, cancel := context.WithTimeout(ctx, time.Duration(descriptor.TimeoutMs)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(openCtx, http.MethodPost, descriptor.URL, http.NoBody)
	if err != nil {
		return nil, &domain.ConfigInvalidError{Server: descriptor.Name, Reason: "invalid url: " + err.Error()}
	}
	for k, v := range descriptor.Headers {
		req.Header.Set(k, v)
	}
	if sessionIDHint != "" {
		req.Header.Set("Mcp-Session-Id", sessionIDHint)
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		if openCtx.Err() != nil {
			return nil, &domain.TimeoutExceededError{Server: descriptor.Name, Operation: "transport.open", Elapsed: time.Duration(descriptor.TimeoutMs) * time.Millisecond}
		}
		return nil, domain.NewTransportUnavailableError(descriptor.Name, string(descriptor.Kind), err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, domain.NewTransportUnavailableError(descriptor.Name, string(descriptor.Kind), errStatus(resp.StatusCode))
	}

	pr, pw := io.Pipe()
	return &streamableHTTPTransport{
		client:    client,
		url:       descriptor.URL,
		headers:   descriptor.Headers,
		sessionID: resp.Header.Get("Mcp-Session-Id"),
		pr:        pr,
		pw:        pw,
		scanner:   newlineScanner(pr),
	}, nil
}

// Send posts one frame and streams the response body into the shared
// inbound pipe so Frames() observes it as part of the single logical
// stream. Authorization and custom headers are copied verbatim from the
// descriptor on every call.
func (t *streamableHTTPTransport) Send(ctx context.Context, frame []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, newByteReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if t.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", t.sessionID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return errStatus(resp.StatusCode)
	}

	go func() {
		defer resp.Body.Close()
		_, _ = io.Copy(t.pw, resp.Body)
	}()
	return nil
}

func (t *streamableHTTPTransport) Frames() *bufio.Scanner {
	return t.scanner
}

func (t *streamableHTTPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.pw.Close()
		_ = t.pr.Close()
	})
	return err
}
