package transport

import (
	"bufio"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/xdien/cipher/internal/domain"
)

type sseTransport struct {
	client  *http.Client
	url     string
	headers map[string]string

	resp    *http.Response
	scanner *bufio.Scanner

	closeOnce sync.Once
}

// dialSSE opens an HTTP GET with an event-stream accept header.
// Reconnection on transport failures is delegated to the enclosing retry
// strategy; this dialer never retries on its own.
func dialSSE(ctx context.Context, descriptor *domain.ServerDescriptor, attempt int, sessionIDHint string) (Transport, error) {
	openCtx, cancel := context.WithTimeout(ctx, time.Duration(descriptor.TimeoutMs)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(openCtx, http.MethodGet, descriptor.URL, nil)
	if err != nil {
		return nil, &domain.ConfigInvalidError{Server: descriptor.Name, Reason: "invalid url: " + err.Error()}
	}
	req.Header.Set("Accept", "text/event-stream")
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
	if resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, domain.NewTransportUnavailableError(descriptor.Name, string(descriptor.Kind), errStatus(resp.StatusCode))
	}

	return &sseTransport{
		client:  client,
		url:     descriptor.URL,
		headers: descriptor.Headers,
		resp:    resp,
		scanner: newlineScanner(resp.Body),
	}, nil
}

func (t *sseTransport) Send(ctx context.Context, frame []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, newByteReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errStatus(resp.StatusCode)
	}
	return nil
}

func (t *sseTransport) Frames() *bufio.Scanner {
	return t.scanner
}

func (t *sseTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.resp.Body.Close()
	})
	return err
}
