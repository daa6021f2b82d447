package rpc

import (
	"bufio"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdien/cipher/internal/domain"
)

// fakeTransport is an in-memory Transport: Send appends to an outbox the
// test can inspect, and inject() delivers one line to Frames(), mirroring
// the style of the teacher's hand-written test fakes over a mocking
// framework.
type fakeTransport struct {
	mu     sync.Mutex
	outbox [][]byte

	pw      *io.PipeWriter
	scanner *bufio.Scanner
}

func newFakeTransport() *fakeTransport {
	pr, pw := io.Pipe()
	return &fakeTransport{
		pw:      pw,
		scanner: bufio.NewScanner(pr),
	}
}

func (f *fakeTransport) Send(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	f.outbox = append(f.outbox, append([]byte(nil), frame...))
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Frames() *bufio.Scanner {
	return f.scanner
}

func (f *fakeTransport) Close() error {
	return f.pw.Close()
}

// inject makes one line available to the next Frames().Scan().
func (f *fakeTransport) inject(line string) {
	go func() { _, _ = f.pw.Write([]byte(line + "\n")) }()
}

func (f *fakeTransport) lastSent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outbox) == 0 {
		return nil
	}
	return f.outbox[len(f.outbox)-1]
}

func TestSession_CallToolCorrelatesByID(t *testing.T) {
	ft := newFakeTransport()
	s := NewSession("alpha", ft)
	s.Start()

	done := make(chan struct{})
	var result ToolResult
	var callErr error
	go func() {
		result, callErr = s.CallTool(context.Background(), "ping", map[string]any{"x": 1})
		close(done)
	}()

	waitForSend(t, ft)
	ft.inject(`{"id":1,"result":{"pong":true}}`)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CallTool did not return")
	}

	require.NoError(t, callErr)
	assert.True(t, result.OK)
}

func TestSession_DisconnectFailsPending(t *testing.T) {
	ft := newFakeTransport()
	s := NewSession("alpha", ft)
	s.Start()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.CallTool(context.Background(), "ping", nil)
		errCh <- err
	}()

	waitForSend(t, ft)
	s.Disconnect()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("call did not fail after disconnect")
	}
}

func TestSession_CallToolTimesOutThenSessionStillUsable(t *testing.T) {
	ft := newFakeTransport()
	s := NewSession("alpha", ft)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.CallTool(ctx, "slow", nil)
	require.Error(t, err)
	var timeoutErr *domain.TimeoutExceededError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "alpha", timeoutErr.Server)

	done := make(chan struct{})
	var result ToolResult
	var callErr error
	go func() {
		result, callErr = s.CallTool(context.Background(), "ping", map[string]any{"x": 1})
		close(done)
	}()

	waitForSendCount(t, ft, 2)
	ft.inject(`{"id":2,"result":{"pong":true}}`)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CallTool did not return after a prior timeout")
	}
	require.NoError(t, callErr)
	assert.True(t, result.OK)
}

func waitForSend(t *testing.T, ft *fakeTransport) {
	t.Helper()
	waitForSendCount(t, ft, 1)
}

// waitForSendCount blocks until the transport's outbox holds at least n
// frames, so a test driving more than one call can wait for a specific
// later send rather than any send having happened so far.
func waitForSendCount(t *testing.T, ft *fakeTransport, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ft.mu.Lock()
		count := len(ft.outbox)
		ft.mu.Unlock()
		if count >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for send")
}
