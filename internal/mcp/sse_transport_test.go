package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bigsy/mcpwire/internal/mcptest"
)

// nextMessage waits for one envelope, failing the test on timeout or end.
func nextMessage(t *testing.T, tr Transport) *Envelope {
	t.Helper()
	select {
	case env := <-tr.Messages():
		return env
	case err := <-tr.Errors():
		t.Fatalf("unexpected transport error: %v", err)
	case <-tr.Done():
		t.Fatalf("transport ended: %v", tr.Err())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

// nextError waits for one error, skipping messages.
func nextError(t *testing.T, tr Transport) error {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-tr.Messages():
		case err := <-tr.Errors():
			return err
		case <-deadline:
			t.Fatal("timed out waiting for error")
			return nil
		}
	}
}

func initRequest(t *testing.T, id int64) *Envelope {
	t.Helper()
	env, err := NewRequest(NumberID(id), "initialize", initializeParams{
		ProtocolVersion: SupportedProtocolVersions[0],
		Capabilities:    map[string]any{},
		ClientInfo:      Implementation{Name: "test", Version: "0"},
	})
	require.NoError(t, err)
	return env
}

func TestSSETransport_EndpointAndRoundTrip(t *testing.T) {
	srv, h := mcptest.StartSSEServer(t, mcptest.DefaultConfig())

	tr := NewSSETransport(srv.URL+"/sse", RemoteOptions{}, testLogger(t))
	t.Cleanup(func() { _ = tr.Close() })
	ctx := context.Background()

	require.NoError(t, tr.Connect(ctx))
	assert.True(t, tr.IsConnected())

	require.NoError(t, tr.Send(ctx, initRequest(t, 1)))
	resp := nextMessage(t, tr)
	assert.Equal(t, KindResponse, resp.Kind)
	assert.Equal(t, NumberID(1), *resp.ID)
	assert.Contains(t, string(resp.Result), "fake-server")

	list, err := NewRequest(NumberID(2), "tools/list", nil)
	require.NoError(t, err)
	require.NoError(t, tr.Send(ctx, list))
	resp = nextMessage(t, tr)
	assert.Contains(t, string(resp.Result), "read_file")

	assert.Equal(t, []string{"initialize", "tools/list"}, h.Server().Received())

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close(), "Close is idempotent")
	assert.NoError(t, tr.Err())
	assert.ErrorIs(t, tr.Send(ctx, list), ErrClosed)
}

func TestSSETransport_InsecureURL(t *testing.T) {
	tr := NewSSETransport("http://mcp.example.com/sse", RemoteOptions{}, testLogger(t))
	err := tr.Connect(context.Background())
	require.Error(t, err)

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, CategoryConnectionRefused, ce.Category)
	assert.Contains(t, err.Error(), "insecure url")
}

func TestSSETransport_ConnectStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	tr := NewSSETransport(srv.URL+"/sse", RemoteOptions{}, testLogger(t))
	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, CategoryConnectionRefused, Classify(err))
	assert.Contains(t, err.Error(), "401")
}

func TestSSETransport_RejectsCrossOriginEndpoint(t *testing.T) {
	srv, h := mcptest.StartSSEServer(t, mcptest.DefaultConfig())
	h.Endpoint = "https://evil.example.com/message"

	tr := NewSSETransport(srv.URL+"/sse", RemoteOptions{EndpointWait: 50 * time.Millisecond}, testLogger(t))
	t.Cleanup(func() { _ = tr.Close() })
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))

	err := nextError(t, tr)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, CategoryProtocolViolation, te.Category)
	assert.Contains(t, err.Error(), "does not match stream origin")

	// With no accepted endpoint, sends fall back to /message on the stream origin.
	require.NoError(t, tr.Send(ctx, initRequest(t, 1)))
	resp := nextMessage(t, tr)
	assert.Equal(t, NumberID(1), *resp.ID)
}

func TestSSETransport_ReconnectsAfterDrop(t *testing.T) {
	srv, h := mcptest.StartSSEServer(t, mcptest.DefaultConfig())

	var mu sync.Mutex
	var scheduled []time.Duration
	tr := NewSSETransport(srv.URL+"/sse", RemoteOptions{
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
	}, testLogger(t))
	tr.onReconnectScheduled = func(attempt int, delay time.Duration) {
		mu.Lock()
		scheduled = append(scheduled, delay)
		mu.Unlock()
	}
	t.Cleanup(func() { _ = tr.Close() })
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))

	require.NoError(t, tr.Send(ctx, initRequest(t, 1)))
	nextMessage(t, tr)

	h.DropStreams()
	err := nextError(t, tr)
	assert.Equal(t, CategoryConnectionLost, Classify(err))

	require.Eventually(t, func() bool {
		return h.Streams() == 2 && tr.IsConnected()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, tr.Attempts(), "a successful reconnect resets the attempt count")

	// The new stream announces a new session endpoint; sends must reach it.
	require.Eventually(t, func() bool {
		ping, _ := NewRequest(NumberID(2), "ping", nil)
		if err := tr.Send(ctx, ping); err != nil {
			return false
		}
		select {
		case env := <-tr.Messages():
			return env.ID != nil && *env.ID == NumberID(2)
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, scheduled)
}

// flakyStream serves one event stream that ends right after the endpoint
// event, then fails every later GET.
func flakyStream(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		if gets.Add(1) > 1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: endpoint\ndata: /message\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, &gets
}

func TestSSETransport_GivesUpAfterMaxAttempts(t *testing.T) {
	srv, gets := flakyStream(t)

	var mu sync.Mutex
	var delays []time.Duration
	tr := NewSSETransport(srv.URL+"/sse", RemoteOptions{
		ReconnectBaseDelay:   5 * time.Millisecond,
		ReconnectMaxDelay:    20 * time.Millisecond,
		MaxReconnectAttempts: 4,
	}, testLogger(t))
	tr.onReconnectScheduled = func(attempt int, delay time.Duration) {
		mu.Lock()
		delays = append(delays, delay)
		mu.Unlock()
	}
	t.Cleanup(func() { _ = tr.Close() })
	require.NoError(t, tr.Connect(context.Background()))

	var errs []error
	deadline := time.After(5 * time.Second)
collect:
	for {
		select {
		case err := <-tr.Errors():
			errs = append(errs, err)
		case <-tr.Messages():
		case <-tr.Done():
			break collect
		case <-deadline:
			t.Fatal("transport never gave up")
		}
	}

	terminal := 0
	for _, err := range errs {
		var ce *Error
		if errors.As(err, &ce) && ce.Op == "reconnect" {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal, "exactly one terminal error: %v", errs)
	require.Error(t, tr.Err())
	assert.Contains(t, tr.Err().Error(), "gave up after 4 reconnect attempts")
	assert.False(t, tr.IsConnected())
	assert.Equal(t, int32(5), gets.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestSSETransport_CloseCancelsPendingReconnect(t *testing.T) {
	srv, _ := flakyStream(t)

	tr := NewSSETransport(srv.URL+"/sse", RemoteOptions{
		ReconnectBaseDelay: time.Hour,
		ReconnectMaxDelay:  time.Hour,
	}, testLogger(t))
	require.NoError(t, tr.Connect(context.Background()))

	nextError(t, tr)
	require.Eventually(t, func() bool { return tr.Attempts() == 1 }, 5*time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = tr.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a pending reconnect")
	}
	assert.NoError(t, tr.Err())

	select {
	case err := <-tr.Errors():
		t.Fatalf("error delivered after Close: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBackoffDelay(t *testing.T) {
	base, max := 100*time.Millisecond, 2*time.Second

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := backoffDelay(base, max, attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, max, "attempt %d", attempt)
		prev = d
	}
	assert.Equal(t, base, backoffDelay(base, max, 0))
	assert.Equal(t, base, backoffDelay(base, max, 1))
	assert.Equal(t, 800*time.Millisecond, backoffDelay(base, max, 4))
	assert.Equal(t, max, backoffDelay(base, max, 6))
	assert.Equal(t, max, backoffDelay(base, max, 1000), "no overflow")
}
