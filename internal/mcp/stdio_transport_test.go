package mcp

import (
	"context"
	"errors"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bigsy/mcpwire/internal/mcptest"
	"github.com/Bigsy/mcpwire/internal/mcptest/fakeserver"
)

func newStdioTransport(t *testing.T, cfg fakeserver.Config, mode FramingMode) *StdioTransport {
	t.Helper()
	stdio := helperStdio(t, cfg)
	stdio.Framing = mode
	stdio.Logger = testLogger(t)
	tr := NewStdioTransport(stdio)
	t.Cleanup(func() { _ = tr.Close() })
	require.NoError(t, tr.Connect(context.Background()))
	return tr
}

func TestStdioTransport_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cfg  fakeserver.Config
		mode FramingMode
	}{
		{"newline", mcptest.DefaultConfig(), FramingNewline},
		{"content-length", mcptest.ContentLengthConfig(), FramingContentLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newStdioTransport(t, tt.cfg, tt.mode)
			assert.Positive(t, tr.PID())
			assert.True(t, tr.IsConnected())

			require.NoError(t, tr.Send(context.Background(), initRequest(t, 1)))
			resp := nextMessage(t, tr)
			assert.Equal(t, NumberID(1), *resp.ID)
			assert.Contains(t, string(resp.Result), "fake-server")
		})
	}
}

func TestStdioTransport_CloseStopsChild(t *testing.T) {
	tr := newStdioTransport(t, mcptest.DefaultConfig(), FramingNewline)
	pid := tr.PID()
	require.Positive(t, pid)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close(), "Close is idempotent")
	assert.NoError(t, tr.Err(), "a requested close is not an error")
	assert.False(t, tr.IsConnected())
	assert.ErrorIs(t, tr.Send(context.Background(), initRequest(t, 2)), ErrClosed)

	// Signal 0 probes for existence; the reaped child is gone.
	err := syscall.Kill(pid, 0)
	assert.ErrorIs(t, err, syscall.ESRCH)
}

func TestStdioTransport_ExitReportsDiagnostics(t *testing.T) {
	cfg := mcptest.CrashOnInitConfig(5)
	cfg.StderrOnStart = "fatal: config missing"
	tr := newStdioTransport(t, cfg, FramingNewline)

	require.NoError(t, tr.Send(context.Background(), initRequest(t, 1)))

	select {
	case <-tr.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("transport did not end after the child exited")
	}

	var ce *Error
	require.True(t, errors.As(tr.Err(), &ce))
	assert.Equal(t, CategoryConnectionLost, ce.Category)
	assert.Contains(t, ce.Message, "server process exited")
	assert.Contains(t, ce.Diagnostics, "exit code: 5")
	assert.Contains(t, ce.Diagnostics, "fatal: config missing")

	d := tr.Diagnostics()
	require.NotNil(t, d.ExitCode)
	assert.Equal(t, 5, *d.ExitCode)
	assert.Contains(t, d.Command, "-test.run=TestHelperProcess")
}

func TestStdioTransport_SpawnFailure(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "/nonexistent/mcp-server", Logger: testLogger(t)})
	err := tr.Connect(context.Background())
	require.Error(t, err)

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "spawn", ce.Op)
	assert.NotEmpty(t, tr.Diagnostics().SpawnError)
	assert.Zero(t, tr.PID())
	assert.ErrorIs(t, tr.Connect(context.Background()), ErrClosed)
}

func TestStreamTransport_PeerCloseEndsTransport(t *testing.T) {
	serverIn, serverOut, clientIn, clientOut := testPipe()
	t.Cleanup(func() { _ = serverIn.Close() })

	tr := NewStreamTransport(clientOut, clientIn, FramingNewline, FramerLimits{}, testLogger(t))
	t.Cleanup(func() { _ = tr.Close() })
	require.NoError(t, tr.Connect(context.Background()))

	go func() {
		_, _ = serverOut.Write([]byte(`{"jsonrpc":"2.0","method":"notifications/message"}` + "\n"))
		_ = serverOut.Close()
	}()

	env := nextMessage(t, tr)
	assert.Equal(t, "notifications/message", env.Method)

	select {
	case <-tr.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("transport did not end on peer close")
	}
	assert.Equal(t, CategoryConnectionLost, Classify(tr.Err()))
	assert.Contains(t, tr.Err().Error(), "stream closed by peer")
}

func TestFrameWriter_UnreadPeer(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pr.Close() })
	fw := newFrameWriter(pw)
	done := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := fw.write(ctx, done, []byte("first\n"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned write still owns the stream.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, fw.write(ctx2, done, []byte("second\n")), context.DeadlineExceeded)

	close(done)
	assert.ErrorIs(t, fw.write(context.Background(), done, []byte("third\n")), ErrClosed)

	// Closing the stream releases the abandoned write.
	require.NoError(t, pw.Close())
	require.Eventually(t, func() bool {
		select {
		case fw.sem <- struct{}{}:
			<-fw.sem
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFrameWriter_WriteFailure(t *testing.T) {
	pr, pw := io.Pipe()
	require.NoError(t, pr.Close())

	err := newFrameWriter(pw).write(context.Background(), make(chan struct{}), []byte("x\n"))
	require.Error(t, err)
	assert.Equal(t, CategoryConnectionLost, Classify(err))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestStreamTransport_SendUnblocksOnClose(t *testing.T) {
	serverIn, serverOut, clientIn, clientOut := testPipe()
	t.Cleanup(func() {
		_ = serverIn.Close()
		_ = serverOut.Close()
	})

	tr := NewStreamTransport(clientOut, clientIn, FramingNewline, FramerLimits{}, testLogger(t))
	require.NoError(t, tr.Connect(context.Background()))

	env := initRequest(t, 1)
	sent := make(chan error, 1)
	go func() { sent <- tr.Send(context.Background(), env) }()

	select {
	case err := <-sent:
		t.Fatalf("Send returned %v before the peer read anything", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tr.Close())
	select {
	case err := <-sent:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Send still blocked after Close")
	}
}
