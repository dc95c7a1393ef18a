package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startShell(t *testing.T, script string, spec Spec) *Process {
	t.Helper()
	spec.Command = "/bin/sh"
	spec.Args = []string{"-c", script}
	spec.Logger = quietLogger()
	p, err := Start(context.Background(), spec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Stop(time.Second) })
	return p
}

func waitExit(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestStart_EchoesStdin(t *testing.T) {
	p := startShell(t, "cat", Spec{})
	assert.Positive(t, p.PID())
	assert.False(t, p.StartedAt().IsZero())

	_, err := io.WriteString(p.Stdin(), "hello\n")
	require.NoError(t, err)
	require.NoError(t, p.Stdin().Close())

	out, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	waitExit(t, p)
	status, ok := p.ExitStatus()
	require.True(t, ok)
	assert.Equal(t, 0, status.Code)
}

func TestStart_ExitStatus(t *testing.T) {
	p := startShell(t, "exit 3", Spec{})

	waitExit(t, p)
	assert.True(t, p.Exited())
	status, ok := p.ExitStatus()
	require.True(t, ok)
	assert.Equal(t, 3, status.Code)
	assert.Empty(t, status.Signal)
	assert.Error(t, status.Err)
}

func TestStart_RunningHasNoExitStatus(t *testing.T) {
	p := startShell(t, "sleep 10", Spec{})
	_, ok := p.ExitStatus()
	assert.False(t, ok)
	assert.False(t, p.Exited())
}

func TestStart_StderrCapture(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	p := startShell(t, "echo one >&2; echo two >&2; echo three >&2", Spec{
		StderrCapture: 8,
		OnStderr: func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	})

	waitExit(t, p)
	p.WaitStderr(2 * time.Second)

	assert.Equal(t, "one\ntwo\n", p.Stderr(), "capture keeps only the leading bytes")
	assert.Equal(t, []string{"one", "two", "three"}, p.Logs())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestStart_StderrOverlongLine(t *testing.T) {
	script := "head -c 2000000 /dev/zero | tr '\\0' x >&2; echo >&2; echo after >&2; echo done"
	p := startShell(t, script, Spec{StderrCapture: 16})

	out, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)
	assert.Equal(t, "done\n", string(out))

	waitExit(t, p)
	status, ok := p.ExitStatus()
	require.True(t, ok)
	assert.Equal(t, 0, status.Code, "the child must not die writing to stderr")
	assert.Empty(t, status.Signal)

	p.WaitStderr(2 * time.Second)
	logs := p.Logs()
	require.Len(t, logs, 2)
	assert.Len(t, logs[0], maxStderrLine, "the overlong line is truncated")
	assert.Equal(t, "after", logs[1])
	assert.Equal(t, strings.Repeat("x", 16), p.Stderr())
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReaderSize(strings.NewReader("short\r\n"+strings.Repeat("y", 40)+"\nlast"), 16)

	line, err := readLine(r, 10)
	require.NoError(t, err)
	assert.Equal(t, "short", line)

	line, err = readLine(r, 10)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("y", 10), line)

	line, err = readLine(r, 10)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "last", line)
}

func TestStart_Errors(t *testing.T) {
	tests := []struct {
		name    string
		ctx     func() context.Context
		command string
		want    string
	}{
		{"empty command", context.Background, "", "empty command"},
		{"missing binary", context.Background, "/nonexistent/server", "no such file"},
		{"cancelled", func() context.Context {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx
		}, "/bin/true", "context canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Start(tt.ctx(), Spec{Command: tt.command, Logger: quietLogger()})
			require.Error(t, err)
			var se *StartError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.command, se.Command)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStop_Graceful(t *testing.T) {
	p := startShell(t, "sleep 10", Spec{})

	start := time.Now()
	require.NoError(t, p.Stop(5*time.Second))
	assert.Less(t, time.Since(start), 4*time.Second, "SIGTERM ends the child without waiting for the grace period")
	assert.True(t, p.Exited())

	status, _ := p.ExitStatus()
	assert.Equal(t, "terminated", status.Signal)

	require.NoError(t, p.Stop(time.Second), "Stop is idempotent")
}

func TestStop_KillsAfterGrace(t *testing.T) {
	p := startShell(t, "trap '' TERM; echo ready; exec sleep 10", Spec{})

	// Wait for the trap to be installed.
	buf := make([]byte, len("ready\n"))
	_, err := io.ReadFull(p.Stdout(), buf)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, p.Stop(100*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	status, ok := p.ExitStatus()
	require.True(t, ok)
	assert.Equal(t, "killed", status.Signal)
}

func TestStart_DirAndEnv(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	p := startShell(t, `printf '%s|%s' "$(pwd -P)" "$MCPWIRE_GREETING"`, Spec{
		Dir: dir,
		Env: map[string]string{"MCPWIRE_GREETING": "hi"},
	})

	out, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)
	got := strings.Split(string(out), "|")
	require.Len(t, got, 2)
	assert.Equal(t, dir, got[0])
	assert.Equal(t, "hi", got[1])
}
