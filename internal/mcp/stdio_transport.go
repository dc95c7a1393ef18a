package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Bigsy/mcpwire/internal/process"
)

const (
	// DefaultStartupDelay is the minimum time a local server gets before the
	// first request is written to it.
	DefaultStartupDelay = 100 * time.Millisecond

	readChunkSize = 32 * 1024
	exitWaitLimit = 2 * time.Second
)

// StdioConfig describes a local server launched as a subprocess.
type StdioConfig struct {
	Command string
	Args    []string
	// Env holds explicit overrides; sensitive inherited variables are filtered
	// before these are merged.
	Env map[string]string
	Dir string

	Framing FramingMode
	Limits  FramerLimits

	// StartupDelay is enforced by the Client before the first request.
	StartupDelay time.Duration
	// GracePeriod bounds how long Close waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration
	// StderrCapture bounds the stderr prefix kept for diagnostics.
	StderrCapture int
	// OnStderr, if set, receives every stderr line.
	OnStderr func(line string)

	Logger *slog.Logger
}

// CommandLine renders the command and arguments for messages.
func (c StdioConfig) CommandLine() string {
	return strings.TrimSpace(c.Command + " " + strings.Join(c.Args, " "))
}

// StdioTransport implements Transport over a subprocess's stdin/stdout.
type StdioTransport struct {
	emitter

	cfg    StdioConfig
	logger *slog.Logger
	framer *Framer

	mu         sync.Mutex
	proc       *process.Process
	writer     *frameWriter
	closing    bool
	spawnError string

	wg sync.WaitGroup
}

// NewStdioTransport creates a new stdio transport. Nothing is spawned until Connect.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		emitter: newEmitter(),
		cfg:     cfg,
		logger:  logger.With("transport", "stdio"),
		framer:  NewFramer(cfg.Framing, cfg.Limits),
	}
}

// Connect spawns the subprocess and starts reading its stdout.
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closing || t.finished() {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.proc != nil {
		t.mu.Unlock()
		return errors.New("stdio transport already connected")
	}
	t.mu.Unlock()

	proc, err := process.Start(ctx, process.Spec{
		Command:       t.cfg.Command,
		Args:          t.cfg.Args,
		Env:           t.cfg.Env,
		Dir:           t.cfg.Dir,
		StderrCapture: t.cfg.StderrCapture,
		OnStderr:      t.cfg.OnStderr,
		Logger:        t.logger,
	})
	if err != nil {
		t.mu.Lock()
		t.spawnError = err.Error()
		t.mu.Unlock()
		t.finish(err)
		return &Error{
			Category:    CategoryConnectionRefused,
			Op:          "spawn",
			Message:     fmt.Sprintf("failed to start %s", t.cfg.CommandLine()),
			Diagnostics: t.Diagnostics().Explain(),
			Err:         err,
		}
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		_ = proc.Stop(t.cfg.GracePeriod)
		return ErrClosed
	}
	t.proc = proc
	t.writer = newFrameWriter(proc.Stdin())
	t.wg.Add(1)
	t.mu.Unlock()

	t.connected.Store(true)
	go t.readLoop(proc)

	t.logger.Debug("connected", "cmd", t.cfg.Command, "pid", proc.PID(), "framing", t.cfg.Framing)
	return nil
}

// Send frames and writes one envelope to the child's stdin. A write the
// child is not reading returns when ctx ends or the transport closes.
func (t *StdioTransport) Send(ctx context.Context, env *Envelope) error {
	t.mu.Lock()
	writer := t.writer
	closing := t.closing
	t.mu.Unlock()
	if closing || t.finished() {
		return ErrClosed
	}
	if writer == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := Encode(env)
	if err != nil {
		return err
	}
	t.logger.Debug("send", "payload", string(payload))

	return writer.write(ctx, t.Done(), EncodeFrame(t.cfg.Framing, payload))
}

// readLoop feeds stdout into the framer until EOF.
func (t *StdioTransport) readLoop(proc *process.Process) {
	defer t.wg.Done()

	alive, readErr := pumpFrames(&t.emitter, proc.Stdout(), t.framer, t.logger)
	if !alive {
		return
	}

	t.mu.Lock()
	closing := t.closing
	t.mu.Unlock()
	if closing {
		return
	}

	select {
	case <-proc.Done():
	case <-time.After(exitWaitLimit):
	}
	proc.WaitStderr(500 * time.Millisecond)

	msg := "server process exited"
	if !proc.Exited() {
		msg = "server closed stdout"
	}
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		msg = fmt.Sprintf("%s: %v", msg, readErr)
	}
	t.logger.Debug("stdout ended", "reason", msg)
	t.finish(&Error{
		Category:    CategoryConnectionLost,
		Op:          "read",
		Message:     msg,
		Diagnostics: t.Diagnostics().Explain(),
		Err:         io.ErrUnexpectedEOF,
	})
}

// Close stops the subprocess (SIGTERM, then SIGKILL after the grace period)
// and waits for the reader to exit.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	proc := t.proc
	t.mu.Unlock()

	t.finish(nil)

	var stopErr error
	if proc != nil {
		if err := proc.Stop(t.cfg.GracePeriod); err != nil {
			stopErr = &TransportError{Category: CategoryShutdownError, Err: err}
		}
		// Unblocks the reader if a grandchild still holds the pipe open.
		_ = proc.Stdout().Close()
	}
	t.wg.Wait()
	return stopErr
}

// Diagnostics snapshots what is known about the subprocess.
func (t *StdioTransport) Diagnostics() Diagnostics {
	t.mu.Lock()
	proc := t.proc
	d := Diagnostics{
		Command:    t.cfg.CommandLine(),
		SpawnError: t.spawnError,
	}
	t.mu.Unlock()

	if proc == nil {
		return d
	}
	d.Stderr = proc.Stderr()
	if status, ok := proc.ExitStatus(); ok {
		code := status.Code
		d.ExitCode = &code
		d.Signal = status.Signal
	}
	return d
}

// PID returns the child's process ID, or 0 before Connect.
func (t *StdioTransport) PID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.proc == nil {
		return 0
	}
	return t.proc.PID()
}
